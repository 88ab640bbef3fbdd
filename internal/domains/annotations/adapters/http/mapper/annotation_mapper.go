package mapper

import (
	"time"

	"github.com/Apurer/go-annotation-service/internal/domains/annotations/domain"
)

// CategoryCount is the HTTP representation of one remark category.
type CategoryCount struct {
	Name      string `json:"name"`
	Count     int64  `json:"count"`
	Truncated bool   `json:"truncated,omitempty"`
}

// RemarkSummary is the HTTP representation of a resolved annotation.
type RemarkSummary struct {
	Handle     string          `json:"handle"`
	WindowDays int             `json:"windowDays"`
	SampleSize int             `json:"sampleSize"`
	Categories []CategoryCount `json:"categories"`
}

// SubjectStatus is the HTTP representation of a subject's lifecycle state.
type SubjectStatus struct {
	Handle        string         `json:"handle"`
	Phase         string         `json:"phase"`
	Attempt       int            `json:"attempt,omitempty"`
	NextTryAt     *time.Time     `json:"nextTryAt,omitempty"`
	CooldownUntil *time.Time     `json:"cooldownUntil,omitempty"`
	RateLimitTip  string         `json:"rateLimitTip,omitempty"`
	Summary       *RemarkSummary `json:"summary,omitempty"`
}

// RateLimitStatus is the HTTP representation of the shared pause.
type RateLimitStatus struct {
	Paused          bool       `json:"paused"`
	PausedUntil     *time.Time `json:"pausedUntil,omitempty"`
	Tip             string     `json:"tip,omitempty"`
	ActiveSubjects  int        `json:"activeSubjects"`
	InFlightFetches int        `json:"inFlightFetches"`
}

// FetchSettings is the HTTP representation of the applied fetch
// parameters.
type FetchSettings struct {
	WindowDays  int `json:"windowDays"`
	SampleLimit int `json:"sampleLimit"`
}

// MutationSettings captures inbound settings updates while preserving
// field presence; absent fields keep their current values.
type MutationSettings struct {
	WindowDays  *int `json:"windowDays,omitempty"`
	SampleLimit *int `json:"sampleLimit,omitempty"`
}

// FromDomainSummary maps a domain summary into its transport shape.
func FromDomainSummary(s *domain.RemarkSummary) *RemarkSummary {
	if s == nil {
		return nil
	}
	categories := make([]CategoryCount, 0, len(s.Categories))
	for _, c := range s.Categories {
		categories = append(categories, CategoryCount{Name: c.Name, Count: c.Count, Truncated: c.Truncated})
	}
	return &RemarkSummary{
		Handle:     s.Handle,
		WindowDays: s.WindowDays,
		SampleSize: s.SampleSize,
		Categories: categories,
	}
}

// FromSubjectStatus maps a domain status into its transport shape.
func FromSubjectStatus(status domain.SubjectStatus) SubjectStatus {
	return SubjectStatus{
		Handle:        status.Handle,
		Phase:         string(status.Phase),
		Attempt:       status.Attempt,
		NextTryAt:     timePtr(status.NextTryAt),
		CooldownUntil: timePtr(status.CooldownUntil),
		RateLimitTip:  status.RateLimitTip,
		Summary:       FromDomainSummary(status.Summary),
	}
}

// FromRateLimitStatus maps the pause description into its transport
// shape.
func FromRateLimitStatus(status domain.RateLimitStatus) RateLimitStatus {
	return RateLimitStatus{
		Paused:          status.Paused,
		PausedUntil:     timePtr(status.PausedUntil),
		Tip:             status.Tip,
		ActiveSubjects:  status.ActiveSubjects,
		InFlightFetches: status.InFlightFetches,
	}
}

// FromFetchParams maps the applied parameters into their transport shape.
func FromFetchParams(params domain.FetchParams) FetchSettings {
	return FetchSettings{WindowDays: params.WindowDays, SampleLimit: params.SampleLimit}
}

// ToFetchParams merges a settings mutation over the current parameters.
func ToFetchParams(current domain.FetchParams, payload MutationSettings) domain.FetchParams {
	params := current
	if payload.WindowDays != nil {
		params.WindowDays = *payload.WindowDays
	}
	if payload.SampleLimit != nil {
		params.SampleLimit = *payload.SampleLimit
	}
	return params
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	value := t
	return &value
}
