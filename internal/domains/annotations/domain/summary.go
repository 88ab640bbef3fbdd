package domain

import (
	"errors"
	"strings"
)

var (
	ErrEmptyHandle        = errors.New("subject handle is required")
	ErrInvalidWindow      = errors.New("window days must be greater than zero")
	ErrInvalidSampleLimit = errors.New("sample limit must be greater than zero")
)

// NormalizeHandle trims surrounding whitespace. Handles are otherwise
// opaque and case-preserving; two handles differing only in case are two
// subjects.
func NormalizeHandle(raw string) string {
	return strings.TrimSpace(raw)
}

// CategoryCount is one remark category aggregate as the remote computed
// it. Truncated marks counts that hit the remote's sampling cap.
type CategoryCount struct {
	Name      string
	Count     int64
	Truncated bool
}

// RemarkSummary is the annotation payload for one subject: the remark
// categories observed over the lookback window, in the exact order the
// remote returned them. Summaries are immutable once produced; a refresh
// replaces the whole value. An empty Categories slice means the subject
// genuinely had no activity, which is a perfectly cacheable answer.
type RemarkSummary struct {
	Handle     string
	WindowDays int
	SampleSize int
	Categories []CategoryCount
}

// Clone returns a defensive copy so cached summaries cannot be mutated
// through shared slices.
func (s *RemarkSummary) Clone() *RemarkSummary {
	if s == nil {
		return nil
	}
	out := *s
	if s.Categories != nil {
		out.Categories = append([]CategoryCount{}, s.Categories...)
	}
	return &out
}

// FetchParams shape what the remote computes for every subject. Changing
// either field changes the identity of every cached summary, so the
// service clears the cache store when they move.
type FetchParams struct {
	WindowDays  int
	SampleLimit int
}

// Validate checks the invariants.
func (p FetchParams) Validate() error {
	if p.WindowDays <= 0 {
		return ErrInvalidWindow
	}
	if p.SampleLimit <= 0 {
		return ErrInvalidSampleLimit
	}
	return nil
}

// DefaultFetchParams mirrors the remote service defaults.
func DefaultFetchParams() FetchParams {
	return FetchParams{WindowDays: 90, SampleLimit: 200}
}
