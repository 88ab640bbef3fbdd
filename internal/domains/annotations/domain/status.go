package domain

import "time"

// Phase names the lifecycle state of a subject's annotation as presented
// to collaborators.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseLoading  Phase = "loading"
	PhaseRetrying Phase = "retrying"
	PhaseReady    Phase = "ready"
	PhaseGivenUp  Phase = "given_up"
)

// SubjectStatus is a point-in-time view of one subject.
type SubjectStatus struct {
	Handle        string
	Phase         Phase
	Attempt       int
	NextTryAt     time.Time
	CooldownUntil time.Time
	RateLimitTip  string
	Summary       *RemarkSummary
}

// RateLimitStatus describes the shared pause plus current engine
// occupancy.
type RateLimitStatus struct {
	Paused          bool
	PausedUntil     time.Time
	Tip             string
	ActiveSubjects  int
	InFlightFetches int
}
