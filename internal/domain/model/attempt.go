package model

import "time"

// AttemptStatus describes how an attempt was resolved.
type AttemptStatus string

// Attempt statuses.
const (
	// StatusAccepted means the attempt was ranked.
	StatusAccepted AttemptStatus = "accepted"
	// StatusNotOpen means the click arrived before the window opened.
	StatusNotOpen AttemptStatus = "not_open"
)

// Attempt is one ranking evaluation inside a session, unique per
// (SessionID, SubjectID).
type Attempt struct {
	SessionID      string
	ActorID        string
	SubjectID      string
	Classification string

	// LatencyMs is signed; accepted attempts are always positive.
	LatencyMs  int64
	Rank       int
	Percentile float64
	Success    bool

	// Distribution parameters and competition size used for the evaluation.
	Scale       float64
	Shape       float64
	Competitors int
	Capacity    int

	// Seq is the 1-based order of the attempt inside its session.
	Seq       int
	CreatedAt time.Time
}

// CompetitionRatio is competitors per seat for the attempted subject.
func (a Attempt) CompetitionRatio() float64 {
	if a.Capacity <= 0 {
		return 0
	}
	return float64(a.Competitors) / float64(a.Capacity)
}

// EarlyClick is a non-attempt annotation for a click before the window opened.
type EarlyClick struct {
	SessionID string
	ActorID   string
	SubjectID string
	LatencyMs int64
	CreatedAt time.Time
}

// AttemptResult is what Attempt returns to callers.
type AttemptResult struct {
	Status AttemptStatus

	// Replayed is true when a stored outcome was returned instead of recomputed.
	Replayed bool

	// Recorded is true when an early click was persisted as an annotation.
	Recorded bool

	Attempt Attempt
}
