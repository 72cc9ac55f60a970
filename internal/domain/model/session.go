// Package model contains domain models passed between layers.
package model

import "time"

// Session is one timed practice round. It is immutable once created.
type Session struct {
	ActorID   string
	SessionID string

	// StartTimeMs is the wall-clock millisecond the round began.
	StartTimeMs int64

	// StartToTargetOffsetMs is the virtual delay until the enrollment window opens.
	StartToTargetOffsetMs int64
}

// TargetTimeMs is the wall-clock millisecond the simulated window opens.
func (s Session) TargetTimeMs() int64 {
	return s.StartTimeMs + s.StartToTargetOffsetMs
}

// LatencyAt returns the signed latency of an arrival at nowMs relative to
// the window opening; negative means the click came too early.
func (s Session) LatencyAt(nowMs int64) int64 {
	return nowMs - s.TargetTimeMs()
}

// SessionStatus is a read-only view of an active session.
type SessionStatus struct {
	Session      Session
	RemainingTTL time.Duration
	Attempts     int
}

// Expiry identifies a session whose TTL lapsed in the ephemeral store.
type Expiry struct {
	ActorID   string
	SessionID string
}
