package model

import (
	"sync/atomic"
	"time"
)

// TimeSource yields the current wall-clock time in milliseconds.
type TimeSource interface {
	NowMillis() int64
}

// SystemClock reads time.Now.
type SystemClock struct{}

// NowMillis implements TimeSource.
func (SystemClock) NowMillis() int64 { return time.Now().UnixMilli() }

// ManualClock is a TimeSource moved explicitly, for deterministic tests and simulations.
type ManualClock struct {
	ms atomic.Int64
}

// NewManualClock returns a clock set to startMs.
func NewManualClock(startMs int64) *ManualClock {
	c := &ManualClock{}
	c.ms.Store(startMs)
	return c
}

// NowMillis implements TimeSource.
func (c *ManualClock) NowMillis() int64 { return c.ms.Load() }

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) { c.ms.Add(d.Milliseconds()) }

// Set moves the clock to ms.
func (c *ManualClock) Set(ms int64) { c.ms.Store(ms) }

// Time converts a TimeSource reading to a UTC time.Time.
func Time(ts TimeSource) time.Time {
	return time.UnixMilli(ts.NowMillis()).UTC()
}
