package practicesim

import "time"

// Worker configuration constants.
const (
	WorkerChannelMultiplier = 2
)

// Runner configuration constants.
const (
	DefaultSettleDelay   = 2 * time.Second
	PercentageMultiplier = 100
	progressInterval     = time.Second
)

// Latency sampling bounds in milliseconds.
const (
	minLatencyMs = 1
	maxLatencyMs = 60_000
)
