package model

import "time"

// LeaderboardRecord holds an actor's best-ever metrics. A nil field has
// never been observed.
type LeaderboardRecord struct {
	ActorID string

	// BestFirstLatencyMs is the lowest latency of a session's first attempt.
	BestFirstLatencyMs *int64

	// BestSecondLatencyMs is the lowest latency of a session's second attempt.
	BestSecondLatencyMs *int64

	// BestSuccessRatio is the highest competitors/capacity ratio won.
	BestSuccessRatio *float64

	UpdatedAt time.Time
}

// LeaderboardMetric selects the column a leaderboard is ordered by.
type LeaderboardMetric string

// Leaderboard metrics.
const (
	MetricFirstLatency  LeaderboardMetric = "first"
	MetricSecondLatency LeaderboardMetric = "second"
	MetricSuccessRatio  LeaderboardMetric = "ratio"
)

// ParseLeaderboardMetric validates a metric name.
func ParseLeaderboardMetric(s string) (LeaderboardMetric, bool) {
	switch m := LeaderboardMetric(s); m {
	case MetricFirstLatency, MetricSecondLatency, MetricSuccessRatio:
		return m, true
	default:
		return "", false
	}
}
