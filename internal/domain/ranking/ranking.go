// Package ranking turns a click latency into a percentile, a rank among
// simulated competitors and a success decision.
package ranking

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/okian/sugang/internal/domain/model"
	"github.com/okian/sugang/pkg/logger"
	"github.com/okian/sugang/pkg/metrics"
)

// Mode selects how percentiles are computed.
type Mode string

// Modes.
const (
	ModeLogNormal Mode = "lognormal"
	ModeEmpirical Mode = "empirical"
)

// Default distribution and snapshot settings.
const (
	DefaultScale      = 5.0
	DefaultShape      = 0.5
	defaultMaxSamples = 100000
	neutralPercentile = 0.5
)

// Params describes a log-normal latency distribution. Scale is the mean of
// the underlying normal in log space, so the median latency is e^Scale ms.
type Params struct {
	Scale float64
	Shape float64
}

// DefaultParams is used when no classification-specific params exist.
var DefaultParams = Params{Scale: DefaultScale, Shape: DefaultShape}

// Percentile is the CDF of the distribution at latencyMs.
// Non-positive latencies map to 0.
func (p Params) Percentile(latencyMs int64) float64 {
	if latencyMs <= 0 {
		return 0
	}
	d := distuv.LogNormal{Mu: p.Scale, Sigma: p.Shape}
	return clamp01(d.CDF(float64(latencyMs)))
}

// Rank places a percentile among totalCompetitors, floored at 1.
func Rank(percentile float64, totalCompetitors int) (int, error) {
	if totalCompetitors <= 0 {
		return 0, model.NewInvalidInput("total competitors must be positive, got %d", totalCompetitors)
	}
	r := int(math.Ceil(clamp01(percentile) * float64(totalCompetitors)))
	if r < 1 {
		r = 1
	}
	return r, nil
}

// IsSuccessful reports whether rank falls inside capacity.
func IsSuccessful(rank, capacity int) bool {
	return rank <= capacity
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Outcome is the result of evaluating one attempt.
type Outcome struct {
	Params     Params
	Percentile float64
	Rank       int
	Success    bool
}

// LatencySource yields historical latencies for the empirical snapshot.
type LatencySource interface {
	HistoricalLatencies(ctx context.Context, limit int) ([]int64, error)
}

// Snapshot is an immutable sorted set of observed latencies.
type Snapshot struct {
	latencies []int64
	builtAt   time.Time
}

// NewSnapshot sorts a copy of latencies.
func NewSnapshot(latencies []int64, builtAt time.Time) *Snapshot {
	sorted := make([]int64, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return &Snapshot{latencies: sorted, builtAt: builtAt}
}

// Len returns the number of samples.
func (s *Snapshot) Len() int { return len(s.latencies) }

// BuiltAt returns when the snapshot was built.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Percentile is the insertion point of latencyMs divided by the sample count.
func (s *Snapshot) Percentile(latencyMs int64) float64 {
	n := len(s.latencies)
	if n == 0 {
		return neutralPercentile
	}
	i := sort.Search(n, func(i int) bool { return s.latencies[i] >= latencyMs })
	return float64(i) / float64(n)
}

// Model holds the distribution table and the current empirical snapshot.
// Readers never block on Refresh.
type Model struct {
	mode       Mode
	defaults   Params
	byClass    map[string]Params
	source     LatencySource
	maxSamples int
	clock      model.TimeSource
	log        logger.Logger

	snapshot atomic.Pointer[Snapshot]
}

// New creates a Model.
func New(opts ...Option) *Model {
	m := &Model{
		mode:       ModeLogNormal,
		defaults:   DefaultParams,
		byClass:    make(map[string]Params),
		maxSamples: defaultMaxSamples,
		clock:      model.SystemClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.Get().Named("ranking")
	}
	m.snapshot.Store(NewSnapshot(nil, model.Time(m.clock)))
	return m
}

// Mode returns the configured percentile mode.
func (m *Model) Mode() Mode { return m.mode }

// ParamsFor returns the distribution for a classification, falling back to
// the default.
func (m *Model) ParamsFor(classification string) Params {
	if p, ok := m.byClass[classification]; ok {
		return p
	}
	return m.defaults
}

// EmpiricalPercentile ranks latencyMs against the current snapshot.
func (m *Model) EmpiricalPercentile(latencyMs int64) float64 {
	return m.snapshot.Load().Percentile(latencyMs)
}

// Snapshot returns the current snapshot.
func (m *Model) Snapshot() *Snapshot { return m.snapshot.Load() }

// Refresh rebuilds the snapshot from the latency source and swaps it in.
func (m *Model) Refresh(ctx context.Context) (int, error) {
	if m.source == nil {
		return 0, nil
	}
	start := time.Now()
	latencies, err := m.source.HistoricalLatencies(ctx, m.maxSamples)
	if err != nil {
		metrics.RecordSnapshotRefreshError()
		return 0, fmt.Errorf("load historical latencies: %w", err)
	}
	snap := NewSnapshot(latencies, model.Time(m.clock))
	m.snapshot.Store(snap)

	metrics.RecordSnapshotRefresh(snap.Len(), float64(time.Since(start).Microseconds())/1000)
	m.log.Debug(ctx, "ranking snapshot refreshed", logger.Int("samples", snap.Len()))
	return snap.Len(), nil
}

// Evaluate computes percentile, rank and success for one attempt in the
// configured mode.
func (m *Model) Evaluate(p Params, latencyMs int64, competitors, capacity int) (Outcome, error) {
	if capacity <= 0 {
		return Outcome{}, model.NewInvalidInput("capacity must be positive, got %d", capacity)
	}
	var pct float64
	switch m.mode {
	case ModeEmpirical:
		if latencyMs <= 0 {
			pct = 0
		} else {
			pct = m.EmpiricalPercentile(latencyMs)
		}
	default:
		pct = p.Percentile(latencyMs)
	}
	rank, err := Rank(pct, competitors)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Params:     p,
		Percentile: pct,
		Rank:       rank,
		Success:    IsSuccessful(rank, capacity),
	}, nil
}
