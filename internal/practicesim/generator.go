package practicesim

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/okian/sugang/internal/domain/ranking"
	"github.com/okian/sugang/pkg/logger"
)

// attemptsPerRound is one first click and one retry.
const attemptsPerRound = 2

// latencySampler draws click latencies from the same log-normal family the
// service ranks against, so simulated students land across the whole curve.
type latencySampler struct {
	dist distuv.LogNormal
}

func newLatencySampler(p ranking.Params) *latencySampler {
	return &latencySampler{dist: distuv.LogNormal{Mu: p.Scale, Sigma: p.Shape}}
}

func (s *latencySampler) sample() int64 {
	v := int64(math.Round(s.dist.Rand()))
	switch {
	case v < minLatencyMs:
		return minLatencyMs
	case v > maxLatencyMs:
		return maxLatencyMs
	}
	return v
}

// GenerateRounds plans Rounds rounds for NumActors fresh students. Each
// round clicks the first attemptsPerRound subjects once.
func GenerateRounds(ctx context.Context, config *Config, subjects []string, stats *Stats) ([]Round, error) {
	if config.NumActors <= 0 || config.Rounds <= 0 {
		return nil, fmt.Errorf("actors and rounds must be positive, got %d and %d", config.NumActors, config.Rounds)
	}
	if len(subjects) == 0 {
		return nil, fmt.Errorf("at least one subject is required")
	}
	if len(subjects) > attemptsPerRound {
		subjects = subjects[:attemptsPerRound]
	}

	sampler := newLatencySampler(ranking.DefaultParams)
	rounds := make([]Round, 0, config.NumActors*config.Rounds)
	for i := 0; i < config.NumActors; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during round generation: %w", err)
		}
		actorID := "sim-" + uuid.NewString()
		for r := 0; r < config.Rounds; r++ {
			clicks := make([]Click, len(subjects))
			for k, id := range subjects {
				clicks[k] = Click{SubjectID: id, LatencyMs: sampler.sample()}
			}
			rounds = append(rounds, Round{ActorID: actorID, Clicks: clicks})
		}
	}

	stats.RoundsPlanned = len(rounds)
	logger.Get().Info(ctx, "generated practice rounds",
		logger.Int("actors", config.NumActors),
		logger.Int("rounds", len(rounds)),
		logger.Any("subjects", subjects))
	return rounds, nil
}

// Best is the lowest recorded first and second click of one actor.
type Best struct {
	First  *int64
	Second *int64
}

// BestLatencies folds the recorded clicks of every round per actor. Actors
// with nothing recorded are left out.
func BestLatencies(rounds []Round) map[string]Best {
	best := make(map[string]Best)
	for _, r := range rounds {
		if r.Recorded == 0 {
			continue
		}
		cur := best[r.ActorID]
		if r.Recorded >= 1 && len(r.Clicks) >= 1 {
			cur.First = lower(cur.First, r.Clicks[0].LatencyMs)
		}
		if r.Recorded >= 2 && len(r.Clicks) >= 2 {
			cur.Second = lower(cur.Second, r.Clicks[1].LatencyMs)
		}
		best[r.ActorID] = cur
	}
	return best
}

func lower(cur *int64, v int64) *int64 {
	if cur != nil && *cur <= v {
		return cur
	}
	return &v
}
