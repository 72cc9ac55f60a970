package practicesim

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/sugang/pkg/logger"
)

// PlayRounds plays every round. Rounds of one actor run in order on a single
// worker since an actor holds at most one session at a time.
func PlayRounds(ctx context.Context, config *Config, client *HTTPClient, rounds []Round, stats *Stats) error {
	log := logger.Get().Named("practicesim")
	byActor := groupByActor(rounds)
	log.Info(ctx, "playing practice rounds",
		logger.Int("rounds", len(rounds)),
		logger.Int("actors", len(byActor)),
		logger.Int("workers", config.Workers))

	var (
		played   int64
		failed   int64
		accepted int64
		rejected int64
		lastTick atomic.Int64
	)

	work := make(chan []int, config.Workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup
	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for indices := range work {
				for _, idx := range indices {
					if ctx.Err() != nil {
						return
					}
					ok, rej, err := playRound(ctx, client, &rounds[idx])
					atomic.AddInt64(&accepted, int64(ok))
					atomic.AddInt64(&rejected, int64(rej))
					if err != nil {
						atomic.AddInt64(&failed, 1)
						log.Debug(ctx, "round failed", logger.Actor(rounds[idx].ActorID), logger.Error(err))
						continue
					}
					atomic.AddInt64(&played, 1)
				}

				now := time.Now().UnixNano()
				if last := lastTick.Load(); now-last >= int64(progressInterval) && lastTick.CompareAndSwap(last, now) {
					log.Info(ctx, "progress",
						logger.Int64("played", atomic.LoadInt64(&played)),
						logger.Int64("failed", atomic.LoadInt64(&failed)),
						logger.Int("total", len(rounds)))
				}
			}
		}()
	}

	go func() {
		defer close(work)
		for _, indices := range byActor {
			select {
			case <-ctx.Done():
				return
			case work <- indices:
			}
		}
	}()
	wg.Wait()

	stats.RoundsPlayed = int(played)
	stats.RoundsFailed = int(failed)
	stats.AttemptsAccepted = int(accepted)
	stats.AttemptsRejected = int(rejected)

	log.Info(ctx, "round playback completed",
		logger.Int("played", stats.RoundsPlayed),
		logger.Int("failed", stats.RoundsFailed),
		logger.Int("accepted", stats.AttemptsAccepted),
		logger.Int("rejected", stats.AttemptsRejected))
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("playback interrupted: %w", err)
	}
	return nil
}

// playRound runs start, the clicks in order, then end. Clicks stop at the
// first one the service does not record so seq numbers stay aligned.
func playRound(ctx context.Context, client *HTTPClient, round *Round) (accepted, rejected int, err error) {
	var sess SessionResponse
	if err := client.Post(ctx, "/practice/start", round.ActorID, nil, &sess); err != nil {
		return 0, 0, fmt.Errorf("start: %w", err)
	}
	round.SessionID = sess.SessionID

	for _, click := range round.Clicks {
		var res AttemptResponse
		if err := client.Post(ctx, "/practice/attempts", round.ActorID, click, &res); err != nil {
			return accepted, rejected, fmt.Errorf("attempt %s: %w", click.SubjectID, err)
		}
		if res.Status != "accepted" || res.Replayed {
			rejected++
			break
		}
		accepted++
		round.Recorded++
	}

	var end EndResponse
	if err := client.Post(ctx, "/practice/end", round.ActorID, nil, &end); err != nil {
		return accepted, rejected, fmt.Errorf("end: %w", err)
	}
	round.Ended = end.Attempts
	if end.Attempts != round.Recorded {
		return accepted, rejected, fmt.Errorf("session %s ended with %d attempts, recorded %d", sess.SessionID, end.Attempts, round.Recorded)
	}
	return accepted, rejected, nil
}

// groupByActor returns round indices per actor in first-seen actor order.
func groupByActor(rounds []Round) [][]int {
	pos := make(map[string]int)
	var groups [][]int
	for i, r := range rounds {
		g, ok := pos[r.ActorID]
		if !ok {
			g = len(groups)
			pos[r.ActorID] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups
}
