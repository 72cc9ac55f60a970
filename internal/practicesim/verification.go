package practicesim

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/okian/sugang/pkg/logger"
)

// FetchRecords reads the leaderboard record of every actor that recorded a click.
func FetchRecords(ctx context.Context, client *HTTPClient, best map[string]Best, stats *Stats) (map[string]Record, error) {
	records := make(map[string]Record, len(best))
	failed := 0
	for actorID := range best {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var rec Record
		if err := client.Get(ctx, "/leaderboard/"+url.PathEscape(actorID), "", &rec); err != nil {
			failed++
			logger.Get().Debug(ctx, "record lookup failed", logger.Actor(actorID), logger.Error(err))
			continue
		}
		records[actorID] = rec
	}
	stats.RecordsRetrieved = len(records)
	logger.Get().Info(ctx, "records retrieved", logger.Int("retrieved", len(records)), logger.Int("failed", failed))
	return records, nil
}

// FetchLeaderboard reads the top n rows for metric.
func FetchLeaderboard(ctx context.Context, client *HTTPClient, metric string, n int, stats *Stats) ([]Record, error) {
	q := url.Values{}
	q.Set("metric", metric)
	q.Set("limit", strconv.Itoa(n))
	var rows []Record
	if err := client.Get(ctx, "/leaderboard?"+q.Encode(), "", &rows); err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	stats.LeaderboardEntries = len(rows)
	return rows, nil
}

// VerifyRecords compares each stored record with the best clicks the actor
// sent. Actor ids are fresh per run so the values must match exactly.
func VerifyRecords(best map[string]Best, records map[string]Record) []string {
	var problems []string
	ids := make([]string, 0, len(best))
	for id := range best {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rec, ok := records[id]
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: no record", id))
			continue
		}
		want := best[id]
		if !sameLatency(want.First, rec.BestFirstLatencyMs) {
			problems = append(problems, fmt.Sprintf("%s: best first %s, want %s", id, fmtLatency(rec.BestFirstLatencyMs), fmtLatency(want.First)))
		}
		if !sameLatency(want.Second, rec.BestSecondLatencyMs) {
			problems = append(problems, fmt.Sprintf("%s: best second %s, want %s", id, fmtLatency(rec.BestSecondLatencyMs), fmtLatency(want.Second)))
		}
	}
	return problems
}

// VerifyLeaderboardOrder checks rows are ranked 1..n by ascending first latency.
func VerifyLeaderboardOrder(rows []Record) error {
	for i, row := range rows {
		if row.Rank != i+1 {
			return fmt.Errorf("row %d has rank %d", i, row.Rank)
		}
		if row.BestFirstLatencyMs == nil {
			return fmt.Errorf("row %d (%s) has no first latency", i, row.ActorID)
		}
		if i > 0 && *rows[i-1].BestFirstLatencyMs > *row.BestFirstLatencyMs {
			return fmt.Errorf("row %d (%s) is ahead of a faster row", i-1, rows[i-1].ActorID)
		}
	}
	return nil
}

func sameLatency(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func fmtLatency(v *int64) string {
	if v == nil {
		return "none"
	}
	return strconv.FormatInt(*v, 10) + "ms"
}
