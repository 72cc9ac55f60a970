package practicesim

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/sugang/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	outputPermission    = 0600
)

// Run executes the complete simulation.
func Run(ctx context.Context, config *Config) error {
	stats := &Stats{
		StartTime: time.Now(),
	}
	log := logger.Get().Named("practicesim")

	log.Info(ctx, "starting practice simulation",
		logger.String("baseURL", config.BaseURL),
		logger.Int("actors", config.NumActors),
		logger.Int("rounds", config.Rounds),
		logger.Int("workers", config.Workers),
		logger.Duration("timeout", config.Timeout),
		logger.Int("topN", config.TopN))

	client := NewHTTPClient(config.BaseURL, config.Timeout)

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, client); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Pick subjects
	subjects, err := resolveSubjects(ctx, client, config.Subjects)
	if err != nil {
		return fmt.Errorf("subject lookup failed: %w", err)
	}

	// Step 3: Plan rounds
	rounds, err := GenerateRounds(ctx, config, subjects, stats)
	if err != nil {
		return fmt.Errorf("round generation failed: %w", err)
	}

	// Step 4: Play rounds concurrently
	if err := PlayRounds(ctx, config, client, rounds, stats); err != nil {
		return fmt.Errorf("round playback failed: %w", err)
	}

	// Step 5: Let queued reconciles settle
	if config.SettleDelay > 0 {
		log.Info(ctx, "waiting for sessions to settle", logger.Duration("delay", config.SettleDelay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(config.SettleDelay):
		}
	}

	// Step 6: Verify per-actor records
	best := BestLatencies(rounds)
	records, err := FetchRecords(ctx, client, best, stats)
	if err != nil {
		return fmt.Errorf("record retrieval failed: %w", err)
	}
	problems := VerifyRecords(best, records)
	stats.RecordMismatches = len(problems)
	for i, p := range problems {
		if i >= config.TopN && !config.Verbose {
			log.Warn(ctx, "more record mismatches omitted", logger.Int("omitted", len(problems)-i))
			break
		}
		log.Warn(ctx, "record mismatch", logger.String("detail", p))
	}

	// Step 7: Check leaderboard ordering
	rows, err := FetchLeaderboard(ctx, client, "first", config.TopN, stats)
	if err != nil {
		return fmt.Errorf("leaderboard retrieval failed: %w", err)
	}
	if err := VerifyLeaderboardOrder(rows); err != nil {
		log.Warn(ctx, "leaderboard order check failed", logger.Error(err))
		stats.RecordMismatches++
	}

	// Step 8: Save rounds to file
	if err := saveRoundsToFile(ctx, config, rounds); err != nil {
		log.Warn(ctx, "failed to save rounds to file", logger.Error(err))
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)

	if stats.RecordMismatches > 0 {
		return fmt.Errorf("%d verification problems", stats.RecordMismatches)
	}
	log.Info(ctx, "simulation completed successfully")
	return nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, client *HTTPClient) error {
	var stats map[string]interface{}
	if err := client.Get(ctx, "/stats", "", &stats); err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	if started, _ := stats["started"].(bool); !started {
		return fmt.Errorf("service reports it is not started")
	}
	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// resolveSubjects returns the requested subjects, or the catalog's in listed order.
func resolveSubjects(ctx context.Context, client *HTTPClient, requested []string) ([]string, error) {
	if len(requested) > 0 {
		return requested, nil
	}
	var listed []Subject
	if err := client.Get(ctx, "/subjects", "", &listed); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(listed))
	for _, s := range listed {
		ids = append(ids, s.ID)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("service has no subjects")
	}
	return ids, nil
}

// saveRoundsToFile saves the played rounds to a JSON file.
func saveRoundsToFile(ctx context.Context, config *Config, rounds []Round) error {
	if len(rounds) == 0 {
		return fmt.Errorf("no rounds to save")
	}

	filename := config.OutputFile
	if filename == "" {
		filename = "practice_rounds_" + time.Now().Format("20060102_150405") + ".json"
	}

	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(rounds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal rounds: %w", err)
	}
	if err := os.WriteFile(filename, data, outputPermission); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	logger.Get().Info(ctx, "rounds saved to file", logger.String("filename", filename))
	return nil
}

// displayFinalStats logs the final simulation statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var successRate, roundsPerSecond float64

	if stats.RoundsPlanned > 0 {
		successRate = float64(stats.RoundsPlayed) / float64(stats.RoundsPlanned) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		roundsPerSecond = float64(stats.RoundsPlayed) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("roundsPlanned", stats.RoundsPlanned),
		logger.Int("roundsPlayed", stats.RoundsPlayed),
		logger.Int("roundsFailed", stats.RoundsFailed),
		logger.Int("attemptsAccepted", stats.AttemptsAccepted),
		logger.Int("attemptsRejected", stats.AttemptsRejected),
		logger.Int("recordsRetrieved", stats.RecordsRetrieved),
		logger.Int("recordMismatches", stats.RecordMismatches),
		logger.Int("leaderboardEntries", stats.LeaderboardEntries),
		logger.Duration("duration", stats.Duration),
		logger.Float64("successRate", successRate),
		logger.Float64("roundsPerSecond", roundsPerSecond))
}
