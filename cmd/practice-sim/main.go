package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/okian/sugang/internal/practicesim"
)

// Default configuration constants.
const (
	defaultActors      = 200
	defaultRounds      = 3
	defaultTopN        = 20
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		numActors  = flag.Int("actors", defaultActors, "Number of simulated students")
		rounds     = flag.Int("rounds", defaultRounds, "Practice rounds per student")
		subjects   = flag.String("subject", "", "Comma separated subject ids to click (default: listed subjects)")
		topN       = flag.Int("top", defaultTopN, "Number of leaderboard rows to fetch")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle     = flag.Duration("settle", practicesim.DefaultSettleDelay, "Wait before reading the leaderboard")
		outputFile = flag.String("output", "", "Output file for played rounds (default: practice_rounds_TIMESTAMP.json)")
		logFile    = flag.String("log", "", "Log file for simulation output (default: practice_sim_TIMESTAMP.log)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		practicesim.ShowHelp()
		return
	}

	config := &practicesim.Config{
		BaseURL:     strings.TrimRight(*baseURL, "/"),
		NumActors:   *numActors,
		Rounds:      *rounds,
		Subjects:    splitList(*subjects),
		TopN:        *topN,
		Workers:     *workers,
		Timeout:     *timeout,
		SettleDelay: *settle,
		OutputFile:  *outputFile,
		LogFile:     *logFile,
		Verbose:     *verbose,
	}

	if err := run(config); err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run(config *practicesim.Config) error {
	closer, err := practicesim.SetupLogging(config.LogFile, config.Verbose)
	if err != nil {
		return errors.Join(errors.New("failed to setup logging"), err)
	}
	defer func() { _ = closer.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	if err := practicesim.Run(ctx, config); err != nil {
		return errors.Join(errors.New("simulation failed"), err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
