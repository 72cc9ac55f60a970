package practicesim

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/sugang/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging sends log output to both stdout and a file.
// If logFile is empty, a timestamped filename is generated.
func SetupLogging(logFile string, verbose bool) (io.Closer, error) {
	if logFile == "" {
		logFile = "practice_sim_" + time.Now().Format("20060102_150405") + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	if err := logger.InitWithWriter(io.MultiWriter(os.Stdout, file), "text"); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		_ = logger.SetLevelString("debug")
	}
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return file, nil
}

// ShowHelp prints usage information for the practice simulator.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`Sugang Practice Simulator
=========================

Plays concurrent practice rounds against a running sugang service and
checks that the leaderboard reflects them. Clicks carry their own
latency_ms, so the service must run with SUGANG_ALLOW_CLIENT_LATENCY=true.

Usage:
  go run ./cmd/practice-sim [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -actors int
        Number of simulated students (default 200)
  -rounds int
        Practice rounds per student (default 3)
  -subject string
        Subject id to click on (default: first subject listed)
  -top int
        Number of leaderboard rows to fetch (default 20)
  -workers int
        Number of concurrent workers (default CPU cores * 2)
  -timeout duration
        HTTP request timeout (default 30s)
  -settle duration
        Wait before reading the leaderboard (default 2s)
  -output string
        Output file for played rounds (default: practice_rounds_TIMESTAMP.json)
  -log string
        Log file for simulation output (default: practice_sim_TIMESTAMP.log)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  go run ./cmd/practice-sim -actors 1000 -workers 32
  go run ./cmd/practice-sim -subject CS101 -rounds 5 -verbose
`)
}
