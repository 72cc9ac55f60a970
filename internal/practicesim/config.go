package practicesim

import "time"

// Config holds configuration for a simulation run
type Config struct {
	BaseURL     string        // Base URL of the service
	NumActors   int           // Number of simulated students
	Rounds      int           // Practice rounds per student
	Subjects    []string      // Subjects to click in order; empty uses the listed ones
	TopN        int           // Number of leaderboard rows to fetch
	Workers     int           // Number of concurrent workers
	Timeout     time.Duration // HTTP request timeout
	SettleDelay time.Duration // Wait before reading the leaderboard
	OutputFile  string        // Output file for played rounds
	LogFile     string        // Log file for simulation output
	Verbose     bool          // Enable verbose logging
}

// Click is one attempt on a subject.
type Click struct {
	SubjectID string `json:"subject_id"`
	LatencyMs int64  `json:"latency_ms"`
}

// Round is one start/attempt/end cycle a student plays. Clicks are sent in
// order so the first click becomes seq 1.
type Round struct {
	ActorID   string  `json:"actor_id"`
	Clicks    []Click `json:"clicks"`
	SessionID string  `json:"session_id,omitempty"`
	Recorded  int     `json:"recorded"`
	Ended     int     `json:"ended_attempts"`
}

// Subject mirrors an entry of GET /subjects.
type Subject struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Classification string `json:"classification"`
	Capacity       int    `json:"capacity"`
	Competitors    int    `json:"competitors"`
}

// SessionResponse mirrors the body of POST /practice/start.
type SessionResponse struct {
	ActorID        string `json:"actor_id"`
	SessionID      string `json:"session_id"`
	StartTimeMs    int64  `json:"start_time_ms"`
	TargetOffsetMs int64  `json:"target_offset_ms"`
	TargetTimeMs   int64  `json:"target_time_ms"`
}

// AttemptResponse mirrors the body of POST /practice/attempts.
type AttemptResponse struct {
	Status   string `json:"status"`
	Replayed bool   `json:"replayed"`
	Recorded bool   `json:"recorded"`
}

// EndResponse mirrors the body of POST /practice/end.
type EndResponse struct {
	SessionResponse
	Attempts int `json:"attempts"`
}

// Record mirrors a leaderboard row.
type Record struct {
	Rank                int      `json:"rank,omitempty"`
	ActorID             string   `json:"actor_id"`
	BestFirstLatencyMs  *int64   `json:"best_first_latency_ms"`
	BestSecondLatencyMs *int64   `json:"best_second_latency_ms"`
	BestSuccessRatio    *float64 `json:"best_success_ratio"`
}

// Stats holds simulation statistics
type Stats struct {
	RoundsPlanned      int
	RoundsPlayed       int
	RoundsFailed       int
	AttemptsAccepted   int
	AttemptsRejected   int
	RecordsRetrieved   int
	RecordMismatches   int
	LeaderboardEntries int
	StartTime          time.Time
	EndTime            time.Time
	Duration           time.Duration
}
