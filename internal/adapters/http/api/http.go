// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/okian/sugang/internal/adapters/session"
	"github.com/okian/sugang/internal/domain/model"
	"github.com/okian/sugang/pkg/logger"
)

// ActorHeader carries the caller's actor id.
const ActorHeader = "X-Actor-ID"

const defaultMaxLimit = 100

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	PracticeDependencies
	LeaderboardDependencies
	RecordDependencies
	SubjectDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	practiceHandler    *PracticeHandler
	leaderboardHandler *LeaderboardHandler
	recordHandler      *RecordHandler
	subjectsHandler    *SubjectsHandler
}

type serverOptions struct {
	clientLatency bool
}

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

// WithClientLatency accepts caller-supplied latency_ms on attempts.
func WithClientLatency(allow bool) ServerOption {
	return func(o *serverOptions) { o.clientLatency = allow }
}

// NewServer creates a new API server with all handlers. A maxLimit below
// one uses the default.
func NewServer(deps Dependencies, statsProvider StatsProvider, maxLimit int, opts ...ServerOption) *Server {
	if maxLimit < 1 {
		maxLimit = defaultMaxLimit
	}
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		practiceHandler:    NewPracticeHandler(deps, o.clientLatency),
		leaderboardHandler: NewLeaderboardHandler(deps, maxLimit),
		recordHandler:      NewRecordHandler(deps),
		subjectsHandler:    NewSubjectsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("/practice/start", MetricsMiddleware(s.practiceHandler.HandleStart, "practice_start"))
	mux.HandleFunc("/practice/attempts", MetricsMiddleware(s.practiceHandler.HandleAttempt, "practice_attempt"))
	mux.HandleFunc("/practice/end", MetricsMiddleware(s.practiceHandler.HandleEnd, "practice_end"))
	mux.HandleFunc("/practice/status", MetricsMiddleware(s.practiceHandler.HandleStatus, "practice_status"))

	mux.HandleFunc("/leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("/leaderboard/", MetricsMiddleware(s.recordHandler.HandleGetRecord, "leaderboard_record"))
	mux.HandleFunc("/subjects", MetricsMiddleware(s.subjectsHandler.HandleListSubjects, "subjects"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError derives the status and code from err. Server errors are
// logged; their message is not echoed to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Get().Named("api").Error(r.Context(), "request failed",
			logger.String("path", r.URL.Path), logger.Error(err))
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// actorFrom reads and validates the actor header.
func actorFrom(r *http.Request) (string, error) {
	actorID := strings.TrimSpace(r.Header.Get(ActorHeader))
	if actorID == "" {
		return "", ErrMissingActor
	}
	if err := session.ValidateActorID(actorID); err != nil {
		return "", err
	}
	return actorID, nil
}

// allow rejects requests whose method is not m.
func allow(w http.ResponseWriter, r *http.Request, m string) bool {
	if r.Method == m {
		return true
	}
	w.Header().Set("Allow", m)
	writeError(w, r, NewKind("api", ErrMethodInvalid))
	return false
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(ErrBadRequest, err)
	}
	return nil
}

type sessionResponse struct {
	ActorID        string `json:"actor_id"`
	SessionID      string `json:"session_id"`
	StartTimeMs    int64  `json:"start_time_ms"`
	TargetOffsetMs int64  `json:"target_offset_ms"`
	TargetTimeMs   int64  `json:"target_time_ms"`
}

func toSessionResponse(s model.Session) sessionResponse {
	return sessionResponse{
		ActorID:        s.ActorID,
		SessionID:      s.SessionID,
		StartTimeMs:    s.StartTimeMs,
		TargetOffsetMs: s.StartToTargetOffsetMs,
		TargetTimeMs:   s.TargetTimeMs(),
	}
}
