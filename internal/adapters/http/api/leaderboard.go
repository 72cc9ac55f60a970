package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/sugang/internal/domain/model"
)

// LeaderboardDependencies defines the interface for leaderboard listings.
type LeaderboardDependencies interface {
	TopLeaderboard(ctx context.Context, metric model.LeaderboardMetric, n int) ([]model.LeaderboardRecord, error)
}

// LeaderboardHandler handles leaderboard requests.
type LeaderboardHandler struct {
	deps     LeaderboardDependencies
	maxLimit int
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps LeaderboardDependencies, maxLimit int) *LeaderboardHandler {
	return &LeaderboardHandler{
		deps:     deps,
		maxLimit: maxLimit,
	}
}

type recordResponse struct {
	ActorID             string    `json:"actor_id"`
	BestFirstLatencyMs  *int64    `json:"best_first_latency_ms"`
	BestSecondLatencyMs *int64    `json:"best_second_latency_ms"`
	BestSuccessRatio    *float64  `json:"best_success_ratio"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type rankedRecord struct {
	Rank int `json:"rank"`
	recordResponse
}

func toRecordResponse(rec model.LeaderboardRecord) recordResponse {
	return recordResponse{
		ActorID:             rec.ActorID,
		BestFirstLatencyMs:  rec.BestFirstLatencyMs,
		BestSecondLatencyMs: rec.BestSecondLatencyMs,
		BestSuccessRatio:    rec.BestSuccessRatio,
		UpdatedAt:           rec.UpdatedAt,
	}
}

// HandleGetLeaderboard handles GET /leaderboard?metric=first|second|ratio&limit=N.
// The metric defaults to first and the limit to 10.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_leaderboard"
	if !allow(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()

	metric := model.MetricFirstLatency
	if raw := q.Get("metric"); raw != "" {
		m, ok := model.ParseLeaderboardMetric(raw)
		if !ok {
			writeError(w, r, WrapKind(op, model.ErrInvalidInput, model.NewInvalidInput("unknown metric %q", raw)))
			return
		}
		metric = m
	}

	n := 10
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeError(w, r, NewKind(op, ErrBadRequest))
			return
		}
		n = v
	}
	if n > h.maxLimit {
		writeError(w, r, WrapKind(op, ErrBadRequest, model.NewInvalidInput("limit exceeds %d", h.maxLimit)))
		return
	}

	records, err := h.deps.TopLeaderboard(r.Context(), metric, n)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	out := make([]rankedRecord, len(records))
	for i, rec := range records {
		out[i] = rankedRecord{Rank: i + 1, recordResponse: toRecordResponse(rec)}
	}
	writeJSON(w, http.StatusOK, out)
}
