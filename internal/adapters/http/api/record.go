package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/okian/sugang/internal/adapters/session"
	"github.com/okian/sugang/internal/domain/model"
)

// RecordDependencies defines the interface for per-actor record lookups.
type RecordDependencies interface {
	Leaderboard(ctx context.Context, actorID string) (model.LeaderboardRecord, error)
}

// RecordHandler handles per-actor leaderboard requests.
type RecordHandler struct {
	deps RecordDependencies
}

// NewRecordHandler creates a new record handler.
func NewRecordHandler(deps RecordDependencies) *RecordHandler {
	return &RecordHandler{deps: deps}
}

// HandleGetRecord handles GET /leaderboard/{actor_id} requests.
func (h *RecordHandler) HandleGetRecord(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_record"
	if !allow(w, r, http.MethodGet) {
		return
	}
	// Extract path parameter after /leaderboard/
	actorID := strings.TrimPrefix(r.URL.Path, "/leaderboard/")
	if actorID == "" || strings.Contains(actorID, "/") {
		writeError(w, r, NewKind(op, ErrBadRequest))
		return
	}
	if err := session.ValidateActorID(actorID); err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	rec, err := h.deps.Leaderboard(r.Context(), actorID)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}
