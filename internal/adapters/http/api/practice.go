package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/okian/sugang/internal/domain/model"
)

// PracticeDependencies drives the session lifecycle.
type PracticeDependencies interface {
	StartSession(ctx context.Context, actorID string) (model.Session, error)
	Attempt(ctx context.Context, actorID, subjectID string, latencyMs *int64) (model.AttemptResult, error)
	EndSession(ctx context.Context, actorID string) (int, error)
	Status(ctx context.Context, actorID string) (model.SessionStatus, error)
}

// PracticeHandler handles /practice/* requests.
type PracticeHandler struct {
	deps          PracticeDependencies
	clientLatency bool
}

// NewPracticeHandler creates a new practice handler. Unless clientLatency is
// set, attempts carrying latency_ms are rejected.
func NewPracticeHandler(deps PracticeDependencies, clientLatency bool) *PracticeHandler {
	return &PracticeHandler{deps: deps, clientLatency: clientLatency}
}

// attemptRequest is the body of POST /practice/attempts. Without latency_ms
// the server measures it against the session's target time.
type attemptRequest struct {
	SubjectID string `json:"subject_id"`
	LatencyMs *int64 `json:"latency_ms,omitempty"`
}

type attemptView struct {
	SessionID      string  `json:"session_id"`
	SubjectID      string  `json:"subject_id"`
	Classification string  `json:"classification"`
	Seq            int     `json:"seq"`
	LatencyMs      int64   `json:"latency_ms"`
	Percentile     float64 `json:"percentile"`
	Rank           int     `json:"rank"`
	Success        bool    `json:"success"`
	Competitors    int     `json:"competitors"`
	Capacity       int     `json:"capacity"`
}

type attemptResponse struct {
	Status   model.AttemptStatus `json:"status"`
	Replayed bool                `json:"replayed"`
	Recorded bool                `json:"recorded"`
	Attempt  *attemptView        `json:"attempt,omitempty"`
}

type endResponse struct {
	Attempts int `json:"attempts"`
}

type statusResponse struct {
	sessionResponse
	RemainingTTLMs int64 `json:"remaining_ttl_ms"`
	Attempts       int   `json:"attempts"`
}

// HandleStart handles POST /practice/start.
func (h *PracticeHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	const op = "api.practice_start"
	if !allow(w, r, http.MethodPost) {
		return
	}
	actorID, err := actorFrom(r)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	sess, err := h.deps.StartSession(r.Context(), actorID)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

// HandleAttempt handles POST /practice/attempts.
func (h *PracticeHandler) HandleAttempt(w http.ResponseWriter, r *http.Request) {
	const op = "api.practice_attempt"
	if !allow(w, r, http.MethodPost) {
		return
	}
	actorID, err := actorFrom(r)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	var req attemptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	req.SubjectID = strings.TrimSpace(req.SubjectID)
	if req.SubjectID == "" {
		writeError(w, r, WrapKind(op, model.ErrInvalidInput, ErrBadRequest))
		return
	}
	if req.LatencyMs != nil && !h.clientLatency {
		writeError(w, r, WrapKind(op, model.ErrInvalidInput, ErrClientLatency))
		return
	}

	res, err := h.deps.Attempt(r.Context(), actorID, req.SubjectID, req.LatencyMs)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	out := attemptResponse{Status: res.Status, Replayed: res.Replayed, Recorded: res.Recorded}
	if res.Status == model.StatusAccepted {
		a := res.Attempt
		out.Attempt = &attemptView{
			SessionID:      a.SessionID,
			SubjectID:      a.SubjectID,
			Classification: a.Classification,
			Seq:            a.Seq,
			LatencyMs:      a.LatencyMs,
			Percentile:     a.Percentile,
			Rank:           a.Rank,
			Success:        a.Success,
			Competitors:    a.Competitors,
			Capacity:       a.Capacity,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleEnd handles POST /practice/end.
func (h *PracticeHandler) HandleEnd(w http.ResponseWriter, r *http.Request) {
	const op = "api.practice_end"
	if !allow(w, r, http.MethodPost) {
		return
	}
	actorID, err := actorFrom(r)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	n, err := h.deps.EndSession(r.Context(), actorID)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, endResponse{Attempts: n})
}

// HandleStatus handles GET /practice/status.
func (h *PracticeHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	const op = "api.practice_status"
	if !allow(w, r, http.MethodGet) {
		return
	}
	actorID, err := actorFrom(r)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	st, err := h.deps.Status(r.Context(), actorID)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		sessionResponse: toSessionResponse(st.Session),
		RemainingTTLMs:  st.RemainingTTL.Milliseconds(),
		Attempts:        st.Attempts,
	})
}
