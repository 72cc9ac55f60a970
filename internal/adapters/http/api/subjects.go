package api

import (
	"context"
	"net/http"

	"github.com/okian/sugang/internal/domain/model"
)

// SubjectDependencies lists the catalog.
type SubjectDependencies interface {
	Subjects(ctx context.Context) ([]model.Subject, error)
}

// SubjectsHandler handles catalog requests.
type SubjectsHandler struct {
	deps SubjectDependencies
}

// NewSubjectsHandler creates a new subjects handler.
func NewSubjectsHandler(deps SubjectDependencies) *SubjectsHandler {
	return &SubjectsHandler{deps: deps}
}

type subjectView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Classification string `json:"classification"`
	Capacity       int    `json:"capacity"`
	Competitors    int    `json:"competitors"`
}

// HandleListSubjects handles GET /subjects.
func (h *SubjectsHandler) HandleListSubjects(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	subjects, err := h.deps.Subjects(r.Context())
	if err != nil {
		writeError(w, r, Wrap("api.list_subjects", err))
		return
	}
	out := make([]subjectView, len(subjects))
	for i, s := range subjects {
		out[i] = subjectView{
			ID:             s.ID,
			Name:           s.Name,
			Classification: s.Classification,
			Capacity:       s.Capacity,
			Competitors:    s.Competitors,
		}
	}
	writeJSON(w, http.StatusOK, out)
}
