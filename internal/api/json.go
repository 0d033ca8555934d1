package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"fleetroute/internal/jobs"
	"fleetroute/internal/opt"
	"fleetroute/internal/problem"
)

// Problem represents an RFC7807 problem details response body, with the
// optimizer's extension members.
type Problem struct {
	Type         string           `json:"type"`
	Title        string           `json:"title"`
	Status       int              `json:"status"`
	Detail       string           `json:"detail,omitempty"`
	Instance     string           `json:"instance,omitempty"`
	Field        string           `json:"field,omitempty"`
	SolverStatus string           `json:"solver_status,omitempty"`
	Diagnostics  *opt.Diagnostics `json:"diagnostics,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblemDoc(w http.ResponseWriter, p Problem) {
	if p.Type == "" {
		p.Type = "about:blank"
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeProblemDoc(w, Problem{
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeError maps the service's typed errors onto problem documents.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *problem.ValidationError
	var serr *opt.SolverError
	switch {
	case errors.As(err, &verr):
		writeProblemDoc(w, Problem{
			Title:    "Invalid optimize request",
			Status:   http.StatusBadRequest,
			Detail:   verr.Reason,
			Instance: r.URL.Path,
			Field:    verr.Field,
		})
	case errors.As(err, &serr):
		d := serr.Diagnostics
		writeProblemDoc(w, Problem{
			Title:        "No feasible route plan",
			Status:       http.StatusUnprocessableEntity,
			Detail:       serr.Reason,
			Instance:     r.URL.Path,
			SolverStatus: serr.Status.String(),
			Diagnostics:  &d,
		})
	case errors.Is(err, jobs.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Job not found", err.Error(), r.URL.Path)
	case errors.Is(err, jobs.ErrNotCancellable):
		writeProblem(w, http.StatusConflict, "Job cannot be cancelled", err.Error(), r.URL.Path)
	case errors.Is(err, jobs.ErrQueueFull):
		writeProblem(w, http.StatusServiceUnavailable, "Job queue full", err.Error(), r.URL.Path)
	default:
		writeProblem(w, http.StatusInternalServerError, "Internal error", err.Error(), r.URL.Path)
	}
}
