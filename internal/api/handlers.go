package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"fleetroute/internal/jobs"
	"fleetroute/internal/logging"
	"fleetroute/internal/model"
	"fleetroute/internal/opt"
	"fleetroute/internal/optimizer"
)

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ReadyHandler pings every registered dependency.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	for name, p := range s.Checks {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		err := p.Ping(ctx)
		cancel()
		if err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", name+": "+err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"default_config":           s.Optimizer.Defaults,
		"available_strategies":     model.Strategies,
		"available_metaheuristics": model.Metaheuristics,
		"multi_depot_modes":        []model.MultiDepotMode{model.MultiDepotPartition, model.MultiDepotJoint},
		"vehicle_profiles":         s.Optimizer.Profiles,
		"fuel_price":               s.Optimizer.FuelPrice,
	})
}

type optimizeResponse struct {
	Success bool `json:"success"`
	*model.Solution
}

// OptimizeHandler handles POST /optimize
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	var req optimizer.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validateOptimizeRequest(&req); err != nil {
		writeError(w, r, err)
		return
	}
	sol, err := s.Optimizer.Optimize(r.Context(), req)
	if err != nil {
		s.Log.Warn(r.Context(), "optimize failed", logging.Err(err))
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, optimizeResponse{Success: true, Solution: sol})
}

// OptimizeAsyncHandler handles POST /optimize/async
func (s *Server) OptimizeAsyncHandler(w http.ResponseWriter, r *http.Request) {
	var req asyncRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validateOptimizeRequest(&req.Request); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validateCallback(req.CallbackURL); err != nil {
		writeError(w, r, err)
		return
	}
	job, err := s.Jobs.Submit(r.Context(), req.Request, req.CallbackURL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":  job.ID,
		"status":  job.Status,
		"message": "Job submitted. Poll GET /jobs/" + job.ID + " or stream /jobs/" + job.ID + "/events.",
	})
}

func (s *Server) JobsHandler(w http.ResponseWriter, r *http.Request) {
	status := jobs.Status(r.URL.Query().Get("status"))
	switch status {
	case "", jobs.StatusPending, jobs.StatusRunning, jobs.StatusCompleted, jobs.StatusFailed, jobs.StatusCancelled:
	default:
		writeProblem(w, http.StatusBadRequest, "Invalid status filter", string(status), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": s.Jobs.List(status)})
}

func (s *Server) JobStatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Jobs.Stats())
}

func (s *Server) JobHandler(w http.ResponseWriter, r *http.Request) {
	job, err := s.Jobs.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.Jobs.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Job " + id + " cancelled", "job": job})
}

func (s *Server) SearchMetricsHandler(w http.ResponseWriter, r *http.Request) {
	snap := map[string]opt.Metrics{}
	if s.Optimizer.SearchMetrics != nil {
		snap = s.Optimizer.SearchMetrics.Snapshot()
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": snap})
}

func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if s.Deliveries == nil {
		writeProblem(w, http.StatusNotFound, "Webhooks disabled", "", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": s.Deliveries.List(r.URL.Query().Get("status"))})
}
