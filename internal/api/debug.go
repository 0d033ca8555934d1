package api

import (
	"net/http"
	"os"
	"time"

	"fleetroute/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"build": buildinfo.Current(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"PORT":                 os.Getenv("PORT"),
			"LOG_LEVEL":            os.Getenv("LOG_LEVEL"),
			"TRACING_EXPORTER":     os.Getenv("TRACING_EXPORTER"),
			"OSRM_URL":             os.Getenv("OSRM_URL"),
			"WEBHOOK_MAX_ATTEMPTS": os.Getenv("WEBHOOK_MAX_ATTEMPTS"),
			"HAS_DATABASE_URL":     os.Getenv("DATABASE_URL") != "",
			"HAS_REDIS_URL":        os.Getenv("REDIS_URL") != "",
		},
	}
	if s.Jobs != nil {
		info["jobs"] = s.Jobs.Stats()
	}
	writeJSON(w, http.StatusOK, info)
}
