package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"fleetroute/internal/optimizer"
	"fleetroute/internal/problem"
)

const maxBodyBytes = 8 << 20

// asyncRequest is an optimize request plus the optional completion callback.
type asyncRequest struct {
	optimizer.Request
	CallbackURL string `json:"callback_url,omitempty"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return &problem.ValidationError{Field: "body", Reason: "empty request body"}
		}
		return &problem.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	return &problem.ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// validateOptimizeRequest rejects numeric settings the optimizer would
// otherwise silently replace with defaults.
func validateOptimizeRequest(req *optimizer.Request) error {
	c := req.Config
	switch {
	case req.FuelPrice < 0:
		return invalid("fuel_price", "must be >= 0")
	case c.TimeLimitSeconds < 0:
		return invalid("config.time_limit_seconds", "must be >= 0")
	case c.SolutionLimit < 0:
		return invalid("config.solution_limit", "must be >= 0")
	case c.DefaultSpeedKmh < 0:
		return invalid("config.default_speed_kmh", "must be >= 0")
	case c.FixedVehicleCost < 0:
		return invalid("config.fixed_vehicle_cost", "must be >= 0")
	case c.MaxWaitMinutes < 0:
		return invalid("config.max_wait_minutes", "must be >= 0")
	case c.MaxRouteMinutes < 0:
		return invalid("config.max_route_minutes", "must be >= 0")
	}
	return nil
}

func validateCallback(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("callback_url", "must be an absolute http(s) URL")
	}
	return nil
}
