package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetroute/internal/broker"
	"fleetroute/internal/jobs"
	"fleetroute/internal/model"
	"fleetroute/internal/optimizer"
	"fleetroute/internal/webhooks"
)

// gatedOptimizer blocks every call until gate is closed.
type gatedOptimizer struct {
	gate chan struct{}
}

func (g *gatedOptimizer) Optimize(ctx context.Context, req optimizer.Request) (*model.Solution, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &model.Solution{Routes: []model.Route{{VehicleID: "v1"}}, Summary: model.Summary{TotalCost: 42}}, nil
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return assert.AnError }

// newTestServer runs the queue on o, or on the real optimizer when o is nil.
func newTestServer(t *testing.T, o jobs.Optimizer) (*Server, *mux.Router) {
	t.Helper()
	svc := optimizer.New(nil, nil)
	svc.MaxIterations = 50
	if o == nil {
		o = svc
	}
	b := broker.NewMemory()
	q := jobs.New(o, jobs.Options{Broker: b})
	q.Start(context.Background())
	t.Cleanup(q.Close)
	s := NewServer(svc, q, b)
	s.Deliveries = webhooks.NewMemory()
	return s, s.Router()
}

const optimizeBody = `{
  "depots": [{"id": "hub", "name": "Hub", "location": {"lat": 41.0, "lng": 29.0}}],
  "customers": [
    {"id": "c1", "location": {"lat": 41.01, "lng": 29.01}, "demand": 2},
    {"id": "c2", "location": {"lat": 41.02, "lng": 29.00}, "demand": 3},
    {"id": "c3", "location": {"lat": 40.99, "lng": 28.98}, "demand": 1}
  ],
  "vehicles": [{"id": "v1", "type": 0, "capacity": 10}],
  "config": {"time_limit_seconds": 1}
}`

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestHealthReadyConfig(t *testing.T) {
	s, h := newTestServer(t, nil)

	rr := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))

	rr = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodGet, "/config", "")
	require.Equal(t, http.StatusOK, rr.Code)
	cfg := decode(t, rr)
	def := cfg["default_config"].(map[string]any)
	assert.Equal(t, "SAVINGS", def["search_strategy"])
	assert.Equal(t, float64(45), def["time_limit_seconds"])
	assert.Len(t, cfg["available_strategies"], len(model.Strategies))
	assert.Contains(t, cfg["vehicle_profiles"], "0")

	s.Checks["redis"] = failingPinger{}
	rr = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}

func TestOptimizeSuccess(t *testing.T) {
	_, h := newTestServer(t, nil)
	rr := do(t, h, http.MethodPost, "/optimize", optimizeBody)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var out struct {
		Success bool `json:"success"`
		model.Solution
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.True(t, out.Success)
	assert.Equal(t, 3, out.ServedCustomers())
	assert.Equal(t, "CVRP", out.Summary.Algorithm)
	for _, r := range out.Routes {
		assert.LessOrEqual(t, r.Load, 10)
	}
}

func TestOptimizeValidationErrors(t *testing.T) {
	_, h := newTestServer(t, nil)

	rr := do(t, h, http.MethodPost, "/optimize", `{"depots": [`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "body", decode(t, rr)["field"])

	over := strings.Replace(optimizeBody, `"demand": 2`, `"demand": 100`, 1)
	over = strings.Replace(over, `"capacity": 10`, `"capacity": 80`, 1)
	rr = do(t, h, http.MethodPost, "/optimize", over)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "customers", decode(t, rr)["field"])

	neg := strings.Replace(optimizeBody, `"time_limit_seconds": 1`, `"time_limit_seconds": -1`, 1)
	rr = do(t, h, http.MethodPost, "/optimize", neg)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "config.time_limit_seconds", decode(t, rr)["field"])
}

func TestOptimizeInfeasibleIs422(t *testing.T) {
	_, h := newTestServer(t, nil)
	body := strings.Replace(optimizeBody,
		`{"id": "c1", "location": {"lat": 41.01, "lng": 29.01}, "demand": 2}`,
		`{"id": "c1", "location": {"lat": 41.01, "lng": 29.01}, "demand": 2, "constraint": {"kind": "window", "start": 0, "end": 100}}`, 1)
	body = strings.Replace(body, `"time_limit_seconds": 1`, `"time_limit_seconds": 1, "enable_time_windows": true`, 1)

	rr := do(t, h, http.MethodPost, "/optimize", body)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
	p := decode(t, rr)
	assert.NotEmpty(t, p["solver_status"])
	diag := p["diagnostics"].(map[string]any)
	assert.Equal(t, float64(4), diag["locations"])
}

func TestAsyncJobCompletes(t *testing.T) {
	_, h := newTestServer(t, nil)

	rr := do(t, h, http.MethodPost, "/optimize/async", strings.Replace(optimizeBody, `"config"`, `"callback_url": "http://hooks.test/done", "config"`, 1))
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	id, _ := decode(t, rr)["job_id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "/jobs/"+id, rr.Header().Get("Location"))

	var job map[string]any
	require.Eventually(t, func() bool {
		rr := do(t, h, http.MethodGet, "/jobs/"+id, "")
		job = decode(t, rr)
		return job["status"] == "completed"
	}, 10*time.Second, 20*time.Millisecond)
	assert.Equal(t, float64(100), job["progress"])
	assert.Equal(t, "http://hooks.test/done", job["callback_url"])
	require.NotNil(t, job["result"])

	rr = do(t, h, http.MethodGet, "/jobs?status=completed", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode(t, rr)["items"], 1)

	rr = do(t, h, http.MethodGet, "/jobs/stats", "")
	assert.Equal(t, float64(1), decode(t, rr)["completed"])

	rr = do(t, h, http.MethodGet, "/jobs?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodGet, "/admin/search-metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, decode(t, rr)["metrics"])
}

func TestAsyncRejectsBadCallback(t *testing.T) {
	_, h := newTestServer(t, nil)
	rr := do(t, h, http.MethodPost, "/optimize/async", strings.Replace(optimizeBody, `"config"`, `"callback_url": "ftp://x", "config"`, 1))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "callback_url", decode(t, rr)["field"])
}

func TestJobNotFoundAndCancel(t *testing.T) {
	g := &gatedOptimizer{gate: make(chan struct{})}
	s, h := newTestServer(t, g)
	defer close(g.gate)

	rr := do(t, h, http.MethodGet, "/jobs/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	running, err := s.Jobs.Submit(context.Background(), optimizer.Request{}, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		j, _ := s.Jobs.Get(running.ID)
		return j.Status == jobs.StatusRunning
	}, 2*time.Second, 5*time.Millisecond)
	pending, err := s.Jobs.Submit(context.Background(), optimizer.Request{}, "")
	require.NoError(t, err)

	rr = do(t, h, http.MethodDelete, "/jobs/"+running.ID, "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, h, http.MethodDelete, "/jobs/"+pending.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	out := decode(t, rr)
	assert.Equal(t, "cancelled", out["job"].(map[string]any)["status"])
}

func TestJobEventStream(t *testing.T) {
	g := &gatedOptimizer{gate: make(chan struct{})}
	s, h := newTestServer(t, g)
	srv := httptest.NewServer(h)
	defer srv.Close()

	job, err := s.Jobs.Submit(context.Background(), optimizer.Request{}, "")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/jobs/" + job.ID + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	var seen []string
	next := func() string {
		for sc.Scan() {
			if typ, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
				return typ
			}
		}
		return ""
	}
	require.Equal(t, "job.snapshot", next())
	close(g.gate)
	for {
		typ := next()
		if typ == "" {
			break
		}
		seen = append(seen, typ)
	}
	require.NotEmpty(t, seen)
	assert.Equal(t, "job.completed", seen[len(seen)-1])
}

func TestJobEventStreamFinishedJob(t *testing.T) {
	g := &gatedOptimizer{gate: make(chan struct{})}
	close(g.gate)
	s, h := newTestServer(t, g)
	job, err := s.Jobs.Submit(context.Background(), optimizer.Request{}, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		j, _ := s.Jobs.Get(job.ID)
		return j.Status == jobs.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	rr := do(t, h, http.MethodGet, "/jobs/"+job.ID+"/events", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "event: job.completed")
	assert.Contains(t, rr.Body.String(), `"total_cost":42`)

	rr = do(t, h, http.MethodGet, "/jobs/missing/events", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestJobWebSocket(t *testing.T) {
	g := &gatedOptimizer{gate: make(chan struct{})}
	s, h := newTestServer(t, g)
	srv := httptest.NewServer(h)
	defer srv.Close()

	job, err := s.Jobs.Submit(context.Background(), optimizer.Request{}, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		j, _ := s.Jobs.Get(job.ID)
		return j.Progress == 30
	}, 2*time.Second, 5*time.Millisecond)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/jobs/" + job.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "job.snapshot", msg.Type)
	assert.Equal(t, "running", msg.Data["status"])

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "ping"}))
	for {
		msg = wsMessage{}
		require.NoError(t, conn.ReadJSON(&msg))
		// a late progress event may still be in flight
		if msg.Type != "job.progress" {
			break
		}
	}
	assert.Equal(t, "pong", msg.Type)

	close(g.gate)
	for {
		msg = wsMessage{}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == "job.completed" {
			break
		}
	}
	assert.Equal(t, float64(42), msg.Data["total_cost"])
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestOpenAPIAndDocs(t *testing.T) {
	_, h := newTestServer(t, nil)

	rr := do(t, h, http.MethodGet, "/openapi.yaml", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "openapi:")

	rr = do(t, h, http.MethodGet, "/openapi.json", "")
	require.Equal(t, http.StatusOK, rr.Code)
	doc := decode(t, rr)
	assert.Contains(t, doc["paths"], "/optimize")

	rr = do(t, h, http.MethodGet, "/docs", "")
	assert.Contains(t, rr.Body.String(), "/openapi.yaml")
}

func TestAdminAndFallbackRoutes(t *testing.T) {
	s, h := newTestServer(t, nil)

	rr := do(t, h, http.MethodGet, "/admin/webhook-deliveries", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode(t, rr)["items"])

	s.Deliveries = nil
	rr = do(t, h, http.MethodGet, "/admin/webhook-deliveries", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))

	rr = do(t, h, http.MethodPut, "/optimize", "{}")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = do(t, h, http.MethodGet, "/debug/vars", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, decode(t, rr), "build")

	rr = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}
