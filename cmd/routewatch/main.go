// Command routewatch submits an async optimize request and follows the job
// over its websocket until it finishes.
//
//	routewatch [request.json]
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/gorilla/websocket"

	"fleetroute/internal/logging"
)

const demoRequest = `{
  "depots": [{"id": "hub", "name": "Hub", "location": {"lat": 41.0082, "lng": 28.9784}}],
  "customers": [
    {"id": "c1", "location": {"lat": 41.0150, "lng": 28.9800}, "demand": 3},
    {"id": "c2", "location": {"lat": 41.0250, "lng": 28.9700}, "demand": 4},
    {"id": "c3", "location": {"lat": 40.9950, "lng": 29.0200}, "demand": 2},
    {"id": "c4", "location": {"lat": 41.0400, "lng": 29.0050}, "demand": 5}
  ],
  "vehicles": [{"id": "v1", "type": 0, "capacity": 10}, {"id": "v2", "type": 1, "capacity": 14}],
  "config": {"time_limit_seconds": 5}
}`

type wsMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

func main() {
	ctx := context.Background()
	log := logging.NewFromEnv()
	if err := run(ctx, log); err != nil {
		log.Error(ctx, "routewatch failed", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log logging.Logger) error {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	host := "localhost:" + port

	body := []byte(demoRequest)
	if len(os.Args) > 1 {
		raw, err := os.ReadFile(os.Args[1])
		if err != nil {
			return err
		}
		body = raw
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+host+"/optimize/async", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("submit: unexpected status %s", resp.Status)
	}
	var submitted struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		return fmt.Errorf("submit: decode: %w", err)
	}
	log.Info(ctx, "job submitted", logging.String("job_id", submitted.JobID))

	u := url.URL{Scheme: "ws", Host: host, Path: "/jobs/" + submitted.JobID + "/ws"}
	c, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = c.Close() }()

	for {
		var m wsMessage
		if err := c.ReadJSON(&m); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		log.Info(ctx, "job event", logging.String("type", m.Type), logging.Any("data", m.Data))
	}
}
