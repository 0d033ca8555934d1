package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"fleetroute/internal/jobs"
	"fleetroute/internal/logging"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// JobWSHandler streams the same events as JobEventsHandler over a websocket.
// Clients may send {"type":"ping"}; the server answers {"type":"pong"}.
func (s *Server) JobWSHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	topic := jobs.Topic(id)
	ch := s.Broker.Subscribe(topic)
	defer s.Broker.Unsubscribe(topic, ch)

	job, err := s.Jobs.Get(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warn(r.Context(), "websocket upgrade failed", logging.Err(err))
		return
	}
	defer func() { _ = conn.Close() }()

	var mu sync.Mutex
	write := func(v any) error {
		mu.Lock()
		defer mu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}
	closeNormal := func() {
		mu.Lock()
		defer mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
			time.Now().Add(time.Second))
	}

	snap := snapshotEvent(job)
	if err := write(wsMessage{Type: snap.Type, Data: snap.Data}); err != nil {
		return
	}
	if job.Status.Finished() {
		closeNormal()
		return
	}

	// read loop: answers pings and notices the client going away
	gone := make(chan struct{})
	conn.SetReadLimit(1 << 16)
	go func() {
		defer close(gone)
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "ping" {
				if err := write(wsMessage{Type: "pong"}); err != nil {
					return
				}
			}
		}
	}()

	ticker := time.NewTicker(s.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := write(wsMessage{Type: evt.Type, Data: evt.Data}); err != nil {
				return
			}
			if terminal(evt) {
				closeNormal()
				return
			}
		case <-ticker.C:
			if err := write(wsMessage{Type: "heartbeat"}); err != nil {
				return
			}
		}
	}
}
