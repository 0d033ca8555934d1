package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"fleetroute/internal/broker"
	"fleetroute/internal/jobs"
)

// terminal reports whether evt ends a job's stream.
func terminal(evt broker.Event) bool {
	if !strings.HasPrefix(evt.Type, "job.") {
		return false
	}
	return jobs.Status(strings.TrimPrefix(evt.Type, "job.")).Finished()
}

// snapshotEvent renders the current job state in the same shape the queue
// publishes.
func snapshotEvent(j jobs.Job) broker.Event {
	typ := "job.snapshot"
	if j.Status.Finished() {
		typ = "job." + string(j.Status)
	}
	data := map[string]any{
		"id":       j.ID,
		"status":   string(j.Status),
		"progress": j.Progress,
	}
	if j.Error != "" {
		data["error"] = j.Error
	}
	if j.Result != nil {
		data["routes"] = len(j.Result.Routes)
		data["total_cost"] = j.Result.Summary.TotalCost
	}
	return broker.Event{Type: typ, Data: data}
}

func writeSSE(w http.ResponseWriter, evt broker.Event) {
	b, _ := json.Marshal(evt.Data)
	fmt.Fprintf(w, "event: %s\n", evt.Type)
	fmt.Fprintf(w, "data: %s\n\n", b)
}

// JobEventsHandler streams a job's state changes as server-sent events until
// the job finishes or the client goes away.
func (s *Server) JobEventsHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	// subscribe before the snapshot so no transition is lost in between
	topic := jobs.Topic(id)
	ch := s.Broker.Subscribe(topic)
	defer s.Broker.Unsubscribe(topic, ch)

	job, err := s.Jobs.Get(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snap := snapshotEvent(job)
	writeSSE(w, snap)
	flusher.Flush()
	if job.Status.Finished() {
		return
	}

	heartbeat := time.NewTicker(s.Heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, evt)
			flusher.Flush()
			if terminal(evt) {
				return
			}
		case <-heartbeat.C:
			writeSSE(w, broker.Event{Type: "heartbeat", Data: map[string]any{
				"id": id,
				"ts": time.Now().UTC().Format(time.RFC3339),
			}})
			flusher.Flush()
		}
	}
}
