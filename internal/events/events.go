// Package events carries optimizer lifecycle notifications to logging and
// metrics sinks without the engine depending on either.
package events

import (
	"context"
	"sync"
	"time"

	"fleetroute/internal/logging"
	"fleetroute/internal/metrics"
)

type Kind string

const (
	ValidationFailed  Kind = "validation_failed"
	SearchStarted     Kind = "search_started"
	SearchCompleted   Kind = "search_completed"
	SearchFailed      Kind = "search_failed"
	FallbackTriggered Kind = "fallback_triggered"
	AllocationWarning Kind = "allocation_warning"
	CacheLookup       Kind = "cache_lookup"
	JobState          Kind = "job_state"
	OptimizeFinished  Kind = "optimize_finished"
)

type Event struct {
	Kind   Kind
	At     time.Time
	Fields map[string]any
}

// New stamps an event with the current time.
func New(kind Kind, fields map[string]any) Event {
	if fields == nil {
		fields = map[string]any{}
	}
	return Event{Kind: kind, At: time.Now(), Fields: fields}
}

type Observer interface {
	Emit(ctx context.Context, e Event)
}

type nop struct{}

func (nop) Emit(context.Context, Event) {}

// Nop drops every event.
func Nop() Observer { return nop{} }

type multi []Observer

func (m multi) Emit(ctx context.Context, e Event) {
	for _, o := range m {
		o.Emit(ctx, e)
	}
}

// Multi fans out to every non-nil observer.
func Multi(obs ...Observer) Observer {
	out := make(multi, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

// LogObserver writes events as structured log records.
type LogObserver struct {
	Log logging.Logger
}

func (o LogObserver) Emit(ctx context.Context, e Event) {
	fields := make([]logging.Field, 0, len(e.Fields)+1)
	fields = append(fields, logging.String("event", string(e.Kind)))
	for k, v := range e.Fields {
		fields = append(fields, logging.Any(k, v))
	}
	switch e.Kind {
	case ValidationFailed, SearchFailed, FallbackTriggered, AllocationWarning:
		o.Log.Warn(ctx, "optimizer event", fields...)
	case CacheLookup:
		o.Log.Debug(ctx, "optimizer event", fields...)
	default:
		o.Log.Info(ctx, "optimizer event", fields...)
	}
}

// MetricsObserver maps events onto Prometheus collectors.
type MetricsObserver struct{}

func (MetricsObserver) Emit(_ context.Context, e Event) {
	switch e.Kind {
	case FallbackTriggered:
		metrics.DistanceFallbacks.Inc()
	case CacheLookup:
		if n, ok := e.Fields["hits"].(int); ok && n > 0 {
			metrics.DistanceCacheLookups.WithLabelValues("hit").Add(float64(n))
		}
		if n, ok := e.Fields["misses"].(int); ok && n > 0 {
			metrics.DistanceCacheLookups.WithLabelValues("miss").Add(float64(n))
		}
	case OptimizeFinished:
		mode, _ := e.Fields["mode"].(string)
		status, _ := e.Fields["status"].(string)
		metrics.OptimizeRuns.WithLabelValues(mode, status).Inc()
		if sec, ok := e.Fields["seconds"].(float64); ok {
			metrics.OptimizeDuration.WithLabelValues(mode).Observe(sec)
		}
	case SearchCompleted:
		if it, ok := e.Fields["iterations"].(int); ok {
			meta, _ := e.Fields["metaheuristic"].(string)
			metrics.SearchIterations.WithLabelValues(meta).Observe(float64(it))
		}
	}
}

// Recorder keeps events in memory; handy in tests and debugging endpoints.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of what was recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	n := 0
	for _, e := range r.Events() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
