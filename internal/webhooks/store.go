package webhooks

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DeliveryPending   = "pending"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

var ErrUnknownDelivery = errors.New("unknown webhook delivery")

// Delivery is one callback POST and its retry state.
type Delivery struct {
	ID            string    `json:"id"`
	URL           string    `json:"url"`
	EventType     string    `json:"event_type"`
	Secret        string    `json:"-"`
	Payload       []byte    `json:"-"`
	Status        string    `json:"status"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	LastError     string    `json:"last_error,omitempty"`
	LastCode      int       `json:"last_code,omitempty"`
	LatencyMs     int       `json:"latency_ms,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type Store interface {
	Enqueue(ctx context.Context, d Delivery) (string, error)
	// FetchDue returns pending deliveries whose next attempt is due.
	FetchDue(ctx context.Context, limit int) ([]Delivery, error)
	// Mark records an attempt; next schedules the retry of a failed one.
	Mark(ctx context.Context, id string, success bool, next *time.Time, lastError string, code, latencyMs int) error
	// Fail gives up on a delivery.
	Fail(ctx context.Context, id string, lastError string, code, latencyMs int) error
}

// Memory keeps deliveries in process.
type Memory struct {
	mu  sync.Mutex
	now func() time.Time
	m   map[string]*Delivery
}

func NewMemory() *Memory {
	return &Memory{now: time.Now, m: map[string]*Delivery{}}
}

func (s *Memory) Enqueue(_ context.Context, d Delivery) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = uuid.NewString()
	d.Status = DeliveryPending
	d.CreatedAt = s.now()
	if d.NextAttemptAt.IsZero() {
		d.NextAttemptAt = d.CreatedAt
	}
	s.m[d.ID] = &d
	return d.ID, nil
}

func (s *Memory) FetchDue(_ context.Context, limit int) ([]Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []Delivery
	for _, d := range s.m {
		if d.Status == DeliveryPending && !d.NextAttemptAt.After(now) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(out[j].NextAttemptAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) Mark(_ context.Context, id string, success bool, next *time.Time, lastError string, code, latencyMs int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.m[id]
	if !ok {
		return ErrUnknownDelivery
	}
	d.Attempts++
	d.LastError, d.LastCode, d.LatencyMs = lastError, code, latencyMs
	if success {
		d.Status = DeliveryDelivered
		return nil
	}
	if next != nil {
		d.NextAttemptAt = *next
	}
	return nil
}

func (s *Memory) Fail(_ context.Context, id string, lastError string, code, latencyMs int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.m[id]
	if !ok {
		return ErrUnknownDelivery
	}
	d.Attempts++
	d.Status = DeliveryFailed
	d.LastError, d.LastCode, d.LatencyMs = lastError, code, latencyMs
	return nil
}

// List returns every delivery, newest first, optionally filtered by status.
func (s *Memory) List(status string) []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Delivery, 0, len(s.m))
	for _, d := range s.m {
		if status == "" || d.Status == status {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
