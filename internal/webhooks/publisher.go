package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

type Publisher struct {
	Store  Store
	Secret string
}

func NewPublisher(s Store, secret string) *Publisher {
	return &Publisher{Store: s, Secret: secret}
}

// Emit enqueues an event for url. Delivery happens on the Worker.
func (p *Publisher) Emit(ctx context.Context, url, eventType string, data any) (string, error) {
	payload := map[string]any{
		"id":   "evt_" + uuid.NewString(),
		"type": eventType,
		"ts":   time.Now().UTC().Format(time.RFC3339),
		"data": data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("webhooks: encode %s: %w", eventType, err)
	}
	return p.Store.Enqueue(ctx, Delivery{URL: url, EventType: eventType, Secret: p.Secret, Payload: body})
}
