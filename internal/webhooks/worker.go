package webhooks

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"fleetroute/internal/logging"
	"fleetroute/internal/metrics"
)

const DefaultMaxAttempts = 10

type Worker struct {
	Store       Store
	HTTP        *http.Client
	MaxAttempts int
	Interval    time.Duration
	Log         logging.Logger

	now func() time.Time
}

// NewWorker reads WEBHOOK_MAX_ATTEMPTS when maxAttempts is 0.
func NewWorker(s Store, maxAttempts int) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
		if v := os.Getenv("WEBHOOK_MAX_ATTEMPTS"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				maxAttempts = n
			}
		}
	}
	return &Worker{
		Store:       s,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		MaxAttempts: maxAttempts,
		Interval:    time.Second,
		Log:         logging.Noop(),
		now:         time.Now,
	}
}

// Run polls for due deliveries until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processOnce(ctx)
		}
	}
}

func (w *Worker) processOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	items, err := w.Store.FetchDue(ctx, 50)
	if err != nil {
		w.Log.Warn(ctx, "fetch webhook deliveries", logging.Err(err))
		return
	}
	for _, it := range items {
		w.deliver(ctx, it)
	}
}

func (w *Worker) deliver(ctx context.Context, it Delivery) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err != nil {
		_ = w.Store.Fail(ctx, it.ID, err.Error(), 0, 0)
		metrics.WebhookDeliveries.WithLabelValues(DeliveryFailed).Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventTypeHeader, it.EventType)
	req.Header.Set(DeliveryIDHeader, it.ID)
	if it.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(it.Secret, it, w.now()).String())
	}

	start := time.Now()
	resp, err := w.HTTP.Do(req)
	latency := int(time.Since(start).Milliseconds())
	code := 0
	success := false
	lastErr := ""
	if err != nil {
		lastErr = err.Error()
	} else {
		code = resp.StatusCode
		_ = resp.Body.Close()
		success = code >= 200 && code < 300
		if !success {
			lastErr = http.StatusText(code)
		}
	}

	switch {
	case success:
		_ = w.Store.Mark(ctx, it.ID, true, nil, "", code, latency)
		metrics.WebhookDeliveries.WithLabelValues(DeliveryDelivered).Inc()
	case it.Attempts+1 >= w.MaxAttempts:
		_ = w.Store.Fail(ctx, it.ID, lastErr, code, latency)
		metrics.WebhookDeliveries.WithLabelValues(DeliveryFailed).Inc()
		w.Log.Warn(ctx, "webhook delivery abandoned",
			logging.String("delivery_id", it.ID),
			logging.String("url", it.URL),
			logging.Int("attempts", it.Attempts+1),
			logging.String("error", lastErr),
		)
	default:
		next := time.Now().Add(nextBackoff(it.Attempts))
		_ = w.Store.Mark(ctx, it.ID, false, &next, lastErr, code, latency)
		metrics.WebhookDeliveries.WithLabelValues("retry").Inc()
	}
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
