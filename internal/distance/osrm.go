package distance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"fleetroute/internal/model"
)

// Provider returns an N×N matrix of road distances in meters for points, in
// the given order.
type Provider interface {
	Matrix(ctx context.Context, points []model.Location) ([][]float64, error)
}

// OSRMProvider queries the OSRM table service.
type OSRMProvider struct {
	BaseURL     string
	Profile     string
	HTTP        *http.Client
	Limiter     *rate.Limiter
	MaxAttempts int
	Backoff     time.Duration
}

// NewOSRMProvider builds a provider limited to rps requests per second.
func NewOSRMProvider(baseURL, profile string, rps float64) *OSRMProvider {
	if profile == "" {
		profile = "car"
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &OSRMProvider{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Profile:     profile,
		HTTP:        &http.Client{Timeout: 15 * time.Second},
		Limiter:     lim,
		MaxAttempts: 4,
		Backoff:     200 * time.Millisecond,
	}
}

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

type tableResponse struct {
	Code      string       `json:"code"`
	Message   string       `json:"message"`
	Distances [][]*float64 `json:"distances"`
}

func (o *OSRMProvider) Matrix(ctx context.Context, points []model.Location) ([][]float64, error) {
	if len(points) == 0 {
		return [][]float64{}, nil
	}
	coords := make([]string, len(points))
	for i, p := range points {
		// OSRM wants lng,lat
		coords[i] = strconv.FormatFloat(p.Lng, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lat, 'f', 6, 64)
	}
	endpoint := fmt.Sprintf("%s/table/v1/%s/%s?annotations=distance", o.BaseURL, o.Profile, strings.Join(coords, ";"))

	resp, err := o.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("osrm table: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var tr tableResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("osrm table: decode: %w", err)
	}
	if tr.Code != "Ok" {
		return nil, fmt.Errorf("osrm table: code %s: %s", tr.Code, tr.Message)
	}
	if len(tr.Distances) != len(points) {
		return nil, fmt.Errorf("osrm table: got %d rows, want %d", len(tr.Distances), len(points))
	}
	out := make([][]float64, len(points))
	for i, row := range tr.Distances {
		if len(row) != len(points) {
			return nil, fmt.Errorf("osrm table: row %d has %d cells, want %d", i, len(row), len(points))
		}
		out[i] = make([]float64, len(points))
		for j, v := range row {
			if v == nil {
				return nil, fmt.Errorf("osrm table: no route %d->%d", i, j)
			}
			out[i][j] = *v
		}
	}
	return out, nil
}

func (o *OSRMProvider) do(req *http.Request) (*http.Response, error) {
	resp, err := o.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &httpStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

// doWithRetry retries 429, 5xx and network errors with exponential backoff.
// Every attempt waits on the rate limiter first.
func (o *OSRMProvider) doWithRetry(ctx context.Context, makeReq func() (*http.Request, error)) (*http.Response, error) {
	attempts := o.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := o.Backoff
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if o.Limiter != nil {
			if err := o.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		req, err := makeReq()
		if err != nil {
			return nil, fmt.Errorf("make request: %w", err)
		}
		resp, err := o.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		retry := false
		var he *httpStatusError
		if errors.As(err, &he) {
			switch he.Code {
			case 429, 500, 502, 503, 504:
				retry = true
			}
		}
		var netErr net.Error
		if !retry && errors.As(err, &netErr) {
			retry = true
		}
		if !retry || attempt == attempts {
			return nil, lastErr
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return nil, lastErr
}
