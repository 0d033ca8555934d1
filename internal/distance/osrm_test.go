package distance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetroute/internal/model"
)

func newTestOSRM(url string) *OSRMProvider {
	p := NewOSRMProvider(url, "car", 0)
	p.Backoff = time.Millisecond
	return p
}

func TestOSRMMatrixRetriesThenSucceeds(t *testing.T) {
	var hits int32
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":"Ok","distances":[[0,1200.5],[1300,0]]}`))
	}))
	defer srv.Close()

	p := newTestOSRM(srv.URL)
	m, err := p.Matrix(context.Background(), []model.Location{{Lat: 41, Lng: 29}, {Lat: 41.1, Lng: 29.1}})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Equal(t, [][]float64{{0, 1200.5}, {1300, 0}}, m)
	assert.True(t, strings.HasPrefix(gotPath, "/table/v1/car/29.000000,41.000000;"), gotPath)
}

func TestOSRMMatrixDoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "bad coords", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestOSRM(srv.URL).Matrix(context.Background(), []model.Location{{Lat: 1, Lng: 1}})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestOSRMMatrixRejectsUnroutableCell(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"Ok","distances":[[0,null],[5,0]]}`))
	}))
	defer srv.Close()

	_, err := newTestOSRM(srv.URL).Matrix(context.Background(), []model.Location{{Lat: 1, Lng: 1}, {Lat: 2, Lng: 2}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no route")
}

func TestOSRMFailureFallsBackInBuilder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b := NewBuilder(newTestOSRM(srv.URL), nil, nil)
	m, err := b.Build(context.Background(), istanbul[:3], Options{UseRoadDistances: true})
	require.NoError(t, err)
	assert.True(t, m.FellBack)
	assert.Equal(t, SourceGreatCircle, m.Source)
}
