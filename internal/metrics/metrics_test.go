package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterDefaultIdempotent(t *testing.T) {
	RegisterDefault()
	RegisterDefault()

	before := testutil.ToFloat64(OptimizeRuns.WithLabelValues("single", "success"))
	OptimizeRuns.WithLabelValues("single", "success").Inc()
	if got := testutil.ToFloat64(OptimizeRuns.WithLabelValues("single", "success")); got != before+1 {
		t.Fatalf("optimize runs: got %v, want %v", got, before+1)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	DistanceFallbacks.Inc()
	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != 200 {
		t.Fatalf("metrics: got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "distance_fallbacks_total") {
		t.Fatalf("missing distance_fallbacks_total in scrape output")
	}
}
