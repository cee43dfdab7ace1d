package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObservePrediction(t *testing.T) {
	m := NewMetrics()
	m.ObservePrediction("Carcinoma", "api", 2*time.Millisecond)
	m.ObservePrediction("Carcinoma", "api", 3*time.Millisecond)
	m.ObserveFailure("form")

	if got := testutil.ToFloat64(m.predictions.WithLabelValues("Carcinoma", "api")); got != 2 {
		t.Fatalf("predictions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues("form")); got != 1 {
		t.Fatalf("failures = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.latency); got != 1 {
		t.Fatalf("latency series = %d, want 1", got)
	}
}

func TestModelReloaded(t *testing.T) {
	m := NewMetrics()
	m.SetModelVersion(1)
	m.ModelReloaded(2)
	m.ModelReloaded(3)

	if got := testutil.ToFloat64(m.modelVersion); got != 3 {
		t.Fatalf("model version = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.reloads); got != 2 {
		t.Fatalf("reloads = %v, want 2", got)
	}
}

func TestHandlerExposition(t *testing.T) {
	m := NewMetrics()
	hub := NewHub(nil)
	m.RegisterHub(hub)
	for i := 0; i < 300; i++ {
		hub.Publish(Heartbeat, i)
	}
	// quotes and backslashes must survive label escaping
	m.ObservePrediction(`Fibro "adenoma" \ test`, "form", time.Millisecond)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	out := rr.Body.String()

	for _, want := range []string{
		"# TYPE tumordetect_stream_dropped_messages_total counter",
		"tumordetect_stream_dropped_messages_total 44",
		"# TYPE tumordetect_stream_clients gauge",
		"tumordetect_stream_clients 0",
		`tumordetect_predictions_total{label="Fibro \"adenoma\" \\ test",source="form"} 1`,
		`tumordetect_prediction_seconds_bucket{le="0.001"} 1`,
		"tumordetect_prediction_seconds_count 1",
		"go_goroutines",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("exposition is missing %q:\n%s", want, out)
		}
	}
}
