package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveRun(2*time.Second, nil)
	m.ObserveRun(time.Second, errors.New("fetch failed"))
	m.IncUpsert("created")
	m.IncUpsert("created")
	m.IncUpsert("updated")
	m.IncGeocode("hit")
	m.AddPruned(3)
	m.AddExtracted(10, 2)

	if got := testutil.ToFloat64(m.runs.WithLabelValues("success")); got != 1 {
		t.Errorf("success runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("failure")); got != 1 {
		t.Errorf("failure runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.upserts.WithLabelValues("created")); got != 2 {
		t.Errorf("created upserts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.pruned); got != 3 {
		t.Errorf("pruned = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.extractWarns); got != 2 {
		t.Errorf("extract warnings = %v, want 2", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRun(time.Second, nil)
	m.IncUpsert("created")
	m.IncGeocode("miss")
	m.AddPruned(1)
	m.AddExtracted(1, 1)
	m.IncTriggerRejected()
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.IncGeocode("found")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `sfevents_geocode_lookups_total{outcome="found"} 1`) {
		t.Errorf("metrics output missing geocode counter:\n%s", body)
	}
}
