package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"turtle-trader/internal/model"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveSignals(t *testing.T) {
	m := NewMetrics()
	m.ObserveSignals([]model.Signal{
		{Kind: model.KindEntry, System: model.SystemOne},
		{Kind: model.KindEntry, System: model.SystemTwo},
		{Kind: model.KindEntry, System: model.SystemOne},
		{Kind: model.KindExit, System: model.SystemOne},
	})

	if got := testutil.ToFloat64(m.SignalsTotal.WithLabelValues("ENTRY", "system_1")); got != 2 {
		t.Errorf("entry/system_1 = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SignalsTotal.WithLabelValues("EXIT", "system_1")); got != 1 {
		t.Errorf("exit/system_1 = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.SignalsTotal); got != 3 {
		t.Errorf("label combinations = %d, want 3", got)
	}
}

func TestObserveErrorAndCompute(t *testing.T) {
	m := NewMetrics()
	m.ObserveError("fetch")
	m.ObserveError("fetch")
	m.ObserveError("indicators")
	m.ObserveCompute(3 * time.Millisecond)

	if got := testutil.ToFloat64(m.InstrumentErrorsTotal.WithLabelValues("fetch")); got != 2 {
		t.Errorf("fetch errors = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.IndicatorComputeSeconds); got != 1 {
		t.Errorf("histogram series = %d, want 1", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.TrackedInstruments.Set(7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if !strings.Contains(string(body), "turtle_tracked_instruments 7") {
		t.Fatalf("gauge not exposed:\n%s", body)
	}
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	a.ObserveError("fetch")
	if got := testutil.ToFloat64(b.InstrumentErrorsTotal.WithLabelValues("fetch")); got != 0 {
		t.Errorf("second registry saw %v errors", got)
	}
}
