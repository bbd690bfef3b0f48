package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"dynlight.ai/internal/lighting/engine"
	"dynlight.ai/internal/lighting/model"
)

func TestMetrics_ObserveEngine(t *testing.T) {
	m := New()
	var _ engine.Observer = m

	m.AnchorChanged(engine.Event{Action: engine.ActionPlace, Reason: engine.ReasonTracked, SubjectKind: model.KindPlayer})
	m.AnchorChanged(engine.Event{Action: engine.ActionPlace, Reason: engine.ReasonTracked, SubjectKind: model.KindPlayer})
	m.TickDone(engine.TickReport{Cycle: 1, Placed: 2, Stale: 1, Tracked: 3, Anchors: 2, Duration: time.Millisecond})
	m.TickDone(engine.TickReport{Skipped: true})

	if got := testutil.ToFloat64(m.anchorEvents.WithLabelValues("PLACE", "TRACKED", "PLAYER")); got != 2 {
		t.Fatalf("anchor events=%v", got)
	}
	if got := testutil.ToFloat64(m.outcomes.WithLabelValues("STALE")); got != 1 {
		t.Fatalf("stale outcomes=%v", got)
	}
	if got := testutil.ToFloat64(m.anchors); got != 2 {
		t.Fatalf("anchors gauge=%v", got)
	}
	if got := testutil.ToFloat64(m.skippedTicks); got != 1 {
		t.Fatalf("skipped=%v", got)
	}
	if got := testutil.ToFloat64(m.ticks); got != 1 {
		t.Fatalf("ticks=%v", got)
	}
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	a, b := New(), New()
	a.TickDone(engine.TickReport{Cycle: 1})
	if testutil.ToFloat64(b.ticks) != 0 {
		t.Fatalf("registries share state")
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.TickDone(engine.TickReport{Cycle: 1, Anchors: 4})
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), "dynlight_anchors 4") {
		t.Fatalf("code=%d body missing gauge", rec.Code)
	}
}
