package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestObserveReconcileRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewOverlayCollector(reg)
	if err != nil {
		t.Fatalf("NewOverlayCollector: %v", err)
	}

	collector.ObserveReconcile("aircraft", 42, map[string]int{"no_position": 3, "duplicate": 0}, 2*time.Millisecond)

	if got := testutil.ToFloat64(collector.Entities.WithLabelValues("aircraft")); got != 42 {
		t.Fatalf("overlay_entities = %v, want 42", got)
	}
	if got := testutil.ToFloat64(collector.Reconciles.WithLabelValues("aircraft")); got != 1 {
		t.Fatalf("overlay_reconcile_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.RecordsSkipped.WithLabelValues("aircraft", "no_position")); got != 3 {
		t.Fatalf("overlay_records_skipped_total = %v, want 3", got)
	}
	if got := testutil.CollectAndCount(collector.RecordsSkipped); got != 1 {
		t.Fatalf("zero-count reasons should not create series, got %d", got)
	}
	if count := histogramSampleCount(t, reg, "overlay_reconcile_duration_seconds", map[string]string{"kind": "aircraft"}); count != 1 {
		t.Fatalf("overlay_reconcile_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestSpriteAndImageryCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewOverlayCollector(reg)
	if err != nil {
		t.Fatalf("NewOverlayCollector: %v", err)
	}

	collector.SpriteCacheMiss()
	collector.SpriteCacheHit()
	collector.SpriteCacheHit()
	collector.ImagerySourceSelected("fallback")
	collector.SelectionChanged()

	if got := testutil.ToFloat64(collector.SpriteCache.WithLabelValues("hit")); got != 2 {
		t.Fatalf("sprite hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.SpriteCache.WithLabelValues("miss")); got != 1 {
		t.Fatalf("sprite misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.ImagerySources.WithLabelValues("fallback")); got != 1 {
		t.Fatalf("imagery fallback = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.SelectionChanges); got != 1 {
		t.Fatalf("selection changes = %v, want 1", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *OverlayCollector
	c.ObserveReconcile("satellite", 1, nil, time.Millisecond)
	c.SpriteCacheHit()
	c.SpriteCacheMiss()
	c.ImagerySourceSelected("preferred")
	c.SelectionChanged()
	if c.Gatherer() != nil {
		t.Fatalf("nil collector returned a gatherer")
	}
}

func TestRegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewOverlayCollector(reg)
	if err != nil {
		t.Fatalf("first NewOverlayCollector: %v", err)
	}
	second, err := NewOverlayCollector(reg)
	if err != nil {
		t.Fatalf("second NewOverlayCollector: %v", err)
	}

	second.SelectionChanged()
	if got := testutil.ToFloat64(first.SelectionChanges); got != 1 {
		t.Fatalf("collectors not shared: first sees %v", got)
	}
}

func TestMetricsHandlerExposesOverlayMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewOverlayCollector(reg)
	if err != nil {
		t.Fatalf("NewOverlayCollector: %v", err)
	}
	collector.ObserveReconcile("satellite", 7, nil, time.Millisecond)
	collector.SpriteCacheMiss()
	collector.ImagerySourceSelected("preferred")
	collector.SelectionChanged()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"overlay_entities",
		"overlay_reconcile_total",
		"overlay_reconcile_duration_seconds",
		"overlay_sprite_cache_total",
		"overlay_imagery_source_total",
		"overlay_selection_changes_total",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
	if !strings.Contains(body, `overlay_entities{kind="satellite"} 7`) {
		t.Fatalf("/metrics output missing satellite gauge: %s", body)
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
