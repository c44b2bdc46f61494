package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OverlayCollector bundles Prometheus metrics for the overlay engine:
// entity counts per layer, reconciliation passes, skipped records, the
// sprite cache and the imagery source chosen at startup.
type OverlayCollector struct {
	gatherer prometheus.Gatherer

	Entities           *prometheus.GaugeVec
	Reconciles         *prometheus.CounterVec
	ReconcileDurations *prometheus.HistogramVec
	RecordsSkipped     *prometheus.CounterVec
	SpriteCache        *prometheus.CounterVec
	ImagerySources     *prometheus.CounterVec
	SelectionChanges   prometheus.Counter
}

// NewOverlayCollector registers overlay metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewOverlayCollector(reg prometheus.Registerer) (*OverlayCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	entities, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "overlay_entities",
		Help: "Entities currently drawn on the globe, labeled by kind.",
	}, []string{"kind"}), "overlay_entities")
	if err != nil {
		return nil, err
	}

	reconciles, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "overlay_reconcile_total",
		Help: "Reconciliation passes run, labeled by kind.",
	}, []string{"kind"}), "overlay_reconcile_total")
	if err != nil {
		return nil, err
	}

	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "overlay_reconcile_duration_seconds",
		Help:    "Duration of a reconciliation pass in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	}, []string{"kind"}), "overlay_reconcile_duration_seconds")
	if err != nil {
		return nil, err
	}

	skipped, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "overlay_records_skipped_total",
		Help: "Snapshot records that produced no entity, labeled by kind and reason.",
	}, []string{"kind", "reason"}), "overlay_records_skipped_total")
	if err != nil {
		return nil, err
	}

	sprites, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "overlay_sprite_cache_total",
		Help: "Aircraft symbol lookups, labeled by cache result.",
	}, []string{"result"}), "overlay_sprite_cache_total")
	if err != nil {
		return nil, err
	}

	imagery, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "overlay_imagery_source_total",
		Help: "Imagery sources attached at startup, labeled by source.",
	}, []string{"source"}), "overlay_imagery_source_total")
	if err != nil {
		return nil, err
	}

	selections, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overlay_selection_changes_total",
		Help: "Pointer clicks handled by the selection handler.",
	}), "overlay_selection_changes_total")
	if err != nil {
		return nil, err
	}

	return &OverlayCollector{
		gatherer:           gatherer,
		Entities:           entities,
		Reconciles:         reconciles,
		ReconcileDurations: durations,
		RecordsSkipped:     skipped,
		SpriteCache:        sprites,
		ImagerySources:     imagery,
		SelectionChanges:   selections,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *OverlayCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *OverlayCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveReconcile records one reconciliation pass for kind: the resulting
// entity count, skip reasons and the time it took.
func (c *OverlayCollector) ObserveReconcile(kind string, entities int, skipped map[string]int, d time.Duration) {
	if c == nil {
		return
	}
	c.Entities.WithLabelValues(kind).Set(float64(entities))
	c.Reconciles.WithLabelValues(kind).Inc()
	c.ReconcileDurations.WithLabelValues(kind).Observe(d.Seconds())
	for reason, n := range skipped {
		if n > 0 {
			c.RecordsSkipped.WithLabelValues(kind, reason).Add(float64(n))
		}
	}
}

// SpriteCacheHit satisfies sprite.CacheRecorder.
func (c *OverlayCollector) SpriteCacheHit() {
	if c == nil {
		return
	}
	c.SpriteCache.WithLabelValues("hit").Inc()
}

// SpriteCacheMiss satisfies sprite.CacheRecorder.
func (c *OverlayCollector) SpriteCacheMiss() {
	if c == nil {
		return
	}
	c.SpriteCache.WithLabelValues("miss").Inc()
}

// ImagerySourceSelected records which imagery path startup ended on.
func (c *OverlayCollector) ImagerySourceSelected(source string) {
	if c == nil {
		return
	}
	c.ImagerySources.WithLabelValues(source).Inc()
}

// SelectionChanged counts a handled click.
func (c *OverlayCollector) SelectionChanged() {
	if c == nil {
		return
	}
	c.SelectionChanges.Inc()
}

// register adds col to reg, returning the already-registered collector of
// the same type when the name is taken.
func register[T prometheus.Collector](reg prometheus.Registerer, col T, name string) (T, error) {
	if err := reg.Register(col); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return col, nil
}
