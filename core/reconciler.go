package core

import (
	"context"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/globe-overlay/internal/logging"
	"github.com/signalsfoundry/globe-overlay/internal/observability"
	"github.com/signalsfoundry/globe-overlay/internal/scene"
	"github.com/signalsfoundry/globe-overlay/model"
)

// MaxAircraft caps the aircraft entities drawn at once. The first records in
// snapshot order win.
const MaxAircraft = 500

// UnknownCallsign is shown for aircraft that report no callsign.
const UnknownCallsign = "UNKNOWN"

// Aircraft billboard sizes in pixels.
const (
	CivilianSymbolSize = 16
	MilitarySymbolSize = 24
)

// Satellite marker colours.
const (
	ISSColor            = "#00ff9d"
	SatelliteColor      = "#8855ff"
	satelliteNameForISS = "ISS"
)

var (
	aircraftScale        = scene.NearFarScalar{Near: 1e4, NearValue: 1.0, Far: 2e7, FarValue: 0.3}
	aircraftTranslucency = scene.NearFarScalar{Near: 1e6, NearValue: 1.0, Far: 2e7, FarValue: 0.5}
	satelliteScale       = scene.NearFarScalar{Near: 1e5, NearValue: 1.0, Far: 4e7, FarValue: 0.5}

	issPoint = scene.Point{
		PixelSize:       8,
		Color:           scene.MustParseColor(ISSColor),
		OutlineColor:    scene.MustParseColor(ISSColor).WithAlpha(0.3),
		OutlineWidth:    4,
		ScaleByDistance: satelliteScale,
	}
	otherSatellitePoint = scene.Point{
		PixelSize:       4,
		Color:           scene.MustParseColor(SatelliteColor).WithAlpha(0.8),
		OutlineColor:    scene.MustParseColor(SatelliteColor).WithAlpha(0.2),
		OutlineWidth:    2,
		ScaleByDistance: satelliteScale,
	}
)

// Skip reasons reported in ReconcileResult.Skipped.
const (
	SkipNoID       = "no_id"
	SkipNoPosition = "no_position"
	SkipDuplicate  = "duplicate"
	SkipSprite     = "sprite"
	SkipScene      = "scene"
)

// SymbolSource produces billboard images for a CSS colour.
type SymbolSource interface {
	AircraftSymbol(color string) ([]byte, error)
}

// ReconcileRecorder receives one observation per reconciliation pass.
type ReconcileRecorder interface {
	ObserveReconcile(kind string, entities int, skipped map[string]int, d time.Duration)
}

// ReconcileResult summarises one pass.
type ReconcileResult struct {
	Kind      scene.Kind
	Removed   int
	Added     int
	Truncated int
	Skipped   map[string]int
}

// Reconciler rebuilds the entity set of one telemetry type from its latest
// snapshot. Every pass removes all entities of the type and re-adds them;
// the rendered set is therefore a pure function of (snapshot, visibility).
type Reconciler struct {
	classifier  *Classifier
	symbols     SymbolSource
	maxAircraft int

	log     logging.Logger
	metrics ReconcileRecorder
}

// ReconcilerOption customises Reconciler construction.
type ReconcilerOption func(*Reconciler)

// WithClassifier overrides the default callsign classifier.
func WithClassifier(c *Classifier) ReconcilerOption {
	return func(r *Reconciler) {
		if c != nil {
			r.classifier = c
		}
	}
}

// WithMaxAircraft lowers the aircraft limit. It never exceeds MaxAircraft;
// non-positive values are ignored.
func WithMaxAircraft(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.maxAircraft = min(n, MaxAircraft)
		}
	}
}

// WithReconcileLogger attaches a structured logger.
func WithReconcileLogger(l logging.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.log = l
		}
	}
}

// WithReconcileMetrics attaches a recorder for per-pass metrics.
func WithReconcileMetrics(m ReconcileRecorder) ReconcilerOption {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// NewReconciler constructs a reconciler that draws aircraft with symbols
// from the given source.
func NewReconciler(symbols SymbolSource, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		classifier:  NewClassifier(nil),
		symbols:     symbols,
		maxAircraft: MaxAircraft,
		log:         logging.Noop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReconcileAircraft rebuilds the aircraft entities in store.
func (r *Reconciler) ReconcileAircraft(ctx context.Context, store scene.EntityStore, records []model.AircraftRecord, visible bool) ReconcileResult {
	return r.reconcile(ctx, store, scene.KindAircraft, visible, func(emit emitFunc) int {
		truncated := 0
		if len(records) > r.maxAircraft {
			truncated = len(records) - r.maxAircraft
			records = records[:r.maxAircraft]
		}
		for _, rec := range records {
			if rec.ICAO24 == "" {
				emit(nil, SkipNoID)
				continue
			}
			if !rec.HasPosition() {
				emit(nil, SkipNoPosition)
				continue
			}
			e, err := r.aircraftEntity(rec)
			if err != nil {
				r.log.Debug(ctx, "skipping aircraft without symbol",
					logging.String("icao24", rec.ICAO24),
					logging.Error(err),
				)
				emit(nil, SkipSprite)
				continue
			}
			emit(e, "")
		}
		return truncated
	})
}

// ReconcileSatellites rebuilds the satellite entities in store.
func (r *Reconciler) ReconcileSatellites(ctx context.Context, store scene.EntityStore, records []model.SatelliteRecord, visible bool) ReconcileResult {
	return r.reconcile(ctx, store, scene.KindSatellite, visible, func(emit emitFunc) int {
		for _, rec := range records {
			if rec.Position == nil || !rec.Position.IsFinite() {
				emit(nil, SkipNoPosition)
				continue
			}
			emit(satelliteEntity(rec), "")
		}
		return 0
	})
}

// emitFunc hands one built entity (or a skip reason) to the pass.
type emitFunc func(e *scene.Entity, skipReason string)

func (r *Reconciler) reconcile(ctx context.Context, store scene.EntityStore, kind scene.Kind, visible bool, build func(emitFunc) int) ReconcileResult {
	ctx, span := observability.Tracer().Start(ctx, "reconcile."+string(kind))
	defer span.End()
	start := time.Now()

	res := ReconcileResult{Kind: kind, Skipped: make(map[string]int)}

	for _, e := range store.Entities() {
		if e.Kind == kind && store.Remove(e.ID) {
			res.Removed++
		}
	}

	if visible {
		seen := make(map[string]struct{})
		res.Truncated = build(func(e *scene.Entity, reason string) {
			if e == nil {
				res.Skipped[reason]++
				return
			}
			if _, dup := seen[e.ID]; dup {
				res.Skipped[SkipDuplicate]++
				return
			}
			seen[e.ID] = struct{}{}
			if err := store.Add(e); err != nil {
				r.log.Debug(ctx, "scene rejected entity", logging.String("id", e.ID), logging.Error(err))
				res.Skipped[SkipScene]++
				return
			}
			res.Added++
		})
	}

	span.SetAttributes(
		attribute.Bool("visible", visible),
		attribute.Int("removed", res.Removed),
		attribute.Int("added", res.Added),
		attribute.Int("truncated", res.Truncated),
	)
	if r.metrics != nil {
		r.metrics.ObserveReconcile(string(kind), res.Added, res.Skipped, time.Since(start))
	}
	r.log.Debug(ctx, "reconciled layer",
		logging.String("kind", string(kind)),
		logging.Bool("visible", visible),
		logging.Int("removed", res.Removed),
		logging.Int("added", res.Added),
		logging.Int("truncated", res.Truncated),
	)
	return res
}

func (r *Reconciler) aircraftEntity(rec model.AircraftRecord) (*scene.Entity, error) {
	category := r.classifier.Classify(rec.Callsign)
	img, err := r.symbols.AircraftSymbol(category.Color())
	if err != nil {
		return nil, err
	}

	altitude := valueOr(rec.BaroAltitude, 0)
	heading := valueOr(rec.Heading, 0)
	size := CivilianSymbolSize
	if category == CategoryMilitary {
		size = MilitarySymbolSize
	}

	return &scene.Entity{
		ID:       scene.EntityID(scene.KindAircraft, rec.ICAO24),
		Kind:     scene.KindAircraft,
		Position: scene.FromDegrees(*rec.Longitude, *rec.Latitude, altitude),
		Billboard: &scene.Billboard{
			Image:                  img,
			Rotation:               -heading * math.Pi / 180,
			AlignedAxis:            scene.UnitZ,
			Width:                  size,
			Height:                 size,
			ScaleByDistance:        aircraftScale,
			TranslucencyByDistance: aircraftTranslucency,
		},
		Properties: map[string]any{
			"type":       string(scene.KindAircraft),
			"icao24":     rec.ICAO24,
			"callsign":   displayCallsign(rec.Callsign),
			"altitude":   roundHalfUp(altitude),
			"velocity":   roundHalfUp(valueOr(rec.Velocity, 0)),
			"heading":    roundHalfUp(heading),
			"isMilitary": category == CategoryMilitary,
		},
	}, nil
}

func satelliteEntity(rec model.SatelliteRecord) *scene.Entity {
	style := otherSatellitePoint
	if IsISS(rec.Name) {
		style = issPoint
	}
	return &scene.Entity{
		ID:       scene.EntityID(scene.KindSatellite, rec.ID),
		Kind:     scene.KindSatellite,
		Position: *rec.Position,
		Point:    &style,
		Properties: map[string]any{
			"type":     string(scene.KindSatellite),
			"name":     rec.Name,
			"id":       rec.ID,
			"altitude": rec.Altitude,
			"velocity": rec.Velocity,
		},
	}
}

// IsISS reports whether a satellite name designates the space station. The
// match is a case-sensitive substring test.
func IsISS(name string) bool {
	return strings.Contains(name, satelliteNameForISS)
}

func displayCallsign(callsign *string) string {
	if callsign == nil {
		return UnknownCallsign
	}
	if cs := strings.TrimSpace(*callsign); cs != "" {
		return cs
	}
	return UnknownCallsign
}

func valueOr(v *float64, def float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return def
	}
	return *v
}

// roundHalfUp rounds to the nearest integer with ties toward +Inf.
func roundHalfUp(v float64) int64 {
	return int64(math.Floor(v + 0.5))
}
