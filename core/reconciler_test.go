package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/globe-overlay/internal/scene"
	"github.com/signalsfoundry/globe-overlay/model"
)

// stubSymbols returns a fixed image per colour and counts requests.
type stubSymbols struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func (s *stubSymbols) AircraftSymbol(color string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[color]++
	if s.fail[color] {
		return nil, errors.New("render failed")
	}
	return []byte("png:" + color), nil
}

type recordedPass struct {
	kind     string
	entities int
	skipped  map[string]int
}

type recordingReconcileMetrics struct {
	passes []recordedPass
}

func (m *recordingReconcileMetrics) ObserveReconcile(kind string, entities int, skipped map[string]int, _ time.Duration) {
	m.passes = append(m.passes, recordedPass{kind: kind, entities: entities, skipped: skipped})
}

func aircraft(icao, callsign string, lon, lat float64) model.AircraftRecord {
	return model.AircraftRecord{
		ICAO24:       icao,
		Callsign:     model.String(callsign),
		Longitude:    model.Float(lon),
		Latitude:     model.Float(lat),
		BaroAltitude: model.Float(10000),
		Velocity:     model.Float(230.4),
		Heading:      model.Float(90),
	}
}

func satelliteRecord(id, name string, lon, lat, heightM float64) model.SatelliteRecord {
	pos := scene.FromDegrees(lon, lat, heightM)
	return model.SatelliteRecord{ID: id, Name: name, Position: &pos, Altitude: heightM / 1000, Velocity: 7.66}
}

func countKind(store *scene.Memory, kind scene.Kind) int {
	n := 0
	for _, e := range store.Entities() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func TestReconcileAircraftSkipsMissingPosition(t *testing.T) {
	store := scene.NewMemory(0, 0)
	r := NewReconciler(&stubSymbols{})

	noLat := aircraft("b", "DAL2", 1, 0)
	noLat.Latitude = nil
	nanLon := aircraft("c", "DAL3", 0, 1)
	nanLon.Longitude = model.Float(math.NaN())

	res := r.ReconcileAircraft(context.Background(), store,
		[]model.AircraftRecord{aircraft("a", "DAL1", 0, 0), noLat, nanLon}, true)

	if res.Added != 1 || res.Skipped[SkipNoPosition] != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if store.Entity("aircraft-a") == nil {
		t.Fatalf("aircraft at 0,0 should be drawn")
	}
}

func TestReconcileAircraftIsIdempotent(t *testing.T) {
	store := scene.NewMemory(0, 0)
	r := NewReconciler(&stubSymbols{})
	records := []model.AircraftRecord{
		aircraft("a", "DAL1", 10, 20),
		aircraft("b", "RCH1", -30, 40),
	}

	first := r.ReconcileAircraft(context.Background(), store, records, true)
	before := store.Entities()
	second := r.ReconcileAircraft(context.Background(), store, records, true)
	after := store.Entities()

	if first.Added != 2 || second.Removed != 2 || second.Added != 2 {
		t.Fatalf("unexpected results %+v then %+v", first, second)
	}
	if len(before) != len(after) {
		t.Fatalf("entity count changed %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i].ID != after[i].ID || before[i].Position != after[i].Position {
			t.Fatalf("entity %d differs between passes: %+v vs %+v", i, before[i], after[i])
		}
	}
}

func TestReconcileAircraftTruncatesInSnapshotOrder(t *testing.T) {
	store := scene.NewMemory(0, 0)
	r := NewReconciler(&stubSymbols{})

	records := make([]model.AircraftRecord, 800)
	for i := range records {
		records[i] = aircraft(fmt.Sprintf("%06x", i), "DAL", float64(i%360)-180, 0)
	}

	res := r.ReconcileAircraft(context.Background(), store, records, true)
	if res.Added != MaxAircraft || res.Truncated != 300 {
		t.Fatalf("unexpected result %+v", res)
	}
	if store.Len() != MaxAircraft {
		t.Fatalf("scene holds %d entities, want %d", store.Len(), MaxAircraft)
	}
	if store.Entity(scene.EntityID(scene.KindAircraft, fmt.Sprintf("%06x", 499))) == nil {
		t.Fatalf("record 499 should be drawn")
	}
	if store.Entity(scene.EntityID(scene.KindAircraft, fmt.Sprintf("%06x", 500))) != nil {
		t.Fatalf("record 500 should be cut")
	}
}

func TestReconcileAircraftBlankIDsCountTowardLimit(t *testing.T) {
	store := scene.NewMemory(0, 0)
	r := NewReconciler(&stubSymbols{})

	rows := make([][]any, 600)
	for i := range rows {
		id := any(fmt.Sprintf("%06x", i))
		if i < 100 {
			id = nil
		}
		rows[i] = []any{id, "DAL", "US", 0, 0, float64(i%360) - 180, 0.0}
	}
	res := r.ReconcileAircraft(context.Background(), store, model.ParseStateVectors(rows), true)

	if res.Added != 400 || res.Skipped[SkipNoID] != 100 || res.Truncated != 100 {
		t.Fatalf("unexpected result %+v", res)
	}
	if store.Entity(scene.EntityID(scene.KindAircraft, fmt.Sprintf("%06x", 499))) == nil {
		t.Fatalf("row 499 should be drawn")
	}
	if store.Entity(scene.EntityID(scene.KindAircraft, fmt.Sprintf("%06x", 500))) != nil {
		t.Fatalf("row 500 lies past the limit and should be cut")
	}
}

func TestReconcileMaxAircraftOption(t *testing.T) {
	store := scene.NewMemory(0, 0)
	r := NewReconciler(&stubSymbols{}, WithMaxAircraft(1))
	res := r.ReconcileAircraft(context.Background(), store,
		[]model.AircraftRecord{aircraft("a", "X", 0, 0), aircraft("b", "Y", 1, 1)}, true)
	if res.Added != 1 || res.Truncated != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestReconcileMaxAircraftCannotRaiseLimit(t *testing.T) {
	store := scene.NewMemory(0, 0)
	r := NewReconciler(&stubSymbols{}, WithMaxAircraft(800))

	records := make([]model.AircraftRecord, 800)
	for i := range records {
		records[i] = aircraft(fmt.Sprintf("%06x", i), "DAL", float64(i%360)-180, 0)
	}
	res := r.ReconcileAircraft(context.Background(), store, records, true)
	if res.Added != MaxAircraft || res.Truncated != 300 {
		t.Fatalf("unexpected result %+v", res)
	}
	if store.Len() != MaxAircraft {
		t.Fatalf("scene holds %d entities, want %d", store.Len(), MaxAircraft)
	}
}

func TestReconcileVisibilityToggle(t *testing.T) {
	store := scene.NewMemory(0, 0)
	r := NewReconciler(&stubSymbols{})
	ctx := context.Background()

	planes := []model.AircraftRecord{aircraft("a", "DAL1", 0, 0), aircraft("b", "DAL2", 5, 5)}
	sats := []model.SatelliteRecord{satelliteRecord("25544", "ISS (ZARYA)", 10, 10, 4.2e5)}

	r.ReconcileAircraft(ctx, store, planes, true)
	r.ReconcileSatellites(ctx, store, sats, true)

	res := r.ReconcileAircraft(ctx, store, planes, false)
	if res.Removed != 2 || res.Added != 0 {
		t.Fatalf("hide pass result %+v", res)
	}
	if countKind(store, scene.KindAircraft) != 0 {
		t.Fatalf("aircraft remain after hide")
	}
	if countKind(store, scene.KindSatellite) != 1 {
		t.Fatalf("satellites must be untouched by the aircraft pass")
	}

	r.ReconcileAircraft(ctx, store, planes, true)
	if countKind(store, scene.KindAircraft) != 2 {
		t.Fatalf("aircraft not restored after show")
	}
}

func TestReconcileAircraftStylingAndProperties(t *testing.T) {
	store := scene.NewMemory(0, 0)
	symbols := &stubSymbols{}
	r := NewReconciler(symbols)

	civ := aircraft("abc123", " DAL123 ", 0, 0)
	civ.Velocity = model.Float(230.5)
	civ.BaroAltitude = model.Float(10972.8)
	civ.Heading = model.Float(-0.5)
	mil := aircraft("ae0001", "RCH123", 10, 10)
	anon := aircraft("000001", "   ", 20, 20)
	anon.BaroAltitude = nil
	anon.Velocity = nil
	anon.Heading = nil

	r.ReconcileAircraft(context.Background(), store, []model.AircraftRecord{civ, mil, anon}, true)

	c := store.Entity("aircraft-abc123")
	if c == nil || c.Billboard == nil {
		t.Fatalf("civilian aircraft missing or without billboard: %+v", c)
	}
	if c.Billboard.Width != CivilianSymbolSize || string(c.Billboard.Image) != "png:"+CivilianColor {
		t.Fatalf("civilian billboard %+v", c.Billboard)
	}
	if c.Billboard.AlignedAxis != scene.UnitZ {
		t.Fatalf("billboard must rotate about the local vertical, got %+v", c.Billboard.AlignedAxis)
	}
	wantProps := map[string]any{
		"type":       "aircraft",
		"icao24":     "abc123",
		"callsign":   "DAL123",
		"altitude":   int64(10973),
		"velocity":   int64(231),
		"heading":    int64(0),
		"isMilitary": false,
	}
	for k, want := range wantProps {
		if got := c.Properties[k]; got != want {
			t.Fatalf("property %s = %#v, want %#v", k, got, want)
		}
	}

	m := store.Entity("aircraft-ae0001")
	if m.Billboard.Width != MilitarySymbolSize || m.Billboard.Height != MilitarySymbolSize {
		t.Fatalf("military billboard size %dx%d", m.Billboard.Width, m.Billboard.Height)
	}
	if string(m.Billboard.Image) != "png:"+MilitaryColor || m.Properties["isMilitary"] != true {
		t.Fatalf("military entity %+v", m)
	}
	if got, want := m.Billboard.Rotation, -math.Pi/2; math.Abs(got-want) > 1e-12 {
		t.Fatalf("rotation %v, want %v", got, want)
	}

	a := store.Entity("aircraft-000001")
	if a.Properties["callsign"] != UnknownCallsign {
		t.Fatalf("blank callsign shown as %#v", a.Properties["callsign"])
	}
	if a.Properties["altitude"] != int64(0) || a.Properties["velocity"] != int64(0) || a.Properties["heading"] != int64(0) {
		t.Fatalf("missing numbers should default to 0: %+v", a.Properties)
	}
	if a.Billboard.Rotation != 0 {
		t.Fatalf("missing heading should not rotate, got %v", a.Billboard.Rotation)
	}
	if _, _, h := a.Position.ToDegrees(); math.Abs(h) > 1e-2 {
		t.Fatalf("missing altitude should sit on the ellipsoid, got %v", h)
	}
}

func TestReconcileAircraftDuplicatesFirstWins(t *testing.T) {
	store := scene.NewMemory(0, 0)
	r := NewReconciler(&stubSymbols{})

	res := r.ReconcileAircraft(context.Background(), store, []model.AircraftRecord{
		aircraft("dup", "FIRST", 0, 0),
		aircraft("dup", "SECOND", 50, 50),
	}, true)

	if res.Added != 1 || res.Skipped[SkipDuplicate] != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := store.Entity("aircraft-dup").Properties["callsign"]; got != "FIRST" {
		t.Fatalf("kept callsign %v, want FIRST", got)
	}
}

func TestReconcileAircraftSpriteFailureSkipsRecord(t *testing.T) {
	store := scene.NewMemory(0, 0)
	r := NewReconciler(&stubSymbols{fail: map[string]bool{MilitaryColor: true}})

	res := r.ReconcileAircraft(context.Background(), store, []model.AircraftRecord{
		aircraft("a", "RCH1", 0, 0),
		aircraft("b", "DAL1", 1, 1),
	}, true)
	if res.Added != 1 || res.Skipped[SkipSprite] != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestReconcileSatelliteStyling(t *testing.T) {
	store := scene.NewMemory(0, 0)
	r := NewReconciler(&stubSymbols{})

	res := r.ReconcileSatellites(context.Background(), store, []model.SatelliteRecord{
		satelliteRecord("25544", "ISS (ZARYA)", 0, 0, 4.2e5),
		satelliteRecord("44713", "STARLINK-1007", 10, 10, 5.5e5),
		{ID: "99999", Name: "LOST"},
	}, true)

	if res.Added != 2 || res.Skipped[SkipNoPosition] != 1 {
		t.Fatalf("unexpected result %+v", res)
	}

	iss := store.Entity("satellite-25544")
	if iss.Point == nil || iss.Point.PixelSize != 8 || iss.Point.OutlineWidth != 4 {
		t.Fatalf("ISS point %+v", iss.Point)
	}
	if iss.Point.Color != scene.MustParseColor(ISSColor) {
		t.Fatalf("ISS colour %+v", iss.Point.Color)
	}

	other := store.Entity("satellite-44713")
	if other.Point.PixelSize != 4 || other.Point.OutlineWidth != 2 {
		t.Fatalf("satellite point %+v", other.Point)
	}
	if other.Point.Color != scene.MustParseColor(SatelliteColor).WithAlpha(0.8) {
		t.Fatalf("satellite colour %+v", other.Point.Color)
	}
	if other.Properties["name"] != "STARLINK-1007" || other.Properties["id"] != "44713" || other.Properties["type"] != "satellite" {
		t.Fatalf("satellite properties %+v", other.Properties)
	}
}

func TestIsISS(t *testing.T) {
	if !IsISS("ISS (ZARYA)") || IsISS("iss") || IsISS("STARLINK-1") {
		t.Fatalf("unexpected ISS matching")
	}
}

func TestReconcileRecordsMetrics(t *testing.T) {
	store := scene.NewMemory(0, 0)
	metrics := &recordingReconcileMetrics{}
	r := NewReconciler(&stubSymbols{}, WithReconcileMetrics(metrics))

	noPos := aircraft("b", "DAL2", 0, 0)
	noPos.Longitude = nil
	r.ReconcileAircraft(context.Background(), store, []model.AircraftRecord{aircraft("a", "DAL1", 0, 0), noPos}, true)

	if len(metrics.passes) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(metrics.passes))
	}
	p := metrics.passes[0]
	if p.kind != "aircraft" || p.entities != 1 || p.skipped[SkipNoPosition] != 1 {
		t.Fatalf("unexpected observation %+v", p)
	}
}

func TestRoundHalfUp(t *testing.T) {
	tests := map[float64]int64{0.5: 1, -0.5: 0, 1.49: 1, -1.5: -1, 230.5: 231}
	for in, want := range tests {
		if got := roundHalfUp(in); got != want {
			t.Fatalf("roundHalfUp(%v)=%d, want %d", in, got, want)
		}
	}
}
