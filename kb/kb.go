package kb

import (
	"slices"
	"sync"

	"github.com/signalsfoundry/globe-overlay/model"
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventAircraftUpdated EventType = iota
	EventSatellitesUpdated
	EventLayersChanged
	EventSelectionChanged
)

func (t EventType) String() string {
	switch t {
	case EventAircraftUpdated:
		return "aircraft_updated"
	case EventSatellitesUpdated:
		return "satellites_updated"
	case EventLayersChanged:
		return "layers_changed"
	case EventSelectionChanged:
		return "selection_changed"
	default:
		return "unknown"
	}
}

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type EventType

	// Previous is the visibility before an EventLayersChanged.
	Previous LayerVisibility
	Layers   LayerVisibility

	Selection string
}

// LayerVisibility holds the per-type draw flags.
type LayerVisibility struct {
	Aircraft   bool
	Satellites bool
}

// NoSelection is the selection value when nothing is selected.
const NoSelection = ""

// KnowledgeBase is the explicit shared state passed to every overlay
// component: the latest snapshot per telemetry type, the layer flags and
// the current selection. Each field has a single writer (the feed for
// snapshots, the shell for layers, the selection handler for selection);
// readers use the accessors.
type KnowledgeBase struct {
	mu sync.RWMutex

	aircraft   []model.AircraftRecord
	satellites []model.SatelliteRecord
	layers     LayerVisibility
	selection  string

	subs   []subscriber
	nextID int
}

type subscriber struct {
	id int
	fn func(Event)
}

// NewKnowledgeBase constructs an empty KB with the given initial layers.
func NewKnowledgeBase(layers LayerVisibility) *KnowledgeBase {
	return &KnowledgeBase{layers: layers}
}

// Aircraft returns the latest aircraft snapshot. The slice is shared and
// must be treated as read-only.
func (kb *KnowledgeBase) Aircraft() []model.AircraftRecord {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.aircraft
}

// Satellites returns the latest satellite snapshot. The slice is shared and
// must be treated as read-only.
func (kb *KnowledgeBase) Satellites() []model.SatelliteRecord {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.satellites
}

// Layers returns the current visibility flags.
func (kb *KnowledgeBase) Layers() LayerVisibility {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.layers
}

// Selection returns the selected entity ID, or NoSelection.
func (kb *KnowledgeBase) Selection() string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.selection
}

// SetAircraft replaces the aircraft snapshot and notifies subscribers.
func (kb *KnowledgeBase) SetAircraft(records []model.AircraftRecord) {
	kb.mu.Lock()
	kb.aircraft = slices.Clone(records)
	ev := Event{Type: EventAircraftUpdated, Layers: kb.layers}
	subs := kb.snapshotSubs()
	kb.mu.Unlock()

	notify(subs, ev)
}

// SetSatellites replaces the satellite snapshot and notifies subscribers.
func (kb *KnowledgeBase) SetSatellites(records []model.SatelliteRecord) {
	kb.mu.Lock()
	kb.satellites = slices.Clone(records)
	ev := Event{Type: EventSatellitesUpdated, Layers: kb.layers}
	subs := kb.snapshotSubs()
	kb.mu.Unlock()

	notify(subs, ev)
}

// SetLayers replaces the visibility flags. Subscribers are only notified
// when a flag actually changes.
func (kb *KnowledgeBase) SetLayers(layers LayerVisibility) {
	kb.mu.Lock()
	prev := kb.layers
	if prev == layers {
		kb.mu.Unlock()
		return
	}
	kb.layers = layers
	ev := Event{Type: EventLayersChanged, Previous: prev, Layers: layers}
	subs := kb.snapshotSubs()
	kb.mu.Unlock()

	notify(subs, ev)
}

// SetAircraftVisible toggles the aircraft layer.
func (kb *KnowledgeBase) SetAircraftVisible(visible bool) {
	layers := kb.Layers()
	layers.Aircraft = visible
	kb.SetLayers(layers)
}

// SetSatellitesVisible toggles the satellite layer.
func (kb *KnowledgeBase) SetSatellitesVisible(visible bool) {
	layers := kb.Layers()
	layers.Satellites = visible
	kb.SetLayers(layers)
}

// SetSelection records the selected entity ID (NoSelection clears it).
// Subscribers are only notified on change.
func (kb *KnowledgeBase) SetSelection(id string) {
	kb.mu.Lock()
	if kb.selection == id {
		kb.mu.Unlock()
		return
	}
	kb.selection = id
	ev := Event{Type: EventSelectionChanged, Layers: kb.layers, Selection: id}
	subs := kb.snapshotSubs()
	kb.mu.Unlock()

	notify(subs, ev)
}

// Subscribe registers a callback for KB events. It returns an unsubscribe
// function that is safe to call more than once.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextID
	kb.nextID++
	kb.subs = append(kb.subs, subscriber{id: id, fn: fn})

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		kb.subs = slices.DeleteFunc(kb.subs, func(s subscriber) bool { return s.id == id })
	}
}

// snapshotSubs copies the subscriber list; callers hold kb.mu.
func (kb *KnowledgeBase) snapshotSubs() []subscriber {
	return slices.Clone(kb.subs)
}

// notify runs callbacks outside the lock to avoid deadlocks.
func notify(subs []subscriber, ev Event) {
	for _, s := range subs {
		s.fn(ev)
	}
}
