package kb

import (
	"sync"
	"testing"

	"github.com/signalsfoundry/globe-overlay/model"
)

func TestSnapshotsAreStoredAndNotified(t *testing.T) {
	store := NewKnowledgeBase(LayerVisibility{Aircraft: true, Satellites: true})

	var events []EventType
	store.Subscribe(func(ev Event) { events = append(events, ev.Type) })

	store.SetAircraft([]model.AircraftRecord{{ICAO24: "abc123"}})
	store.SetSatellites([]model.SatelliteRecord{{ID: "25544", Name: "ISS (ZARYA)"}})

	if got := len(store.Aircraft()); got != 1 {
		t.Fatalf("Aircraft len=%d, want 1", got)
	}
	if got := store.Satellites()[0].Name; got != "ISS (ZARYA)" {
		t.Fatalf("Satellites()[0].Name=%q, want ISS (ZARYA)", got)
	}
	want := []EventType{EventAircraftUpdated, EventSatellitesUpdated}
	if len(events) != len(want) {
		t.Fatalf("events=%v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events[%d]=%v, want %v", i, events[i], want[i])
		}
	}
}

func TestSetAircraftCopiesInput(t *testing.T) {
	store := NewKnowledgeBase(LayerVisibility{})
	in := []model.AircraftRecord{{ICAO24: "a"}}
	store.SetAircraft(in)
	in[0].ICAO24 = "mutated"

	if got := store.Aircraft()[0].ICAO24; got != "a" {
		t.Fatalf("stored ICAO24=%q, want a", got)
	}
}

func TestSetLayersNotifiesOnlyOnChange(t *testing.T) {
	store := NewKnowledgeBase(LayerVisibility{Aircraft: true})

	var got []Event
	store.Subscribe(func(ev Event) { got = append(got, ev) })

	store.SetAircraftVisible(true)
	if len(got) != 0 {
		t.Fatalf("unchanged layers emitted %d events", len(got))
	}

	store.SetAircraftVisible(false)
	if len(got) != 1 {
		t.Fatalf("expected one event, got %d", len(got))
	}
	ev := got[0]
	if ev.Type != EventLayersChanged || !ev.Previous.Aircraft || ev.Layers.Aircraft {
		t.Fatalf("unexpected event %+v", ev)
	}

	store.SetSatellitesVisible(true)
	if l := store.Layers(); l.Aircraft || !l.Satellites {
		t.Fatalf("Layers()=%+v, want satellites only", l)
	}
}

func TestSelection(t *testing.T) {
	store := NewKnowledgeBase(LayerVisibility{})
	if store.Selection() != NoSelection {
		t.Fatalf("initial selection=%q, want none", store.Selection())
	}

	var selections []string
	store.Subscribe(func(ev Event) {
		if ev.Type == EventSelectionChanged {
			selections = append(selections, ev.Selection)
		}
	})

	store.SetSelection("aircraft-abc")
	store.SetSelection("aircraft-abc")
	store.SetSelection(NoSelection)

	if len(selections) != 2 || selections[0] != "aircraft-abc" || selections[1] != NoSelection {
		t.Fatalf("selections=%q", selections)
	}
}

func TestUnsubscribe(t *testing.T) {
	store := NewKnowledgeBase(LayerVisibility{})

	var a, b int
	unsubA := store.Subscribe(func(Event) { a++ })
	store.Subscribe(func(Event) { b++ })

	store.SetSelection("x")
	unsubA()
	unsubA()
	store.SetSelection("y")

	if a != 1 || b != 2 {
		t.Fatalf("a=%d b=%d, want 1 and 2", a, b)
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := NewKnowledgeBase(LayerVisibility{})
	store.Subscribe(func(Event) {})

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			store.SetAircraft(make([]model.AircraftRecord, i))
			store.SetAircraftVisible(i%2 == 0)
		}()
		go func() {
			defer wg.Done()
			_ = store.Aircraft()
			_ = store.Layers()
		}()
	}
	wg.Wait()
}
