package core

import (
	"context"

	"github.com/signalsfoundry/globe-overlay/internal/logging"
	"github.com/signalsfoundry/globe-overlay/internal/scene"
	"github.com/signalsfoundry/globe-overlay/kb"
)

// Overlay keeps the scene in step with the knowledge base: every snapshot
// arrival and every layer toggle triggers one full reconciliation pass for
// the affected type.
type Overlay struct {
	state    *kb.KnowledgeBase
	store    scene.EntityStore
	rec      *Reconciler
	dispatch Dispatcher
	log      logging.Logger
}

// NewOverlay wires a reconciler between state and store. When dispatch is
// non-nil, passes triggered by KB events run on it; otherwise they run
// synchronously on the goroutine that changed the KB. A timectrl.Loop
// dispatcher runs passes for writes made on the loop inline.
func NewOverlay(state *kb.KnowledgeBase, store scene.EntityStore, rec *Reconciler, dispatch Dispatcher, log logging.Logger) *Overlay {
	if log == nil {
		log = logging.Noop()
	}
	return &Overlay{state: state, store: store, rec: rec, dispatch: dispatch, log: log}
}

// Start subscribes to the knowledge base and draws the current state once.
// The returned function unsubscribes.
func (o *Overlay) Start(ctx context.Context) (stop func()) {
	unsubscribe := o.state.Subscribe(func(ev kb.Event) {
		if ev.Type == kb.EventSelectionChanged {
			return
		}
		o.schedule(func() { o.handle(context.WithoutCancel(ctx), ev) })
	})
	o.schedule(func() { o.SyncAll(context.WithoutCancel(ctx)) })
	return unsubscribe
}

// SyncAircraft reconciles the aircraft layer against the latest snapshot.
func (o *Overlay) SyncAircraft(ctx context.Context) ReconcileResult {
	return o.rec.ReconcileAircraft(ctx, o.store, o.state.Aircraft(), o.state.Layers().Aircraft)
}

// SyncSatellites reconciles the satellite layer against the latest snapshot.
func (o *Overlay) SyncSatellites(ctx context.Context) ReconcileResult {
	return o.rec.ReconcileSatellites(ctx, o.store, o.state.Satellites(), o.state.Layers().Satellites)
}

// SyncAll reconciles both layers.
func (o *Overlay) SyncAll(ctx context.Context) {
	o.SyncAircraft(ctx)
	o.SyncSatellites(ctx)
}

func (o *Overlay) handle(ctx context.Context, ev kb.Event) {
	switch ev.Type {
	case kb.EventAircraftUpdated:
		o.SyncAircraft(ctx)
	case kb.EventSatellitesUpdated:
		o.SyncSatellites(ctx)
	case kb.EventLayersChanged:
		if ev.Previous.Aircraft != ev.Layers.Aircraft {
			o.SyncAircraft(ctx)
		}
		if ev.Previous.Satellites != ev.Layers.Satellites {
			o.SyncSatellites(ctx)
		}
	}
}

func (o *Overlay) schedule(fn func()) {
	if o.dispatch == nil {
		fn()
		return
	}
	if !o.dispatch.Post(fn) {
		o.log.Debug(context.Background(), "event loop closed; reconciliation dropped")
	}
}
