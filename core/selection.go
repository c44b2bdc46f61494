package core

import (
	"context"

	"github.com/signalsfoundry/globe-overlay/internal/logging"
	"github.com/signalsfoundry/globe-overlay/internal/scene"
	"github.com/signalsfoundry/globe-overlay/kb"
)

// SelectionSink receives the selected entity ID, or kb.NoSelection.
type SelectionSink interface {
	SetSelection(id string)
}

// SelectionRecorder counts handled clicks.
type SelectionRecorder interface {
	SelectionChanged()
}

// SelectionHandler turns pointer clicks into selection state.
type SelectionHandler struct {
	picker  scene.Picker
	sink    SelectionSink
	log     logging.Logger
	metrics SelectionRecorder
}

// NewSelectionHandler constructs a handler. log and metrics may be nil.
func NewSelectionHandler(picker scene.Picker, sink SelectionSink, log logging.Logger, metrics SelectionRecorder) *SelectionHandler {
	if log == nil {
		log = logging.Noop()
	}
	return &SelectionHandler{picker: picker, sink: sink, log: log, metrics: metrics}
}

// HandleClick hit-tests pos and publishes the entity under it, or clears the
// selection when nothing is there.
func (h *SelectionHandler) HandleClick(pos scene.ScreenPosition) {
	id, ok := h.picker.Pick(pos)
	if !ok || id == "" {
		id = kb.NoSelection
	}
	h.sink.SetSelection(id)
	if h.metrics != nil {
		h.metrics.SelectionChanged()
	}
	h.log.Debug(context.Background(), "pointer selection",
		logging.Float("x", pos.X),
		logging.Float("y", pos.Y),
		logging.String("selected", id),
	)
}
