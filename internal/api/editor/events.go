// Package editor contains Datastar SSE handlers for the map editor.
package editor

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/humastar"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/service"
)

// EventHandler streams resource change events to the editor via SSE.
type EventHandler struct {
	bus *service.EventBus
}

func NewEventHandler(bus *service.EventBus) *EventHandler {
	return &EventHandler{bus: bus}
}

func (h *EventHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/editor/events", h.Events,
		huma.OperationTags("editor"),
	)
}

// Events sends one "resource-changed" event and a lastChange signal per
// bus event until the client goes away.
func (h *EventHandler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return humastar.Stream(func(sse humastar.SSE) {
		ch := h.bus.Subscribe()
		defer h.bus.Unsubscribe(ch)

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-ch:
				sse.DispatchCustomEvent("resource-changed", ev)
				sse.Signals(map[string]any{"lastChange": ev})
			}
		}
	}), nil
}
