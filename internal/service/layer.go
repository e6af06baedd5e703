package service

import (
	"context"
	"strings"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/feature"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/style"
)

// LayerService manages layers and their default styles.
type LayerService struct {
	d Deps
}

func NewLayerService(d Deps) *LayerService {
	return &LayerService{d: d.withDefaults()}
}

// LayerQuery narrows List. Zero fields match everything.
type LayerQuery struct {
	Type   feature.LayerType
	Search string
}

// List returns layers ordered by name.
func (s *LayerService) List(ctx context.Context, q LayerQuery) ([]*feature.Layer, error) {
	layers, err := s.d.Store.ListLayers(ctx)
	if err != nil {
		return nil, err
	}
	term := strings.ToLower(strings.TrimSpace(q.Search))
	out := layers[:0]
	for _, l := range layers {
		if q.Type != "" && l.LayerType != q.Type {
			continue
		}
		if term != "" && !strings.Contains(strings.ToLower(l.Name), term) && !strings.Contains(l.ID, term) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *LayerService) Get(ctx context.Context, id string) (*feature.Layer, error) {
	return s.d.Store.GetLayer(ctx, id)
}

// Create adds a layer, generating its id from the name when empty.
func (s *LayerService) Create(ctx context.Context, l *feature.Layer) (*feature.Layer, error) {
	if l.LayerType != "" && !l.LayerType.Valid() {
		return nil, &feature.ValidationError{Field: "layer_type", Reason: "unknown layer type " + string(l.LayerType)}
	}
	if err := s.d.Store.CreateLayer(ctx, l); err != nil {
		return nil, err
	}
	s.d.logger(ctx, "layers").Info().Str("layer", l.ID).Msg("layer created")
	s.d.Bus.Publish(Event{Resource: ResourceLayers, Action: ActionCreated, ID: l.ID, LayerID: l.ID})
	return l, nil
}

// Update replaces the layer with the given id. Cached collections of the
// layer are dropped since its style feeds every effective_style.
func (s *LayerService) Update(ctx context.Context, id string, l *feature.Layer) (*feature.Layer, error) {
	if l.LayerType != "" && !l.LayerType.Valid() {
		return nil, &feature.ValidationError{Field: "layer_type", Reason: "unknown layer type " + string(l.LayerType)}
	}
	l.ID = id
	if err := s.d.Store.UpdateLayer(ctx, l); err != nil {
		return nil, err
	}
	s.d.invalidate(ctx, id)
	s.d.Bus.Publish(Event{Resource: ResourceLayers, Action: ActionUpdated, ID: id, LayerID: id})
	return l, nil
}

// Delete removes the layer together with its geodata and features.
func (s *LayerService) Delete(ctx context.Context, id string) error {
	if err := s.d.Store.DeleteLayer(ctx, id); err != nil {
		return err
	}
	s.d.invalidate(ctx, id)
	s.d.logger(ctx, "layers").Info().Str("layer", id).Msg("layer deleted")
	s.d.Bus.Publish(Event{Resource: ResourceLayers, Action: ActionDeleted, ID: id, LayerID: id})
	return nil
}

// Style returns the preview style of a layer: its style config over the
// map client defaults.
func (s *LayerService) Style(ctx context.Context, id string) (map[string]any, error) {
	l, err := s.d.Store.GetLayer(ctx, id)
	if err != nil {
		return nil, err
	}
	return style.Preview(l.StyleConfig), nil
}
