package service

import (
	"context"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/feature"
)

// GeoDataService manages the provenance record of each layer.
type GeoDataService struct {
	d Deps
}

func NewGeoDataService(d Deps) *GeoDataService {
	return &GeoDataService{d: d.withDefaults()}
}

func (s *GeoDataService) List(ctx context.Context, layerID string) ([]*feature.GeoData, error) {
	return s.d.Store.ListGeoData(ctx, layerID)
}

func (s *GeoDataService) Get(ctx context.Context, id string) (*feature.GeoData, error) {
	return s.d.Store.GetGeoData(ctx, id)
}

// Put creates or replaces the geodata record of a layer.
func (s *GeoDataService) Put(ctx context.Context, layerID string, g *feature.GeoData) (*feature.GeoData, error) {
	g.LayerID = layerID
	if g.Name == "" {
		return nil, &feature.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	created := g.ID == ""
	if err := s.d.Store.PutGeoData(ctx, g); err != nil {
		return nil, err
	}
	action := ActionUpdated
	if created && g.CreatedAt.Equal(g.UpdatedAt) {
		action = ActionCreated
	}
	s.d.Bus.Publish(Event{Resource: ResourceGeoData, Action: action, ID: g.ID, LayerID: layerID})
	return g, nil
}
