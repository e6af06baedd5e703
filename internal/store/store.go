// Package store persists layers, their geodata records and features.
//
// Two implementations exist: Memory, an in-process store with an R-tree
// bbox index, and DuckDB, a file backed SQL store. Both hand out copies:
// a returned value is a point-in-time snapshot that the caller may mutate,
// and every write of a feature's promoted fields and attribute bag is
// applied atomically.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/paulmach/orb"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/feature"
)

// Store is the storage collaborator of the feature service.
type Store interface {
	// ListLayers returns all layers ordered by name.
	ListLayers(ctx context.Context) ([]*feature.Layer, error)
	GetLayer(ctx context.Context, id string) (*feature.Layer, error)
	// CreateLayer inserts l, generating its id from the name when empty.
	// A duplicate id or name is feature.ErrConflict.
	CreateLayer(ctx context.Context, l *feature.Layer) error
	UpdateLayer(ctx context.Context, l *feature.Layer) error
	// DeleteLayer removes the layer together with its geodata and features.
	DeleteLayer(ctx context.Context, id string) error

	GetGeoData(ctx context.Context, id string) (*feature.GeoData, error)
	// ListGeoData returns geodata records ordered by name, restricted to
	// one layer when layerID is set.
	ListGeoData(ctx context.Context, layerID string) ([]*feature.GeoData, error)
	// PutGeoData creates or replaces the single geodata record of
	// g.LayerID. A new record without an id takes the layer's id.
	PutGeoData(ctx context.Context, g *feature.GeoData) error

	GetFeature(ctx context.Context, id int64) (*feature.Feature, error)
	// ListFeatures returns the candidates in scope ordered by id. Scope
	// narrows the candidate set only; callers apply package filter for the
	// exact predicate semantics.
	ListFeatures(ctx context.Context, scope Scope) ([]*feature.Feature, error)
	// SaveFeature inserts f when f.ID is zero and replaces it otherwise.
	// The geodata must exist; f.LayerID, f.ID and the timestamps are set
	// from storage.
	SaveFeature(ctx context.Context, f *feature.Feature) error
	DeleteFeature(ctx context.Context, id int64) error

	Close() error
}

// Scope narrows ListFeatures.
type Scope struct {
	LayerID   string
	GeoDataID string
	BBox      *orb.Bound
}

func (s Scope) match(f *feature.Feature) bool {
	if s.LayerID != "" && f.LayerID != s.LayerID {
		return false
	}
	if s.GeoDataID != "" && f.GeoDataID != s.GeoDataID {
		return false
	}
	return true
}

func layerNotFound(id string) error {
	return fmt.Errorf("layer %q: %w", id, feature.ErrNotFound)
}

func geoDataNotFound(id string) error {
	return fmt.Errorf("geodata %q: %w", id, feature.ErrNotFound)
}

func featureNotFound(id int64) error {
	return fmt.Errorf("feature %d: %w", id, feature.ErrNotFound)
}

func prepareLayer(l *feature.Layer) error {
	if l.ID == "" {
		l.ID = feature.GenerateID(l.Name)
	}
	if l.ID == "" {
		return &feature.ValidationError{Field: "name", Reason: "must contain at least one letter or digit"}
	}
	l.Normalize()
	return nil
}

// nowMicros matches the microsecond resolution of SQL timestamps so a
// written record reads back unchanged.
func nowMicros() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
