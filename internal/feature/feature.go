// Package feature holds the shared domain types of the feature service:
// layers, their geodata provenance record and the features themselves.
//
// Types here carry no behaviour beyond validation and copying. Attribute
// reconciliation lives in package attrs, style merging in package style.
package feature

import (
	"maps"
	"strings"
	"time"
)

// LayerType is the kind of a layer.
type LayerType string

const (
	LayerVector  LayerType = "vector"
	LayerRaster  LayerType = "raster"
	LayerTile    LayerType = "tile"
	LayerGeoJSON LayerType = "geojson"
)

// Valid reports whether t is one of the known layer types.
func (t LayerType) Valid() bool {
	switch t {
	case LayerVector, LayerRaster, LayerTile, LayerGeoJSON:
		return true
	}
	return false
}

// Layer is a named visual grouping with default styling.
type Layer struct {
	ID          string         `json:"id,omitempty" doc:"Unique layer identifier" example:"german_major_cities"`
	Name        string         `json:"name" required:"true" minLength:"1" maxLength:"200" doc:"Display name" example:"German Major Cities"`
	LayerType   LayerType      `json:"layer_type,omitempty" enum:"vector,raster,tile,geojson" default:"vector" doc:"Layer type"`
	Opacity     float64        `json:"opacity" minimum:"0" maximum:"1" default:"1" doc:"Layer opacity (0-1)" example:"0.9"`
	StyleConfig map[string]any `json:"style_config" doc:"Default style for all features of this layer"`
	CreatedAt   time.Time      `json:"created_at" readOnly:"true" doc:"Creation time"`
	UpdatedAt   time.Time      `json:"updated_at" readOnly:"true" doc:"Last modification time"`
}

// Normalize enforces the layer invariants in place: opacity is clamped to
// [0,1], the style config is never nil and the type defaults to vector.
func (l *Layer) Normalize() {
	if l.LayerType == "" {
		l.LayerType = LayerVector
	}
	switch {
	case l.Opacity < 0:
		l.Opacity = 0
	case l.Opacity > 1:
		l.Opacity = 1
	}
	if l.StyleConfig == nil {
		l.StyleConfig = map[string]any{}
	}
}

// Clone returns a copy that shares no mutable state with l.
func (l *Layer) Clone() *Layer {
	if l == nil {
		return nil
	}
	c := *l
	c.StyleConfig = Attributes(l.StyleConfig).Clone()
	return &c
}

// GeoData describes the provenance of a layer's features.
type GeoData struct {
	ID          string    `json:"id" readOnly:"true" doc:"GeoData identifier"`
	LayerID     string    `json:"layer_id" readOnly:"true" doc:"Owning layer"`
	Name        string    `json:"name" required:"true" minLength:"1" maxLength:"200" doc:"Name of the dataset"`
	Description string    `json:"description,omitempty" doc:"Description of the dataset"`
	SourceURL   string    `json:"source_url,omitempty" format:"uri" doc:"URL of the original data source"`
	CreatedAt   time.Time `json:"created_at" readOnly:"true"`
	UpdatedAt   time.Time `json:"updated_at" readOnly:"true"`
}

// Feature is one geometric record with typed and open attributes.
//
// LayerID is denormalised by storage on every read so a single snapshot
// carries everything needed to resolve the effective style.
type Feature struct {
	ID           int64
	GeoDataID    string
	LayerID      string
	Geometry     Geometry
	Name         string
	Description  string
	StyleColor   *string
	StyleOpacity *float64
	StyleWeight  *float64
	Attributes   Attributes
	TimeFrom     *time.Time
	TimeTo       *time.Time
	ZoomRange    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Clone returns a deep copy of f.
func (f *Feature) Clone() *Feature {
	if f == nil {
		return nil
	}
	c := *f
	c.Attributes = f.Attributes.Clone()
	c.StyleColor = clonePtr(f.StyleColor)
	c.StyleOpacity = clonePtr(f.StyleOpacity)
	c.StyleWeight = clonePtr(f.StyleWeight)
	c.TimeFrom = clonePtr(f.TimeFrom)
	c.TimeTo = clonePtr(f.TimeTo)
	c.Geometry = f.Geometry.Clone()
	return &c
}

// Color returns the explicit style colour, or "" when unset.
func (f *Feature) Color() string {
	if f.StyleColor == nil {
		return ""
	}
	return strings.TrimSpace(*f.StyleColor)
}

// Attributes is the open attribute bag of a feature.
type Attributes map[string]any

// Clone deep-copies nested maps and slices so the copy can be mutated freely.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Attributes(t).Clone())
	case Attributes:
		return map[string]any(t.Clone())
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case map[string]string:
		return maps.Clone(t)
	default:
		return v
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// GenerateID creates a URL-safe ID from a name.
func GenerateID(name string) string {
	id := strings.ToLower(strings.TrimSpace(name))
	id = strings.ReplaceAll(id, " ", "_")
	var result strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
