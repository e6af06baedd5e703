// Package featurejson renders features as RFC 7946 GeoJSON.
//
// Every emitted feature carries its derived attribute view and an
// effective_style property computed by package style. A feature whose
// geometry fails validation is never emitted with a null geometry: single
// serialization returns the error and collection serialization skips the
// feature and reports it.
package featurejson

import (
	"errors"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/attrs"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/feature"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/style"
)

// ContentType is the media type of GeoJSON responses.
const ContentType = "application/geo+json"

// Property keys of an emitted feature.
const (
	PropID             = "id"
	PropName           = "name"
	PropDescription    = "description"
	PropLayer          = "layer"
	PropGeoData        = "geodata"
	PropAttributes     = "attributes"
	PropTimeFrom       = "time_from"
	PropTimeTo         = "time_to"
	PropZoomRange      = "zoom_range"
	PropStyleColor     = "style_color"
	PropStyleOpacity   = "style_opacity"
	PropStyleWeight    = "style_weight"
	PropEffectiveStyle = "effective_style"
)

// SerializeFeature converts f into a GeoJSON feature, resolving its style
// against layer. A nil layer contributes no default style. The returned
// error matches feature.ErrInvalidGeometry when the geometry is null,
// mistagged or malformed.
func SerializeFeature(f *feature.Feature, layer *feature.Layer) (*geojson.Feature, error) {
	if err := f.Geometry.Validate(); err != nil {
		var ge *feature.GeometryError
		if errors.As(err, &ge) {
			c := *ge
			c.FeatureID = f.ID
			return nil, &c
		}
		return nil, err
	}

	var layerStyle map[string]any
	if layer != nil {
		layerStyle = layer.StyleConfig
	}

	gf := geojson.NewFeature(f.Geometry.Shape)
	gf.ID = f.ID
	gf.Properties = geojson.Properties{
		PropID:             f.ID,
		PropName:           f.Name,
		PropDescription:    f.Description,
		PropLayer:          nullable(f.LayerID),
		PropGeoData:        nullable(f.GeoDataID),
		PropAttributes:     map[string]any(attrs.DeriveOnRead(f)),
		PropTimeFrom:       timestamp(f.TimeFrom),
		PropTimeTo:         timestamp(f.TimeTo),
		PropZoomRange:      f.ZoomRange,
		PropStyleColor:     nullable(f.Color()),
		PropStyleOpacity:   deref(f.StyleOpacity),
		PropStyleWeight:    deref(f.StyleWeight),
		PropEffectiveStyle: style.Resolve(layerStyle, f),
	}
	return gf, nil
}

// SerializeCollection converts features that all belong to layer. Features
// that fail serialization are left out and their errors returned alongside
// the collection; the collection itself is always well formed.
func SerializeCollection(features []*feature.Feature, layer *feature.Layer) (*geojson.FeatureCollection, []error) {
	return serialize(features, func(*feature.Feature) *feature.Layer { return layer })
}

// SerializeRecords converts features drawn from any number of layers,
// looking each feature's layer up by id. A feature whose layer is missing
// from layers resolves its style against an empty layer default.
func SerializeRecords(features []*feature.Feature, layers map[string]*feature.Layer) (*geojson.FeatureCollection, []error) {
	return serialize(features, func(f *feature.Feature) *feature.Layer { return layers[f.LayerID] })
}

func serialize(features []*feature.Feature, layerOf func(*feature.Feature) *feature.Layer) (*geojson.FeatureCollection, []error) {
	fc := geojson.NewFeatureCollection()
	fc.Features = make([]*geojson.Feature, 0, len(features))
	var errs []error
	for _, f := range features {
		if f == nil {
			continue
		}
		gf, err := SerializeFeature(f, layerOf(f))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fc.Append(gf)
	}
	return fc, errs
}

func timestamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
