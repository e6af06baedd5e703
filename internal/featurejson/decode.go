package featurejson

import (
	"fmt"
	"maps"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/attrs"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/feature"
)

// FromGeoJSON materialises a feature from a GeoJSON feature.
//
// Properties emitted by SerializeFeature are read back into the promoted
// fields. When the properties carry no "attributes" member the remaining
// properties become the attribute bag, so plain GeoJSON from other tools
// keeps its data. Promoted fields still empty afterwards are filled by
// attrs.InitializeFromAttributes. The geodata reference is read; the
// feature id, layer and timestamps belong to storage and are not taken over.
func FromGeoJSON(gf *geojson.Feature) (*feature.Feature, error) {
	if gf == nil || gf.Geometry == nil {
		return nil, &feature.GeometryError{Reason: "geometry is null"}
	}
	f := &feature.Feature{Geometry: feature.NewGeometry(gf.Geometry)}
	if err := f.Geometry.Validate(); err != nil {
		return nil, err
	}

	props := maps.Clone(map[string]any(gf.Properties))
	if props == nil {
		props = map[string]any{}
	}

	f.Name, _ = props[PropName].(string)
	f.Description, _ = props[PropDescription].(string)
	f.ZoomRange, _ = props[PropZoomRange].(string)
	f.GeoDataID, _ = props[PropGeoData].(string)
	if c, ok := props[PropStyleColor].(string); ok && c != "" {
		f.StyleColor = &c
	}
	if o, ok := props[PropStyleOpacity].(float64); ok {
		f.StyleOpacity = &o
	}
	if w, ok := props[PropStyleWeight].(float64); ok {
		f.StyleWeight = &w
	}

	var err error
	if f.TimeFrom, err = propTime(props, PropTimeFrom); err != nil {
		return nil, err
	}
	if f.TimeTo, err = propTime(props, PropTimeTo); err != nil {
		return nil, err
	}

	if a, ok := props[PropAttributes]; ok {
		f.Attributes = attrs.FromAny(a)
	} else {
		for _, k := range []string{
			PropID, PropLayer, PropGeoData, PropTimeFrom, PropTimeTo, PropZoomRange,
			PropStyleColor, PropStyleOpacity, PropStyleWeight, PropEffectiveStyle,
		} {
			delete(props, k)
		}
		f.Attributes = attrs.FromAny(props)
	}
	attrs.InitializeFromAttributes(f)
	return f, nil
}

// DecodeCollection parses a GeoJSON FeatureCollection. Features that cannot
// be materialised are skipped and reported; the returned error is set only
// when the document itself is not a FeatureCollection.
func DecodeCollection(data []byte) ([]*feature.Feature, []error, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, nil, fmt.Errorf("decode feature collection: %w", err)
	}
	out := make([]*feature.Feature, 0, len(fc.Features))
	var errs []error
	for i, gf := range fc.Features {
		f, err := FromGeoJSON(gf)
		if err != nil {
			errs = append(errs, fmt.Errorf("feature %d: %w", i, err))
			continue
		}
		out = append(out, f)
	}
	return out, errs, nil
}

func propTime(props map[string]any, key string) (*time.Time, error) {
	v, ok := props[key]
	if !ok || v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return nil, &feature.ValidationError{Field: key, Reason: fmt.Sprintf("want timestamp string, got %T", v)}
	}
	if t, ok := feature.ParseTime(s); ok {
		return &t, nil
	}
	return nil, &feature.ValidationError{Field: key, Reason: fmt.Sprintf("malformed timestamp %q", s)}
}
