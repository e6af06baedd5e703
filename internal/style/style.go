// Package style computes the effective style of a feature.
//
// Three tiers are merged, lowest first: the layer's style_config, the
// feature's explicit style fields and the feature's attributes["style"]
// sub-map. A later tier overwrites identical keys; unknown keys pass
// through untouched.
package style

import (
	"maps"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/attrs"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/feature"
)

// Leaflet path keys written by tier 2 in addition to the attribute keys.
const (
	FillColor   = "fillColor"
	FillOpacity = "fillOpacity"
	Radius      = "radius"
)

// Resolve returns the effective style of f under layerStyle. It never
// mutates its inputs and returns an empty map when every tier is empty.
// A style attribute that is not a mapping contributes nothing.
func Resolve(layerStyle map[string]any, f *feature.Feature) map[string]any {
	out := make(map[string]any, len(layerStyle)+5)
	maps.Copy(out, layerStyle)
	if f == nil {
		return out
	}

	fields := attrs.FromFields(f)
	if fields.Color != nil {
		out[attrs.StyleColor] = *fields.Color
		out[FillColor] = *fields.Color
	}
	if fields.Opacity != nil {
		out[attrs.StyleOpacity] = *fields.Opacity
		out[FillOpacity] = *fields.Opacity
	}
	if fields.Weight != nil {
		out[attrs.StyleWeight] = *fields.Weight
	}

	override, err := attrs.ParseStyle(f.Attributes[attrs.KeyStyle])
	if err != nil {
		return out
	}
	maps.Copy(out, override.Map())
	return out
}

// Defaults is the base style used for layer previews.
func Defaults() map[string]any {
	return map[string]any{
		attrs.StyleColor:   "#3388ff",
		FillColor:          "#3388ff",
		attrs.StyleWeight:  2.0,
		attrs.StyleOpacity: 0.8,
		FillOpacity:        0.6,
		Radius:             8.0,
	}
}

// Preview returns the style a layer preview renders with: the layer's
// style_config over Defaults, resolved like a feature with no overrides.
func Preview(layerStyle map[string]any) map[string]any {
	base := Defaults()
	maps.Copy(base, layerStyle)
	return Resolve(base, nil)
}
