package attrs

import (
	"encoding/json"
	"fmt"
	"maps"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/feature"
)

// Known keys of the attribute bag.
const (
	KeyName        = "name"
	KeyDescription = "description"
	KeyStyle       = "style"

	StyleColor   = "color"
	StyleOpacity = "opacity"
	StyleWeight  = "weight"
)

// Style is the typed view of attributes["style"]. Known keys are typed;
// every other key, and any known key whose value has an unexpected type,
// lives in Extra so nothing is lost on the way back to a map.
type Style struct {
	Color   *string
	Opacity *float64
	Weight  *float64
	Extra   map[string]any
}

// ParseStyle converts an attributes["style"] value. A nil value yields an
// empty style; any other non-map value yields ErrAttributeTypeMismatch.
func ParseStyle(v any) (Style, error) {
	var s Style
	m, ok := asMap(v)
	if !ok {
		if v == nil {
			return s, nil
		}
		return s, fmt.Errorf("%w: style is %T, want mapping", feature.ErrAttributeTypeMismatch, v)
	}
	for k, val := range m {
		switch k {
		case StyleColor:
			if c, ok := val.(string); ok {
				s.Color = &c
				continue
			}
		case StyleOpacity:
			if f, ok := asFloat(val); ok {
				s.Opacity = &f
				continue
			}
		case StyleWeight:
			if f, ok := asFloat(val); ok {
				s.Weight = &f
				continue
			}
		}
		if s.Extra == nil {
			s.Extra = map[string]any{}
		}
		s.Extra[k] = val
	}
	return s, nil
}

// Empty reports whether the style carries no keys at all.
func (s Style) Empty() bool {
	return s.Color == nil && s.Opacity == nil && s.Weight == nil && len(s.Extra) == 0
}

// Map flattens the style back into a mapping.
func (s Style) Map() map[string]any {
	out := make(map[string]any, len(s.Extra)+3)
	maps.Copy(out, s.Extra)
	if s.Color != nil {
		out[StyleColor] = *s.Color
	}
	if s.Opacity != nil {
		out[StyleOpacity] = *s.Opacity
	}
	if s.Weight != nil {
		out[StyleWeight] = *s.Weight
	}
	return out
}

// FromFields builds the style contributed by a feature's explicit fields.
// Only non-null fields are set; an empty colour counts as null.
func FromFields(f *feature.Feature) Style {
	var s Style
	if c := f.Color(); c != "" {
		s.Color = &c
	}
	if f.StyleOpacity != nil {
		o := *f.StyleOpacity
		s.Opacity = &o
	}
	if f.StyleWeight != nil {
		w := *f.StyleWeight
		s.Weight = &w
	}
	return s
}

// Overlay returns s with every key set in o written over it.
func (s Style) Overlay(o Style) Style {
	out := Style{Color: s.Color, Opacity: s.Opacity, Weight: s.Weight}
	if len(s.Extra) > 0 || len(o.Extra) > 0 {
		out.Extra = make(map[string]any, len(s.Extra)+len(o.Extra))
		maps.Copy(out.Extra, s.Extra)
		maps.Copy(out.Extra, o.Extra)
	}
	// a known key carried untyped in o still replaces the typed value in s
	if _, ok := o.Extra[StyleColor]; ok {
		out.Color = nil
	}
	if _, ok := o.Extra[StyleOpacity]; ok {
		out.Opacity = nil
	}
	if _, ok := o.Extra[StyleWeight]; ok {
		out.Weight = nil
	}
	if o.Color != nil {
		out.Color = o.Color
		delete(out.Extra, StyleColor)
	}
	if o.Opacity != nil {
		out.Opacity = o.Opacity
		delete(out.Extra, StyleOpacity)
	}
	if o.Weight != nil {
		out.Weight = o.Weight
		delete(out.Extra, StyleWeight)
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case feature.Attributes:
		return m, true
	}
	return nil, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
