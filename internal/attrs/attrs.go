// Package attrs keeps a feature's promoted fields (name, description,
// style colour/opacity/weight) and its open attribute bag convergent.
//
// The functions are invoked explicitly at the read and write boundaries:
// ReconcileOnWrite before every persist, DeriveOnRead for every read view
// and InitializeFromAttributes once when a feature is materialised from a
// payload that only carries the bag.
package attrs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/feature"
)

// ReconcileOnWrite computes the attribute bag to persist for f, stores it
// on f and returns it. f.Attributes is the only field touched.
func ReconcileOnWrite(f *feature.Feature) feature.Attributes {
	out := merge(f)
	f.Attributes = out
	return out
}

// DeriveOnRead returns the attribute view of f reflecting the live
// promoted fields, without modifying f.
func DeriveOnRead(f *feature.Feature) feature.Attributes {
	return merge(f)
}

// merge starts from a copy of the bag, mirrors the non-empty promoted
// fields and merges the explicit style fields into the style sub-map.
// Unrelated keys are never removed. When no explicit style field is set
// the existing style value is left as it is, even if malformed.
func merge(f *feature.Feature) feature.Attributes {
	out := f.Attributes.Clone()
	if f.Name != "" {
		out[KeyName] = f.Name
	}
	if f.Description != "" {
		out[KeyDescription] = f.Description
	}

	fields := FromFields(f)
	if fields.Empty() {
		return out
	}
	existing, err := ParseStyle(out[KeyStyle])
	if err != nil {
		// a non-mapping style is treated as absent and replaced
		existing = Style{}
	}
	out[KeyStyle] = existing.Overlay(fields).Map()
	return out
}

// InitializeFromAttributes fills empty promoted fields from the bag. An
// explicitly set field is never overridden, and bag values that would
// violate a field invariant are not adopted.
func InitializeFromAttributes(f *feature.Feature) {
	if f.Attributes == nil {
		f.Attributes = feature.Attributes{}
	}
	if f.Name == "" {
		if s, ok := f.Attributes[KeyName].(string); ok {
			f.Name = s
		}
	}
	if f.Description == "" {
		if s, ok := f.Attributes[KeyDescription].(string); ok {
			f.Description = s
		}
	}

	st, err := ParseStyle(f.Attributes[KeyStyle])
	if err != nil {
		return
	}
	if f.Color() == "" && st.Color != nil && feature.ValidColor(*st.Color) {
		f.StyleColor = st.Color
	}
	if f.StyleOpacity == nil && st.Opacity != nil && *st.Opacity >= 0 && *st.Opacity <= 1 {
		f.StyleOpacity = st.Opacity
	}
	if f.StyleWeight == nil && st.Weight != nil && *st.Weight >= 0 {
		f.StyleWeight = st.Weight
	}
}

// FromAny converts a decoded JSON value into an attribute bag. Anything
// that is not a mapping becomes an empty bag.
func FromAny(v any) feature.Attributes {
	if m, ok := asMap(v); ok {
		return feature.Attributes(m).Clone()
	}
	return feature.Attributes{}
}

// Decode parses a JSON document into an attribute bag with the same
// leniency as FromAny. Numbers decode as float64.
func Decode(data []byte) (feature.Attributes, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return feature.Attributes{}, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	return FromAny(v), nil
}

// Display renders the derived attributes of f for consoles: keys starting
// with "_" and the style sub-map are dropped and each style key is added
// back as "Style: <key>".
func Display(f *feature.Feature) string {
	a := DeriveOnRead(f)
	if len(a) == 0 {
		return "No attributes"
	}
	out := make(map[string]any, len(a))
	for k, v := range a {
		if strings.HasPrefix(k, "_") || k == KeyStyle {
			continue
		}
		out[k] = v
	}
	if m, ok := asMap(a[KeyStyle]); ok {
		for k, v := range m {
			out["Style: "+k] = v
		}
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", out)
	}
	return string(b)
}
