// Package filter selects features by bounding box, validity time, exact
// field values and free text.
//
// Select is a stable filter: matches keep their input order unless an
// explicit ordering is requested, in which case they are stably sorted with
// ties broken by id so pagination is deterministic.
package filter

import (
	"bytes"
	"cmp"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/feature"
)

// Window is a temporal query range. A nil bound is open on that side; an
// instant query sets Start and End to the same time.
type Window struct {
	Start *time.Time
	End   *time.Time
}

// Overlaps reports whether a feature valid over [from, to] overlaps w. A nil
// feature bound means valid forever on that side.
func (w Window) Overlaps(from, to *time.Time) bool {
	if from != nil && w.End != nil && from.After(*w.End) {
		return false
	}
	if to != nil && w.Start != nil && to.Before(*w.Start) {
		return false
	}
	return true
}

// TimeMatch holds exact comparisons on one timestamp field. A feature with
// a nil value never satisfies a comparison.
type TimeMatch struct {
	Exact *time.Time
	GTE   *time.Time
	LTE   *time.Time
}

// IsZero reports whether no comparison is set.
func (m TimeMatch) IsZero() bool {
	return m.Exact == nil && m.GTE == nil && m.LTE == nil
}

// Match applies every set comparison to v.
func (m TimeMatch) Match(v *time.Time) bool {
	if m.IsZero() {
		return true
	}
	if v == nil {
		return false
	}
	if m.Exact != nil && !v.Equal(*m.Exact) {
		return false
	}
	if m.GTE != nil && v.Before(*m.GTE) {
		return false
	}
	if m.LTE != nil && v.After(*m.LTE) {
		return false
	}
	return true
}

// Ordering keys accepted by Filter.Ordering.
const (
	OrderCreatedAt = "created_at"
	OrderUpdatedAt = "updated_at"
	OrderTimeFrom  = "time_from"
	OrderTimeTo    = "time_to"
)

// Ordering is a requested sort. The zero value keeps input order.
type Ordering struct {
	Key  string
	Desc bool
}

func (o Ordering) String() string {
	if o.Desc {
		return "-" + o.Key
	}
	return o.Key
}

// Filter is the predicate set of a feature query. Every set predicate must
// hold for a feature to be selected.
type Filter struct {
	BBox      *orb.Bound
	Window    *Window
	TimeFrom  TimeMatch
	TimeTo    TimeMatch
	LayerID   string
	GeoDataID string
	Search    string
	Ordering  Ordering

	// Limit 0 means no limit.
	Limit  int
	Offset int
}

// Match reports whether f satisfies every predicate. Features without a
// geometry never match a bbox predicate.
func (flt Filter) Match(f *feature.Feature) bool {
	if flt.LayerID != "" && f.LayerID != flt.LayerID {
		return false
	}
	if flt.GeoDataID != "" && f.GeoDataID != flt.GeoDataID {
		return false
	}
	if flt.BBox != nil {
		if f.Geometry.IsZero() || !flt.BBox.Intersects(f.Geometry.Bound()) {
			return false
		}
	}
	if flt.Window != nil && !flt.Window.Overlaps(f.TimeFrom, f.TimeTo) {
		return false
	}
	if !flt.TimeFrom.Match(f.TimeFrom) || !flt.TimeTo.Match(f.TimeTo) {
		return false
	}
	if flt.Search != "" && !matchText(f, flt.Search) {
		return false
	}
	return true
}

// Select returns the features matching flt, in input order or in the
// requested ordering. The input slice is not modified. Offset and Limit are
// not applied; see Page.
func Select(features []*feature.Feature, flt Filter) []*feature.Feature {
	out := make([]*feature.Feature, 0, len(features))
	for _, f := range features {
		if f != nil && flt.Match(f) {
			out = append(out, f)
		}
	}
	if flt.Ordering.Key != "" {
		Sort(out, flt.Ordering)
	}
	return out
}

// Page slices features by the filter's offset and limit.
func Page(features []*feature.Feature, flt Filter) []*feature.Feature {
	if flt.Offset >= len(features) {
		return features[:0]
	}
	features = features[flt.Offset:]
	if flt.Limit > 0 && flt.Limit < len(features) {
		features = features[:flt.Limit]
	}
	return features
}

// Sort orders features in place by o. Nil timestamps sort after all set
// ones in either direction; equal keys fall back to ascending id.
func Sort(features []*feature.Feature, o Ordering) {
	key := timeKey(o.Key)
	slices.SortStableFunc(features, func(a, b *feature.Feature) int {
		ta, tb := key(a), key(b)
		switch {
		case ta == nil && tb == nil:
		case ta == nil:
			return 1
		case tb == nil:
			return -1
		default:
			c := ta.Compare(*tb)
			if o.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func timeKey(key string) func(*feature.Feature) *time.Time {
	switch key {
	case OrderCreatedAt:
		return func(f *feature.Feature) *time.Time { return &f.CreatedAt }
	case OrderUpdatedAt:
		return func(f *feature.Feature) *time.Time { return &f.UpdatedAt }
	case OrderTimeFrom:
		return func(f *feature.Feature) *time.Time { return f.TimeFrom }
	case OrderTimeTo:
		return func(f *feature.Feature) *time.Time { return f.TimeTo }
	}
	return func(*feature.Feature) *time.Time { return nil }
}

func matchText(f *feature.Feature, term string) bool {
	needle := strings.ToLower(term)
	if strings.Contains(strings.ToLower(f.Name), needle) ||
		strings.Contains(strings.ToLower(f.Description), needle) {
		return true
	}
	if len(f.Attributes) == 0 {
		return false
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(f.Attributes); err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(buf.String()), needle)
}
