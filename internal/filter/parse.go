package filter

import (
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/feature"
)

// Query keys understood by Parse.
const (
	KeyBBox        = "in_bbox"
	KeyTime        = "time"
	KeyTimeStart   = "time_start"
	KeyTimeEnd     = "time_end"
	KeyTimeFrom    = "time_from"
	KeyTimeFromGTE = "time_from__gte"
	KeyTimeFromLTE = "time_from__lte"
	KeyTimeTo      = "time_to"
	KeyTimeToGTE   = "time_to__gte"
	KeyTimeToLTE   = "time_to__lte"
	KeyLayer       = "layer"
	KeyGeoData     = "geodata"
	KeySearch      = "search"
	KeyOrdering    = "ordering"
	KeyLimit       = "limit"
	KeyOffset      = "offset"
)

// Keys lists every accepted query key.
var Keys = []string{
	KeyBBox, KeyTime, KeyTimeStart, KeyTimeEnd,
	KeyTimeFrom, KeyTimeFromGTE, KeyTimeFromLTE,
	KeyTimeTo, KeyTimeToGTE, KeyTimeToLTE,
	KeyLayer, KeyGeoData, KeySearch, KeyOrdering, KeyLimit, KeyOffset,
}

var known = func() map[string]bool {
	m := make(map[string]bool, len(Keys))
	for _, k := range Keys {
		m[k] = true
	}
	return m
}()

// Parse builds a Filter from URL query values. Empty values are ignored.
// Every rejection is a *feature.FilterError matching
// feature.ErrInvalidFilterArgument.
func Parse(values url.Values) (Filter, error) {
	var flt Filter
	for k := range values {
		if !known[k] {
			return Filter{}, &feature.FilterError{Key: k, Reason: "unknown filter key"}
		}
	}
	get := func(k string) string {
		return strings.TrimSpace(values.Get(k))
	}

	if v := get(KeyBBox); v != "" {
		b, err := ParseBBox(v)
		if err != nil {
			return Filter{}, err
		}
		flt.BBox = &b
	}

	var err error
	var instant, start, end *time.Time
	if instant, err = parseTime(KeyTime, get(KeyTime)); err != nil {
		return Filter{}, err
	}
	if start, err = parseTime(KeyTimeStart, get(KeyTimeStart)); err != nil {
		return Filter{}, err
	}
	if end, err = parseTime(KeyTimeEnd, get(KeyTimeEnd)); err != nil {
		return Filter{}, err
	}
	switch {
	case instant != nil && (start != nil || end != nil):
		return Filter{}, &feature.FilterError{Key: KeyTime, Value: get(KeyTime), Reason: "cannot be combined with time_start or time_end"}
	case instant != nil:
		flt.Window = &Window{Start: instant, End: instant}
	case start != nil || end != nil:
		if start != nil && end != nil && start.After(*end) {
			return Filter{}, &feature.FilterError{Key: KeyTimeStart, Value: get(KeyTimeStart), Reason: "is after time_end"}
		}
		flt.Window = &Window{Start: start, End: end}
	}

	for _, m := range []struct {
		key string
		dst **time.Time
	}{
		{KeyTimeFrom, &flt.TimeFrom.Exact},
		{KeyTimeFromGTE, &flt.TimeFrom.GTE},
		{KeyTimeFromLTE, &flt.TimeFrom.LTE},
		{KeyTimeTo, &flt.TimeTo.Exact},
		{KeyTimeToGTE, &flt.TimeTo.GTE},
		{KeyTimeToLTE, &flt.TimeTo.LTE},
	} {
		if *m.dst, err = parseTime(m.key, get(m.key)); err != nil {
			return Filter{}, err
		}
	}

	flt.LayerID = get(KeyLayer)
	flt.GeoDataID = get(KeyGeoData)
	flt.Search = get(KeySearch)

	if v := get(KeyOrdering); v != "" {
		if flt.Ordering, err = ParseOrdering(v); err != nil {
			return Filter{}, err
		}
	}
	if flt.Limit, err = parseCount(KeyLimit, get(KeyLimit)); err != nil {
		return Filter{}, err
	}
	if flt.Offset, err = parseCount(KeyOffset, get(KeyOffset)); err != nil {
		return Filter{}, err
	}
	return flt, nil
}

// ParseBBox parses "minLon,minLat,maxLon,maxLat". A box with min greater
// than max on either axis is rejected; a zero-area box is allowed.
func ParseBBox(v string) (orb.Bound, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		return orb.Bound{}, &feature.FilterError{Key: KeyBBox, Value: v, Reason: "want minLon,minLat,maxLon,maxLat"}
	}
	var n [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || !finite(f) {
			return orb.Bound{}, &feature.FilterError{Key: KeyBBox, Value: v, Reason: "coordinates must be numbers"}
		}
		n[i] = f
	}
	if n[0] > n[2] || n[1] > n[3] {
		return orb.Bound{}, &feature.FilterError{Key: KeyBBox, Value: v, Reason: "min exceeds max"}
	}
	return orb.Bound{Min: orb.Point{n[0], n[1]}, Max: orb.Point{n[2], n[3]}}, nil
}

// ParseOrdering parses an ordering key with an optional "-" prefix.
func ParseOrdering(v string) (Ordering, error) {
	o := Ordering{Key: v}
	if rest, ok := strings.CutPrefix(v, "-"); ok {
		o = Ordering{Key: rest, Desc: true}
	}
	switch o.Key {
	case OrderCreatedAt, OrderUpdatedAt, OrderTimeFrom, OrderTimeTo:
		return o, nil
	}
	return Ordering{}, &feature.FilterError{Key: KeyOrdering, Value: v, Reason: "unknown ordering key"}
}

func parseTime(key, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, ok := feature.ParseTime(v)
	if !ok {
		return nil, &feature.FilterError{Key: key, Value: v, Reason: "malformed timestamp"}
	}
	return &t, nil
}

func parseCount(key, v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &feature.FilterError{Key: key, Value: v, Reason: "must be a non-negative integer"}
	}
	return n, nil
}

// Values renders flt back to query values, the inverse of Parse.
func (flt Filter) Values() url.Values {
	v := url.Values{}
	if b := flt.BBox; b != nil {
		v.Set(KeyBBox, strings.Join([]string{
			formatFloat(b.Min[0]), formatFloat(b.Min[1]), formatFloat(b.Max[0]), formatFloat(b.Max[1]),
		}, ","))
	}
	if w := flt.Window; w != nil {
		if w.Start != nil && w.End != nil && w.Start.Equal(*w.End) {
			v.Set(KeyTime, w.Start.Format(time.RFC3339Nano))
		} else {
			setTime(v, KeyTimeStart, w.Start)
			setTime(v, KeyTimeEnd, w.End)
		}
	}
	setTime(v, KeyTimeFrom, flt.TimeFrom.Exact)
	setTime(v, KeyTimeFromGTE, flt.TimeFrom.GTE)
	setTime(v, KeyTimeFromLTE, flt.TimeFrom.LTE)
	setTime(v, KeyTimeTo, flt.TimeTo.Exact)
	setTime(v, KeyTimeToGTE, flt.TimeTo.GTE)
	setTime(v, KeyTimeToLTE, flt.TimeTo.LTE)
	if flt.LayerID != "" {
		v.Set(KeyLayer, flt.LayerID)
	}
	if flt.GeoDataID != "" {
		v.Set(KeyGeoData, flt.GeoDataID)
	}
	if flt.Search != "" {
		v.Set(KeySearch, flt.Search)
	}
	if flt.Ordering.Key != "" {
		v.Set(KeyOrdering, flt.Ordering.String())
	}
	if flt.Limit > 0 {
		v.Set(KeyLimit, strconv.Itoa(flt.Limit))
	}
	if flt.Offset > 0 {
		v.Set(KeyOffset, strconv.Itoa(flt.Offset))
	}
	return v
}

func setTime(v url.Values, key string, t *time.Time) {
	if t != nil {
		v.Set(key, t.Format(time.RFC3339Nano))
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
