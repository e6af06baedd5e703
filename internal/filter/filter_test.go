package filter

import (
	"errors"
	"net/url"
	"reflect"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/feature"
)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func mustParse(t *testing.T, q string) Filter {
	t.Helper()
	values, err := url.ParseQuery(q)
	if err != nil {
		t.Fatalf("ParseQuery(%q): %v", q, err)
	}
	flt, err := Parse(values)
	if err != nil {
		t.Fatalf("Parse(%q): %v", q, err)
	}
	return flt
}

func ids(fs []*feature.Feature) []int64 {
	out := make([]int64, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.ID)
	}
	return out
}

func TestBBox_Berlin(t *testing.T) {
	berlin := &feature.Feature{ID: 1, Geometry: feature.NewGeometry(orb.Point{13.4050, 52.5200})}

	if got := Select([]*feature.Feature{berlin}, mustParse(t, "in_bbox=13,52,14,53")); len(got) != 1 {
		t.Fatalf("Berlin not inside 13,52,14,53")
	}
	if got := Select([]*feature.Feature{berlin}, mustParse(t, "in_bbox=0,0,1,1")); len(got) != 0 {
		t.Fatalf("Berlin inside 0,0,1,1")
	}
}

func TestBBox_EdgesInclusive(t *testing.T) {
	onEdge := &feature.Feature{ID: 1, Geometry: feature.NewGeometry(orb.Point{14, 53})}
	line := &feature.Feature{ID: 2, Geometry: feature.NewGeometry(orb.LineString{{10, 50}, {13, 52}})}
	flt := mustParse(t, "in_bbox=13,52,14,53")

	if got := ids(Select([]*feature.Feature{onEdge, line}, flt)); !reflect.DeepEqual(got, []int64{1, 2}) {
		t.Fatalf("got %v want [1 2]", got)
	}
}

func TestBBox_NullGeometryNeverMatches(t *testing.T) {
	f := &feature.Feature{ID: 1}
	if got := Select([]*feature.Feature{f}, mustParse(t, "in_bbox=-180,-90,180,90")); len(got) != 0 {
		t.Fatal("feature without geometry matched bbox")
	}
}

func TestTemporal_OpenEnded(t *testing.T) {
	founded := &feature.Feature{ID: 1, TimeFrom: date(1237, 1, 1)}
	gone := &feature.Feature{ID: 2, TimeTo: date(1700, 1, 1)}
	always := &feature.Feature{ID: 3}
	all := []*feature.Feature{founded, gone, always}

	tests := []struct {
		query string
		want  []int64
	}{
		{query: "time=2024-01-01", want: []int64{1, 3}},
		{query: "time_start=1000-01-01&time_end=1300-01-01", want: []int64{1, 2, 3}},
		{query: "time_end=1200-01-01", want: []int64{2, 3}},
		{query: "time_start=1800-01-01", want: []int64{1, 3}},
		{query: "time=1237-01-01", want: []int64{1, 2, 3}},
		{query: "time=1700-01-01T00:00:00Z", want: []int64{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := ids(Select(all, mustParse(t, tt.query)))
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %v want %v", got, tt.want)
			}
		})
	}
}

func TestExactTimeFilters(t *testing.T) {
	a := &feature.Feature{ID: 1, TimeFrom: date(1237, 1, 1), TimeTo: date(1500, 1, 1)}
	b := &feature.Feature{ID: 2, TimeFrom: date(1600, 1, 1)}
	c := &feature.Feature{ID: 3}
	all := []*feature.Feature{a, b, c}

	tests := []struct {
		query string
		want  []int64
	}{
		{query: "time_from=1237-01-01", want: []int64{1}},
		{query: "time_from__gte=1300-01-01", want: []int64{2}},
		{query: "time_from__lte=1600-01-01", want: []int64{1, 2}},
		{query: "time_to__lte=1500-01-01", want: []int64{1}},
		{query: "time_to__gte=1501-01-01", want: []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := ids(Select(all, mustParse(t, tt.query)))
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %v want %v", got, tt.want)
			}
		})
	}
}

func TestLayerAndGeoData(t *testing.T) {
	all := []*feature.Feature{
		{ID: 1, LayerID: "cities", GeoDataID: "g1"},
		{ID: 2, LayerID: "rivers", GeoDataID: "g2"},
		{ID: 3, LayerID: "cities", GeoDataID: "g1"},
	}
	if got := ids(Select(all, mustParse(t, "layer=cities"))); !reflect.DeepEqual(got, []int64{1, 3}) {
		t.Fatalf("layer: got %v", got)
	}
	if got := ids(Select(all, mustParse(t, "geodata=g2"))); !reflect.DeepEqual(got, []int64{2}) {
		t.Fatalf("geodata: got %v", got)
	}
}

func TestSearch(t *testing.T) {
	all := []*feature.Feature{
		{ID: 1, Name: "Berlin"},
		{ID: 2, Description: "Hanseatic city on the Elbe"},
		{ID: 3, Attributes: feature.Attributes{"tags": []any{"Rhine & Main"}}},
		{ID: 4, Name: "Munich"},
	}
	tests := map[string][]int64{
		"berlin":       {1},
		"ELBE":         {2},
		"rhine & main": {3},
		"zzz":          {},
	}
	for term, want := range tests {
		t.Run(term, func(t *testing.T) {
			got := ids(Select(all, Filter{Search: term}))
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("got %v want %v", got, want)
			}
		})
	}
}

func TestSelect_PreservesOrderAndAnds(t *testing.T) {
	all := []*feature.Feature{
		{ID: 5, LayerID: "a", Name: "x"},
		{ID: 2, LayerID: "a", Name: "y"},
		{ID: 9, LayerID: "b", Name: "x"},
		{ID: 1, LayerID: "a", Name: "x"},
	}
	got := ids(Select(all, Filter{LayerID: "a", Search: "x"}))
	if !reflect.DeepEqual(got, []int64{5, 1}) {
		t.Fatalf("got %v want [5 1]", got)
	}
	if ids(all)[0] != 5 {
		t.Fatal("input reordered")
	}
}

func TestSelect_Empty(t *testing.T) {
	got := Select(nil, mustParse(t, "in_bbox=0,0,1,1&time=2024-01-01"))
	if got == nil || len(got) != 0 {
		t.Fatalf("got %v want empty slice", got)
	}
}

func TestOrdering(t *testing.T) {
	all := []*feature.Feature{
		{ID: 4, TimeFrom: date(1500, 1, 1)},
		{ID: 3},
		{ID: 2, TimeFrom: date(1237, 1, 1)},
		{ID: 1, TimeFrom: date(1500, 1, 1)},
	}
	tests := map[string][]int64{
		"time_from":  {2, 1, 4, 3},
		"-time_from": {1, 4, 2, 3},
	}
	for q, want := range tests {
		t.Run(q, func(t *testing.T) {
			got := ids(Select(all, mustParse(t, "ordering="+q)))
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("got %v want %v", got, want)
			}
		})
	}
}

func TestOrdering_CreatedAtTiesById(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	all := []*feature.Feature{
		{ID: 3, CreatedAt: ts},
		{ID: 1, CreatedAt: ts.Add(time.Hour)},
		{ID: 2, CreatedAt: ts},
	}
	got := ids(Select(all, Filter{Ordering: Ordering{Key: OrderCreatedAt}}))
	if !reflect.DeepEqual(got, []int64{2, 3, 1}) {
		t.Fatalf("got %v want [2 3 1]", got)
	}
}

func TestPage(t *testing.T) {
	all := []*feature.Feature{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}, {ID: 5}}
	tests := []struct {
		limit, offset int
		want          []int64
	}{
		{0, 0, []int64{1, 2, 3, 4, 5}},
		{2, 0, []int64{1, 2}},
		{2, 4, []int64{5}},
		{2, 9, []int64{}},
		{0, 3, []int64{4, 5}},
	}
	for _, tt := range tests {
		got := ids(Page(all, Filter{Limit: tt.limit, Offset: tt.offset}))
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("limit=%d offset=%d: got %v want %v", tt.limit, tt.offset, got, tt.want)
		}
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := map[string]string{
		"unknown key":        "colour=red",
		"bbox three numbers": "in_bbox=1,2,3",
		"bbox not numeric":   "in_bbox=a,b,c,d",
		"bbox degenerate":    "in_bbox=14,52,13,53",
		"bbox nan":           "in_bbox=NaN,0,1,1",
		"bad time":           "time=yesterday",
		"start after end":    "time_start=1500-01-01&time_end=1400-01-01",
		"instant with range": "time=1500-01-01&time_start=1400-01-01",
		"bad exact time":     "time_to__gte=1500-13-01",
		"unknown ordering":   "ordering=name",
		"negative limit":     "limit=-1",
		"bad offset":         "offset=ten",
	}
	for name, q := range tests {
		t.Run(name, func(t *testing.T) {
			values, _ := url.ParseQuery(q)
			_, err := Parse(values)
			if !errors.Is(err, feature.ErrInvalidFilterArgument) {
				t.Fatalf("err=%v want ErrInvalidFilterArgument", err)
			}
			var fe *feature.FilterError
			if !errors.As(err, &fe) || fe.Key == "" {
				t.Fatalf("err=%v want FilterError with key", err)
			}
		})
	}
}

func TestParse_ZeroAreaBBox(t *testing.T) {
	flt := mustParse(t, "in_bbox=13.405,52.52,13.405,52.52")
	berlin := &feature.Feature{ID: 1, Geometry: feature.NewGeometry(orb.Point{13.405, 52.52})}
	if len(Select([]*feature.Feature{berlin}, flt)) != 1 {
		t.Fatal("point box did not match its own point")
	}
}

func TestValuesRoundTrip(t *testing.T) {
	q := "in_bbox=13,52,14,53&time_start=1000-01-01&time_end=1300-01-01&time_from__gte=1200-01-01" +
		"&layer=cities&geodata=g1&search=berlin&ordering=-time_from&limit=10&offset=20"
	flt := mustParse(t, q)
	again, err := Parse(flt.Values())
	if err != nil {
		t.Fatalf("Parse(Values()): %v", err)
	}
	if !reflect.DeepEqual(flt, again) {
		t.Fatalf("round trip changed filter:\n%+v\n%+v", flt, again)
	}
}
