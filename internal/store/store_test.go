package store

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/attrs"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/feature"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/featurejson"
)

type opener func(t *testing.T) Store

func stores() map[string]opener {
	return map[string]opener{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"duckdb": func(t *testing.T) Store {
			t.Helper()
			s, err := OpenDuckDB(context.Background(), DuckDBConfig{})
			if err != nil {
				t.Fatalf("OpenDuckDB: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

// seed creates layer "cities" with its geodata and returns the geodata id.
func seed(t *testing.T, s Store) string {
	t.Helper()
	ctx := context.Background()
	l := &feature.Layer{Name: "Cities", StyleConfig: map[string]any{"color": "#112233"}}
	if err := s.CreateLayer(ctx, l); err != nil {
		t.Fatalf("CreateLayer: %v", err)
	}
	g := &feature.GeoData{LayerID: l.ID, Name: "German cities", SourceURL: "https://example.org/cities"}
	if err := s.PutGeoData(ctx, g); err != nil {
		t.Fatalf("PutGeoData: %v", err)
	}
	return g.ID
}

func city(geodata, name string, lon, lat float64) *feature.Feature {
	return &feature.Feature{
		GeoDataID:  geodata,
		Geometry:   feature.NewGeometry(orb.Point{lon, lat}),
		Name:       name,
		Attributes: feature.Attributes{"name": name},
	}
}

func TestLayers(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			l := &feature.Layer{Name: "German Major Cities", Opacity: 3}
			if err := s.CreateLayer(ctx, l); err != nil {
				t.Fatalf("CreateLayer: %v", err)
			}
			if l.ID != "german_major_cities" || l.Opacity != 1 || l.LayerType != feature.LayerVector {
				t.Fatalf("layer not normalised: %+v", l)
			}
			if err := s.CreateLayer(ctx, &feature.Layer{Name: "German Major Cities"}); !errors.Is(err, feature.ErrConflict) {
				t.Fatalf("duplicate id: err=%v", err)
			}
			if err := s.CreateLayer(ctx, &feature.Layer{ID: "other", Name: "German Major Cities"}); !errors.Is(err, feature.ErrConflict) {
				t.Fatalf("duplicate name: err=%v", err)
			}
			if err := s.CreateLayer(ctx, &feature.Layer{Name: "Alpine Rivers"}); err != nil {
				t.Fatalf("CreateLayer: %v", err)
			}

			list, err := s.ListLayers(ctx)
			if err != nil {
				t.Fatalf("ListLayers: %v", err)
			}
			if len(list) != 2 || list[0].Name != "Alpine Rivers" {
				t.Fatalf("ListLayers not ordered by name: %+v", list)
			}

			l.StyleConfig = map[string]any{"weight": 3.0}
			if err := s.UpdateLayer(ctx, l); err != nil {
				t.Fatalf("UpdateLayer: %v", err)
			}
			got, err := s.GetLayer(ctx, l.ID)
			if err != nil {
				t.Fatalf("GetLayer: %v", err)
			}
			if !reflect.DeepEqual(got.StyleConfig, map[string]any{"weight": 3.0}) {
				t.Fatalf("style_config=%v", got.StyleConfig)
			}
			if !got.CreatedAt.Equal(l.CreatedAt) {
				t.Fatalf("created_at changed: %v vs %v", got.CreatedAt, l.CreatedAt)
			}

			if _, err := s.GetLayer(ctx, "missing"); !errors.Is(err, feature.ErrNotFound) {
				t.Fatalf("GetLayer(missing): err=%v", err)
			}
			if err := s.UpdateLayer(ctx, &feature.Layer{ID: "missing", Name: "x"}); !errors.Is(err, feature.ErrNotFound) {
				t.Fatalf("UpdateLayer(missing): err=%v", err)
			}
		})
	}
}

func TestGeoData(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			gid := seed(t, s)
			if gid != "cities" {
				t.Fatalf("geodata id=%q want cities", gid)
			}

			g := &feature.GeoData{LayerID: "cities", Name: "Cities 2024"}
			if err := s.PutGeoData(ctx, g); err != nil {
				t.Fatalf("PutGeoData: %v", err)
			}
			if g.ID != gid {
				t.Fatalf("second PutGeoData created %q", g.ID)
			}
			list, err := s.ListGeoData(ctx, "cities")
			if err != nil || len(list) != 1 || list[0].Name != "Cities 2024" {
				t.Fatalf("ListGeoData=%+v, %v", list, err)
			}
			if list, _ := s.ListGeoData(ctx, "rivers"); len(list) != 0 {
				t.Fatalf("ListGeoData(rivers)=%+v", list)
			}
			if err := s.PutGeoData(ctx, &feature.GeoData{LayerID: "ghost", Name: "x"}); !errors.Is(err, feature.ErrNotFound) {
				t.Fatalf("PutGeoData(ghost): err=%v", err)
			}
		})
	}
}

func TestFeatureRoundTrip(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			gid := seed(t, s)

			from := time.Date(1237, 1, 1, 0, 0, 0, 0, time.UTC)
			f := &feature.Feature{
				GeoDataID: gid,
				Geometry: feature.NewGeometry(orb.Polygon{{
					{13.08, 52.33}, {13.76, 52.33}, {13.76, 52.68}, {13.08, 52.68}, {13.08, 52.33},
				}}),
				Name:         "Berlin",
				Description:  "Capital",
				StyleColor:   feature.Ptr("#C92A2A"),
				StyleOpacity: feature.Ptr(0.5),
				TimeFrom:     &from,
				ZoomRange:    "5-12",
				Attributes:   feature.Attributes{"population": 3669491.0},
			}
			attrs.ReconcileOnWrite(f)
			if err := s.SaveFeature(ctx, f); err != nil {
				t.Fatalf("SaveFeature: %v", err)
			}
			if f.ID == 0 || f.LayerID != "cities" || f.CreatedAt.IsZero() {
				t.Fatalf("storage fields not set: %+v", f)
			}

			got, err := s.GetFeature(ctx, f.ID)
			if err != nil {
				t.Fatalf("GetFeature: %v", err)
			}
			if got.Name != "Berlin" || got.Color() != "#C92A2A" || *got.StyleOpacity != 0.5 || got.StyleWeight != nil {
				t.Fatalf("promoted fields: %+v", got)
			}
			if got.TimeTo != nil || !got.TimeFrom.Equal(from) || got.ZoomRange != "5-12" {
				t.Fatalf("time fields: %+v", got)
			}
			if got.Geometry.Type != feature.Polygon || !orb.Equal(got.Geometry.Shape, f.Geometry.Shape) {
				t.Fatalf("geometry: %+v", got.Geometry)
			}
			if !reflect.DeepEqual(map[string]any(got.Attributes), map[string]any(f.Attributes)) {
				t.Fatalf("attributes=%v want %v", got.Attributes, f.Attributes)
			}
			if !got.CreatedAt.Equal(f.CreatedAt) {
				t.Fatalf("created_at=%v want %v", got.CreatedAt, f.CreatedAt)
			}

			got.Name = "Berlin-Mitte"
			got.StyleColor = nil
			attrs.ReconcileOnWrite(got)
			if err := s.SaveFeature(ctx, got); err != nil {
				t.Fatalf("SaveFeature(update): %v", err)
			}
			again, _ := s.GetFeature(ctx, f.ID)
			if again.Name != "Berlin-Mitte" || again.Attributes["name"] != "Berlin-Mitte" || again.StyleColor != nil {
				t.Fatalf("update not applied: %+v", again)
			}
		})
	}
}

func TestSaveFeatureErrors(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			gid := seed(t, s)

			if err := s.SaveFeature(ctx, city("ghost", "x", 0, 0)); !errors.Is(err, feature.ErrNotFound) {
				t.Fatalf("unknown geodata: err=%v", err)
			}
			missing := city(gid, "x", 0, 0)
			missing.ID = 999
			if err := s.SaveFeature(ctx, missing); !errors.Is(err, feature.ErrNotFound) {
				t.Fatalf("unknown id: err=%v", err)
			}
			if err := s.SaveFeature(ctx, &feature.Feature{GeoDataID: gid}); !errors.Is(err, feature.ErrInvalidGeometry) {
				t.Fatalf("null geometry: err=%v", err)
			}
			if err := s.DeleteFeature(ctx, 999); !errors.Is(err, feature.ErrNotFound) {
				t.Fatalf("DeleteFeature(missing): err=%v", err)
			}
		})
	}
}

func TestListFeaturesScope(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			gid := seed(t, s)

			for _, f := range []*feature.Feature{
				city(gid, "Berlin", 13.4050, 52.5200),
				city(gid, "Munich", 11.5820, 48.1351),
				city(gid, "Hamburg", 9.9937, 53.5511),
			} {
				if err := s.SaveFeature(ctx, f); err != nil {
					t.Fatalf("SaveFeature: %v", err)
				}
			}

			all, err := s.ListFeatures(ctx, Scope{})
			if err != nil || len(all) != 3 {
				t.Fatalf("ListFeatures=%d, %v", len(all), err)
			}
			for i := 1; i < len(all); i++ {
				if all[i-1].ID >= all[i].ID {
					t.Fatalf("not ordered by id: %d then %d", all[i-1].ID, all[i].ID)
				}
			}

			box := orb.Bound{Min: orb.Point{13, 52}, Max: orb.Point{14, 53}}
			hits, err := s.ListFeatures(ctx, Scope{BBox: &box})
			if err != nil {
				t.Fatalf("ListFeatures(bbox): %v", err)
			}
			found := false
			for _, h := range hits {
				if h.Name == "Berlin" {
					found = true
				}
				if h.Name == "Munich" {
					t.Fatal("Munich returned for Berlin box")
				}
			}
			if !found {
				t.Fatal("Berlin missing from bbox candidates")
			}

			if got, _ := s.ListFeatures(ctx, Scope{LayerID: "rivers"}); len(got) != 0 {
				t.Fatalf("ListFeatures(rivers)=%d", len(got))
			}
		})
	}
}

func TestDeleteLayerCascades(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			gid := seed(t, s)
			f := city(gid, "Berlin", 13.4050, 52.5200)
			if err := s.SaveFeature(ctx, f); err != nil {
				t.Fatalf("SaveFeature: %v", err)
			}

			if err := s.DeleteLayer(ctx, "cities"); err != nil {
				t.Fatalf("DeleteLayer: %v", err)
			}
			if _, err := s.GetGeoData(ctx, gid); !errors.Is(err, feature.ErrNotFound) {
				t.Fatalf("geodata survived: %v", err)
			}
			if _, err := s.GetFeature(ctx, f.ID); !errors.Is(err, feature.ErrNotFound) {
				t.Fatalf("feature survived: %v", err)
			}
			box := orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}
			if got, _ := s.ListFeatures(ctx, Scope{BBox: &box}); len(got) != 0 {
				t.Fatalf("index still returns %d features", len(got))
			}
			if err := s.DeleteLayer(ctx, "cities"); !errors.Is(err, feature.ErrNotFound) {
				t.Fatalf("second DeleteLayer: err=%v", err)
			}
		})
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	gid := seed(t, s)
	f := city(gid, "Berlin", 13.4050, 52.5200)
	if err := s.SaveFeature(ctx, f); err != nil {
		t.Fatalf("SaveFeature: %v", err)
	}
	f.Attributes["name"] = "mutated after save"

	got, _ := s.GetFeature(ctx, f.ID)
	if got.Attributes["name"] != "Berlin" {
		t.Fatalf("store shares caller map: %v", got.Attributes)
	}
	got.Attributes["name"] = "mutated after read"
	again, _ := s.GetFeature(ctx, f.ID)
	if again.Attributes["name"] != "Berlin" {
		t.Fatalf("store shares returned map: %v", again.Attributes)
	}
}

func TestDuckDBCorruptGeometrySkipsOneFeature(t *testing.T) {
	ctx := context.Background()
	s, err := OpenDuckDB(ctx, DuckDBConfig{})
	if err != nil {
		t.Fatalf("OpenDuckDB: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	gid := seed(t, s)

	berlin := city(gid, "Berlin", 13.4050, 52.5200)
	munich := city(gid, "Munich", 11.5820, 48.1351)
	for _, f := range []*feature.Feature{berlin, munich} {
		if err := s.SaveFeature(ctx, f); err != nil {
			t.Fatalf("SaveFeature: %v", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE features SET geometry = '\x00\x01'::BLOB WHERE id = ?`, munich.ID); err != nil {
		t.Fatalf("corrupt geometry: %v", err)
	}

	got, err := s.ListFeatures(ctx, Scope{LayerID: "cities"})
	if err != nil {
		t.Fatalf("ListFeatures: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListFeatures=%d, want both rows", len(got))
	}
	if !got[1].Geometry.IsZero() || got[1].Geometry.Type != feature.Point {
		t.Fatalf("corrupt row geometry = %+v", got[1].Geometry)
	}

	layer, err := s.GetLayer(ctx, "cities")
	if err != nil {
		t.Fatalf("GetLayer: %v", err)
	}
	fc, errs := featurejson.SerializeCollection(got, layer)
	if len(fc.Features) != 1 || fc.Features[0].Properties["name"] != "Berlin" {
		t.Fatalf("served %d features", len(fc.Features))
	}
	if len(errs) != 1 || !errors.Is(errs[0], feature.ErrInvalidGeometry) {
		t.Fatalf("errs = %v", errs)
	}
}
