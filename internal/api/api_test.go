package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/cache"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/service"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/store"
)

func newTestAPI(t *testing.T, dataDir string) humatest.TestAPI {
	t.Helper()
	_, api := humatest.New(t)
	svc := service.New(service.Deps{Store: store.NewMemory(), Cache: cache.NewLRU(32, 0)}, dataDir)
	huma.AutoRegister(api, NewAPIHandler(svc, "test"))
	huma.AutoRegister(api, NewInfoHandler(dataDir, "memory", "lru", "test"))
	return api
}

func decodeJSON(t *testing.T, b []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
}

func expectStatus(t *testing.T, got, want int, body string) {
	t.Helper()
	if got != want {
		t.Fatalf("status=%d want %d: %s", got, want, body)
	}
}

// seed creates the cities layer with geodata and Berlin plus Munich.
func seed(t *testing.T, api humatest.TestAPI) {
	t.Helper()
	resp := api.Post("/api/v1/layers", map[string]any{
		"name":         "Cities",
		"style_config": map[string]any{"color": "#112233"},
	})
	expectStatus(t, resp.Code, http.StatusCreated, resp.Body.String())

	resp = api.Put("/api/v1/layers/cities/geodata", map[string]any{"name": "German cities"})
	expectStatus(t, resp.Code, http.StatusOK, resp.Body.String())

	for _, f := range []map[string]any{
		{"type": "Feature",
			"geometry":   map[string]any{"type": "Point", "coordinates": []float64{13.405, 52.52}},
			"properties": map[string]any{"name": "Berlin", "geodata": "cities", "time_from": "1237-01-01T00:00:00Z", "style_color": "#ff0000"}},
		{"type": "Feature",
			"geometry":   map[string]any{"type": "Point", "coordinates": []float64{11.582, 48.1351}},
			"properties": map[string]any{"name": "Munich", "geodata": "cities"}},
	} {
		resp = api.Post("/api/v1/features", f)
		expectStatus(t, resp.Code, http.StatusCreated, resp.Body.String())
	}
}

type featureDoc struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

type collectionDoc struct {
	Type     string       `json:"type"`
	Features []featureDoc `json:"features"`
}

func TestHealthAndInfo(t *testing.T) {
	api := newTestAPI(t, t.TempDir())

	resp := api.Get("/health")
	expectStatus(t, resp.Code, http.StatusOK, resp.Body.String())
	var h HealthBody
	decodeJSON(t, resp.Body.Bytes(), &h)
	if h.Status != "ok" || h.Version != "test" {
		t.Fatalf("health=%+v", h)
	}

	resp = api.Get("/api/v1/info")
	var info InfoBody
	decodeJSON(t, resp.Body.Bytes(), &info)
	if info.Name != "kartografische-zeitmaschine" || info.Store != "memory" {
		t.Fatalf("info=%+v", info)
	}
}

func TestLayerRoutes(t *testing.T) {
	api := newTestAPI(t, t.TempDir())
	seed(t, api)

	resp := api.Get("/api/v1/layers")
	expectStatus(t, resp.Code, http.StatusOK, resp.Body.String())
	var list struct {
		Total int `json:"total"`
		Data  []struct {
			ID        string `json:"id"`
			LayerType string `json:"layer_type"`
		} `json:"data"`
	}
	decodeJSON(t, resp.Body.Bytes(), &list)
	if list.Total != 1 || len(list.Data) != 1 || list.Data[0].ID != "cities" || list.Data[0].LayerType != "vector" {
		t.Fatalf("list=%+v", list)
	}

	resp = api.Get("/api/v1/layers?type=raster")
	decodeJSON(t, resp.Body.Bytes(), &list)
	if list.Total != 0 || len(list.Data) != 0 {
		t.Fatalf("raster list=%+v", list)
	}

	resp = api.Get("/api/v1/layers/cities/style")
	expectStatus(t, resp.Code, http.StatusOK, resp.Body.String())
	var st map[string]any
	decodeJSON(t, resp.Body.Bytes(), &st)
	if st["color"] != "#112233" || st["radius"] != 8.0 {
		t.Fatalf("preview style=%v", st)
	}

	resp = api.Post("/api/v1/layers", map[string]any{"name": "Cities"})
	expectStatus(t, resp.Code, http.StatusConflict, resp.Body.String())

	resp = api.Get("/api/v1/layers/nowhere")
	expectStatus(t, resp.Code, http.StatusNotFound, resp.Body.String())

	resp = api.Put("/api/v1/layers/cities", map[string]any{"name": "Cities", "opacity": 0.5})
	expectStatus(t, resp.Code, http.StatusOK, resp.Body.String())
	var l struct {
		Opacity float64 `json:"opacity"`
	}
	decodeJSON(t, resp.Body.Bytes(), &l)
	if l.Opacity != 0.5 {
		t.Fatalf("opacity=%v", l.Opacity)
	}

	resp = api.Delete("/api/v1/layers/cities")
	expectStatus(t, resp.Code, http.StatusOK, resp.Body.String())
	resp = api.Get("/api/v1/geodata/cities")
	expectStatus(t, resp.Code, http.StatusNotFound, resp.Body.String())
}

func TestLayerData(t *testing.T) {
	api := newTestAPI(t, t.TempDir())
	seed(t, api)

	resp := api.Get("/api/v1/layers/cities/data")
	expectStatus(t, resp.Code, http.StatusOK, resp.Body.String())
	if ct := resp.Header().Get("Content-Type"); ct != GeoJSONType {
		t.Fatalf("content type %q", ct)
	}
	var fc collectionDoc
	decodeJSON(t, resp.Body.Bytes(), &fc)
	if fc.Type != "FeatureCollection" || len(fc.Features) != 2 {
		t.Fatalf("collection=%+v", fc)
	}
	if resp.Header().Get("X-Total-Count") != "2" {
		t.Fatalf("X-Total-Count=%q", resp.Header().Get("X-Total-Count"))
	}
}

func TestQueryFeatures(t *testing.T) {
	api := newTestAPI(t, t.TempDir())
	seed(t, api)

	resp := api.Get("/api/v1/features?in_bbox=13.0,52.3,13.8,52.7")
	expectStatus(t, resp.Code, http.StatusOK, resp.Body.String())
	var fc collectionDoc
	decodeJSON(t, resp.Body.Bytes(), &fc)
	if len(fc.Features) != 1 || fc.Features[0].Properties["name"] != "Berlin" {
		t.Fatalf("bbox result=%+v", fc)
	}
	eff := fc.Features[0].Properties["effective_style"].(map[string]any)
	if eff["color"] != "#ff0000" {
		t.Fatalf("effective_style=%v", eff)
	}
	if resp.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("first query X-Cache=%q", resp.Header().Get("X-Cache"))
	}

	resp = api.Get("/api/v1/features?in_bbox=13.0,52.3,13.8,52.7")
	if resp.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("second query X-Cache=%q", resp.Header().Get("X-Cache"))
	}

	resp = api.Get("/api/v1/features?time=1500-06-01T00:00:00Z")
	decodeJSON(t, resp.Body.Bytes(), &fc)
	if len(fc.Features) != 2 {
		t.Fatalf("time query got %d features", len(fc.Features))
	}
	resp = api.Get("/api/v1/features?time_end=1200-01-01T00:00:00Z")
	decodeJSON(t, resp.Body.Bytes(), &fc)
	if len(fc.Features) != 1 || fc.Features[0].Properties["name"] != "Munich" {
		t.Fatalf("before 1237 got %+v", fc)
	}
}

func TestQueryFeatures_Paging(t *testing.T) {
	api := newTestAPI(t, t.TempDir())
	seed(t, api)

	resp := api.Get("/api/v1/features?ordering=-time_from&limit=1")
	expectStatus(t, resp.Code, http.StatusOK, resp.Body.String())
	var fc collectionDoc
	decodeJSON(t, resp.Body.Bytes(), &fc)
	if len(fc.Features) != 1 || fc.Features[0].Properties["name"] != "Berlin" {
		t.Fatalf("page=%+v", fc)
	}
	if resp.Header().Get("X-Total-Count") != "2" {
		t.Fatalf("X-Total-Count=%q", resp.Header().Get("X-Total-Count"))
	}
	link := resp.Header().Get("Link")
	if !strings.Contains(link, `rel="next"`) || !strings.Contains(link, "offset=1") {
		t.Fatalf("Link=%q", link)
	}
}

func TestQueryFeatures_InvalidArguments(t *testing.T) {
	api := newTestAPI(t, t.TempDir())

	for _, q := range []string{
		"in_bbox=1,2",
		"in_bbox=14,52,13,53",
		"time=soon",
		"time_start=1500-01-01T00:00:00Z&time_end=1400-01-01T00:00:00Z",
		"ordering=name",
		"colour=red",
		"limit=-1",
	} {
		resp := api.Get("/api/v1/features?" + q)
		if resp.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s: status=%d want 422: %s", q, resp.Code, resp.Body.String())
			continue
		}
		if !strings.Contains(resp.Body.String(), `"location":"query.`) {
			t.Errorf("%s: no query location in %s", q, resp.Body.String())
		}
	}
}

func TestFeatureRoutes(t *testing.T) {
	api := newTestAPI(t, t.TempDir())
	seed(t, api)

	resp := api.Get("/api/v1/features/1")
	expectStatus(t, resp.Code, http.StatusOK, resp.Body.String())
	var f featureDoc
	decodeJSON(t, resp.Body.Bytes(), &f)
	if f.Type != "Feature" || f.Properties["geodata"] != "cities" || f.Properties["time_from"] != "1237-01-01T00:00:00Z" {
		t.Fatalf("feature=%+v", f)
	}

	resp = api.Put("/api/v1/features/1", map[string]any{
		"type":       "Feature",
		"geometry":   map[string]any{"type": "Point", "coordinates": []float64{13.4, 52.5}},
		"properties": map[string]any{"name": "Berlin-Cölln", "population": 12000},
	})
	expectStatus(t, resp.Code, http.StatusOK, resp.Body.String())
	decodeJSON(t, resp.Body.Bytes(), &f)
	a := f.Properties["attributes"].(map[string]any)
	if f.Properties["name"] != "Berlin-Cölln" || a["name"] != "Berlin-Cölln" || a["population"] != 12000.0 {
		t.Fatalf("updated=%+v", f.Properties)
	}

	resp = api.Post("/api/v1/features", map[string]any{
		"type":       "Feature",
		"geometry":   map[string]any{"type": "Polygon", "coordinates": [][][]float64{{{0, 0}, {1, 0}}}},
		"properties": map[string]any{"geodata": "cities"},
	})
	expectStatus(t, resp.Code, http.StatusUnprocessableEntity, resp.Body.String())

	resp = api.Post("/api/v1/features", map[string]any{
		"type":       "Feature",
		"geometry":   map[string]any{"type": "Point", "coordinates": []float64{1, 1}},
		"properties": map[string]any{"geodata": "cities", "style_color": "red"},
	})
	expectStatus(t, resp.Code, http.StatusUnprocessableEntity, resp.Body.String())

	resp = api.Delete("/api/v1/features/1")
	expectStatus(t, resp.Code, http.StatusOK, resp.Body.String())
	resp = api.Get("/api/v1/features/1")
	expectStatus(t, resp.Code, http.StatusNotFound, resp.Body.String())
}

func TestGeoDataRoutes(t *testing.T) {
	api := newTestAPI(t, t.TempDir())
	seed(t, api)

	resp := api.Get("/api/v1/geodata?layer=cities")
	expectStatus(t, resp.Code, http.StatusOK, resp.Body.String())
	var list []struct {
		ID      string `json:"id"`
		LayerID string `json:"layer_id"`
		Name    string `json:"name"`
	}
	decodeJSON(t, resp.Body.Bytes(), &list)
	if len(list) != 1 || list[0].ID != "cities" || list[0].Name != "German cities" {
		t.Fatalf("geodata=%+v", list)
	}

	resp = api.Put("/api/v1/layers/nowhere/geodata", map[string]any{"name": "x"})
	expectStatus(t, resp.Code, http.StatusNotFound, resp.Body.String())
}

func TestSourceRoutes(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "sources")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatal(err)
	}
	data := `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Point","coordinates":[6.96,50.94]},"properties":{"name":"Köln"}}
	]}`
	if err := os.WriteFile(filepath.Join(src, "rhine_cities.geojson"), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	api := newTestAPI(t, dir)

	resp := api.Get("/api/v1/sources")
	expectStatus(t, resp.Code, http.StatusOK, resp.Body.String())
	var files []service.SourceFile
	decodeJSON(t, resp.Body.Bytes(), &files)
	if len(files) != 1 || files[0].Name != "rhine_cities.geojson" {
		t.Fatalf("sources=%+v", files)
	}

	resp = api.Post("/api/v1/sources/rhine_cities.geojson/import")
	expectStatus(t, resp.Code, http.StatusOK, resp.Body.String())
	var res service.ImportResult
	decodeJSON(t, resp.Body.Bytes(), &res)
	if res.LayerID != "rhine_cities" || res.Imported != 1 {
		t.Fatalf("import=%+v", res)
	}

	resp = api.Post("/api/v1/sources/missing.geojson/import")
	expectStatus(t, resp.Code, http.StatusNotFound, resp.Body.String())
	resp = api.Post("/api/v1/sources/notes.txt/import")
	expectStatus(t, resp.Code, http.StatusUnprocessableEntity, resp.Body.String())
}
