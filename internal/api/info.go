package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

type InfoHandler struct {
	dataDir string
	store   string
	cache   string
	version string
}

func NewInfoHandler(dataDir, store, cache, version string) *InfoHandler {
	return &InfoHandler{dataDir: dataDir, store: store, cache: cache, version: version}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	DataDir  string   `json:"data_dir" doc:"Data directory path"`
	Store    string   `json:"store" doc:"Storage backend" example:"duckdb"`
	Cache    string   `json:"cache" doc:"Collection cache backend" example:"lru"`
	Features []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:     "kartografische-zeitmaschine",
		Version:  h.version,
		DataDir:  h.dataDir,
		Store:    h.store,
		Cache:    h.cache,
		Features: []string{"geojson", "bbox", "temporal", "search", "effective-style", "import"},
	}}, nil
}
