// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/feature"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/humastar"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/service"
)

// Types

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc     *service.Services
	version string
}

func NewAPIHandler(svc *service.Services, version string) *APIHandler {
	return &APIHandler{svc: svc, version: version}
}

func created(o *huma.Operation) { o.DefaultStatus = http.StatusCreated }

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterLayers registers layer CRUD routes.
func (h *APIHandler) RegisterLayers(api huma.API) {
	huma.Get(api, "/api/v1/layers", h.GetLayers, huma.OperationTags("layers"))
	huma.Post(api, "/api/v1/layers", h.CreateLayer, huma.OperationTags("layers"), created)
	huma.Get(api, "/api/v1/layers/{id}", h.GetLayer, huma.OperationTags("layers"))
	huma.Put(api, "/api/v1/layers/{id}", h.PutLayer, huma.OperationTags("layers"))
	huma.Delete(api, "/api/v1/layers/{id}", h.DeleteLayer, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/{id}/data", h.GetLayerData, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/{id}/style", h.GetLayerStyle, huma.OperationTags("layers"))
	huma.Put(api, "/api/v1/layers/{id}/geodata", h.PutLayerGeoData, huma.OperationTags("layers"))
}

// RegisterGeoData registers geodata read routes.
func (h *APIHandler) RegisterGeoData(api huma.API) {
	huma.Get(api, "/api/v1/geodata", h.GetGeoDataList, huma.OperationTags("geodata"))
	huma.Get(api, "/api/v1/geodata/{id}", h.GetGeoData, huma.OperationTags("geodata"))
}

// RegisterFeatures registers the feature query and write routes.
func (h *APIHandler) RegisterFeatures(api huma.API) {
	huma.Get(api, "/api/v1/features", h.QueryFeatures, huma.OperationTags("features"))
	huma.Post(api, "/api/v1/features", h.CreateFeature, huma.OperationTags("features"), created)
	huma.Get(api, "/api/v1/features/{id}", h.GetFeature, huma.OperationTags("features"))
	huma.Put(api, "/api/v1/features/{id}", h.PutFeature, huma.OperationTags("features"))
	huma.Delete(api, "/api/v1/features/{id}", h.DeleteFeature, huma.OperationTags("features"))
}

// RegisterSources registers source listing and import routes.
func (h *APIHandler) RegisterSources(api huma.API) {
	huma.Get(api, "/api/v1/sources", h.GetSources, huma.OperationTags("sources"))
	huma.Post(api, "/api/v1/sources/{name}/import", h.ImportSource, huma.OperationTags("sources"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: h.version}}, nil
}

// Layers

type LayerIDInput struct {
	ID string `path:"id" doc:"Layer ID" example:"german_major_cities"`
}

// LayerInput is the writable part of a layer.
type LayerInput struct {
	ID          string            `json:"id,omitempty" pattern:"^[a-z0-9_]+$" doc:"Layer ID, generated from the name when empty" example:"german_major_cities"`
	Name        string            `json:"name" minLength:"1" maxLength:"200" doc:"Display name" example:"German Major Cities"`
	LayerType   feature.LayerType `json:"layer_type,omitempty" enum:"vector,raster,tile,geojson" doc:"Layer type, vector when empty"`
	Opacity     *float64          `json:"opacity,omitempty" minimum:"0" maximum:"1" doc:"Layer opacity (0-1), 1 when empty"`
	StyleConfig map[string]any    `json:"style_config,omitempty" doc:"Default style for all features of this layer"`
}

func (in LayerInput) layer() *feature.Layer {
	l := &feature.Layer{
		ID:          in.ID,
		Name:        in.Name,
		LayerType:   in.LayerType,
		Opacity:     1,
		StyleConfig: in.StyleConfig,
	}
	if in.Opacity != nil {
		l.Opacity = *in.Opacity
	}
	return l
}

// LayerBody is a layer response carrying its action links.
type LayerBody struct {
	feature.Layer
}

var layerActions = []humastar.ActionDef{
	{Rel: "data", Pattern: "/api/v1/layers/%s/data", Method: http.MethodGet, Title: "Features as GeoJSON"},
	{Rel: "style", Pattern: "/api/v1/layers/%s/style", Method: http.MethodGet, Title: "Preview style"},
	{Rel: "geodata", Pattern: "/api/v1/layers/%s/geodata", Method: http.MethodPut, Title: "Set geodata record"},
	{Rel: "delete", Pattern: "/api/v1/layers/%s", Method: http.MethodDelete, Title: "Delete layer with its features"},
}

func (b LayerBody) Actions() []humastar.Action {
	return humastar.ActionsFor(b.ID, layerActions)
}

type LayerOutput struct {
	Body LayerBody
}

type LayerListInput struct {
	Type   string `query:"type" enum:"vector,raster,tile,geojson" doc:"Only layers of this type"`
	Search string `query:"search" doc:"Case-insensitive substring of name or ID"`
	Offset int    `query:"offset" minimum:"0" doc:"Number of layers to skip"`
	Limit  int    `query:"limit" minimum:"0" maximum:"1000" doc:"Page size, 0 for all"`
}

type LayersOutput struct {
	Body humastar.PageBody[*feature.Layer]
}

func (h *APIHandler) GetLayers(ctx context.Context, input *LayerListInput) (*LayersOutput, error) {
	layers, err := h.svc.Layers.List(ctx, service.LayerQuery{Type: feature.LayerType(input.Type), Search: input.Search})
	if err != nil {
		return nil, problem(err)
	}
	return &LayersOutput{Body: humastar.PageBody[*feature.Layer]{
		Page: humastar.Page{Total: len(layers), Offset: input.Offset, Limit: input.Limit},
		Data: humastar.Slice(layers, input.Offset, input.Limit),
	}}, nil
}

func (h *APIHandler) CreateLayer(ctx context.Context, input *struct{ Body LayerInput }) (*LayerOutput, error) {
	l, err := h.svc.Layers.Create(ctx, input.Body.layer())
	if err != nil {
		return nil, problem(err)
	}
	return &LayerOutput{Body: LayerBody{*l}}, nil
}

func (h *APIHandler) GetLayer(ctx context.Context, input *LayerIDInput) (*LayerOutput, error) {
	l, err := h.svc.Layers.Get(ctx, input.ID)
	if err != nil {
		return nil, problem(err)
	}
	return &LayerOutput{Body: LayerBody{*l}}, nil
}

func (h *APIHandler) PutLayer(ctx context.Context, input *struct {
	LayerIDInput
	Body LayerInput
}) (*LayerOutput, error) {
	l, err := h.svc.Layers.Update(ctx, input.ID, input.Body.layer())
	if err != nil {
		return nil, problem(err)
	}
	return &LayerOutput{Body: LayerBody{*l}}, nil
}

func (h *APIHandler) DeleteLayer(ctx context.Context, input *LayerIDInput) (*struct{ Body MessageBody }, error) {
	if err := h.svc.Layers.Delete(ctx, input.ID); err != nil {
		return nil, problem(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Layer deleted"}}, nil
}

func (h *APIHandler) GetLayerStyle(ctx context.Context, input *LayerIDInput) (*struct{ Body map[string]any }, error) {
	st, err := h.svc.Layers.Style(ctx, input.ID)
	if err != nil {
		return nil, problem(err)
	}
	return &struct{ Body map[string]any }{Body: st}, nil
}

// GeoData

type GeoDataInput struct {
	Name        string `json:"name" minLength:"1" maxLength:"200" doc:"Name of the dataset"`
	Description string `json:"description,omitempty" doc:"Description of the dataset"`
	SourceURL   string `json:"source_url,omitempty" format:"uri" doc:"URL of the original data source"`
}

type GeoDataOutput struct {
	Body *feature.GeoData
}

func (h *APIHandler) PutLayerGeoData(ctx context.Context, input *struct {
	LayerIDInput
	Body GeoDataInput
}) (*GeoDataOutput, error) {
	g, err := h.svc.GeoData.Put(ctx, input.ID, &feature.GeoData{
		Name:        input.Body.Name,
		Description: input.Body.Description,
		SourceURL:   input.Body.SourceURL,
	})
	if err != nil {
		return nil, problem(err)
	}
	return &GeoDataOutput{Body: g}, nil
}

func (h *APIHandler) GetGeoDataList(ctx context.Context, input *struct {
	Layer string `query:"layer" doc:"Only the geodata of this layer"`
}) (*struct{ Body []*feature.GeoData }, error) {
	list, err := h.svc.GeoData.List(ctx, input.Layer)
	if err != nil {
		return nil, problem(err)
	}
	return &struct{ Body []*feature.GeoData }{Body: list}, nil
}

func (h *APIHandler) GetGeoData(ctx context.Context, input *struct {
	ID string `path:"id" doc:"GeoData ID"`
}) (*GeoDataOutput, error) {
	g, err := h.svc.GeoData.Get(ctx, input.ID)
	if err != nil {
		return nil, problem(err)
	}
	return &GeoDataOutput{Body: g}, nil
}

// Sources

func (h *APIHandler) GetSources(ctx context.Context, input *struct{}) (*struct{ Body []service.SourceFile }, error) {
	sources, err := h.svc.Sources.List()
	if err != nil {
		return nil, problem(err)
	}
	return &struct{ Body []service.SourceFile }{Body: sources}, nil
}

func (h *APIHandler) ImportSource(ctx context.Context, input *struct {
	Name string                 `path:"name" doc:"Source file name" example:"german_cities.geojson"`
	Body *service.ImportRequest `required:"false"`
}) (*struct{ Body *service.ImportResult }, error) {
	var req service.ImportRequest
	if input.Body != nil {
		req = *input.Body
	}
	res, err := h.svc.Sources.Import(ctx, input.Name, req)
	if err != nil {
		return nil, problem(err)
	}
	return &struct{ Body *service.ImportResult }{Body: res}, nil
}
