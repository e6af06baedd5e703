package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb/geojson"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/feature"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/featurejson"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/filter"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/humastar"
)

// GeoJSONType is the media type of feature responses.
const GeoJSONType = "application/geo+json"

// FeatureQueryInput documents the query keys of the feature search. The
// keys are parsed as a whole by package filter; unknown keys are rejected.
type FeatureQueryInput struct {
	InBBox      string `query:"in_bbox" doc:"Bounding box min_lon,min_lat,max_lon,max_lat, edges inclusive" example:"13.0,52.3,13.8,52.7"`
	Time        string `query:"time" doc:"Features existing at this instant"`
	TimeStart   string `query:"time_start" doc:"Start of the overlap window"`
	TimeEnd     string `query:"time_end" doc:"End of the overlap window"`
	TimeFrom    string `query:"time_from" doc:"Exact time_from"`
	TimeFromGte string `query:"time_from__gte" doc:"time_from at or after"`
	TimeFromLte string `query:"time_from__lte" doc:"time_from at or before"`
	TimeTo      string `query:"time_to" doc:"Exact time_to"`
	TimeToGte   string `query:"time_to__gte" doc:"time_to at or after"`
	TimeToLte   string `query:"time_to__lte" doc:"time_to at or before"`
	Layer       string `query:"layer" doc:"Layer ID"`
	GeoData     string `query:"geodata" doc:"GeoData ID"`
	Search      string `query:"search" doc:"Case-insensitive text over name, description and attributes"`
	Ordering    string `query:"ordering" doc:"created_at, updated_at, time_from or time_to, prefix - for descending" example:"-time_from"`
	Limit       string `query:"limit" doc:"Page size, 0 or empty for all"`
	Offset      string `query:"offset" doc:"Number of features to skip"`

	values url.Values
	url    url.URL
}

// Resolve keeps the raw query and validates it up front so bad arguments
// are reported as 422 with their location.
func (in *FeatureQueryInput) Resolve(ctx huma.Context) []error {
	in.url = ctx.URL()
	in.values = in.url.Query()
	if _, err := filter.Parse(in.values); err != nil {
		var fe *feature.FilterError
		if errors.As(err, &fe) {
			return []error{&huma.ErrorDetail{Location: "query." + fe.Key, Message: fe.Reason, Value: fe.Value}}
		}
		return []error{&huma.ErrorDetail{Location: "query", Message: err.Error()}}
	}
	return nil
}

// CollectionOutput is a raw GeoJSON FeatureCollection. Raw bodies skip the
// link transformer, so Link is filled by the handler.
type CollectionOutput struct {
	ContentType string `header:"Content-Type"`
	Link        string `header:"Link"`
	TotalCount  int    `header:"X-Total-Count" doc:"Matching features before offset and limit"`
	Cache       string `header:"X-Cache" doc:"HIT when served from the collection cache"`
	Body        []byte
}

// FeatureOutput is a single raw GeoJSON Feature.
type FeatureOutput struct {
	ContentType string `header:"Content-Type"`
	Link        string `header:"Link"`
	Body        []byte
}

// FeatureBody is a GeoJSON Feature sent by a client. properties.geodata
// names the geodata record the feature belongs to.
type FeatureBody struct {
	Type       string         `json:"type" enum:"Feature" doc:"Always Feature"`
	Geometry   map[string]any `json:"geometry" doc:"RFC 7946 geometry"`
	Properties map[string]any `json:"properties,omitempty" doc:"name, description, geodata, time_from, time_to, zoom_range, style_* and attributes"`
}

func (b FeatureBody) feature() (*feature.Feature, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, huma.Error400BadRequest("encode feature: " + err.Error())
	}
	gf, err := geojson.UnmarshalFeature(data)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("invalid GeoJSON feature: "+err.Error(), &huma.ErrorDetail{Location: "body.geometry", Message: err.Error()})
	}
	f, err := featurejson.FromGeoJSON(gf)
	if err != nil {
		return nil, problem(err)
	}
	return f, nil
}

type FeatureIDInput struct {
	ID int64 `path:"id" minimum:"1" doc:"Feature ID"`
}

func (h *APIHandler) QueryFeatures(ctx context.Context, input *FeatureQueryInput) (*CollectionOutput, error) {
	c, err := h.svc.Features.Query(ctx, input.values)
	if err != nil {
		return nil, problem(err)
	}
	page := humastar.Page{Total: c.Total, Offset: c.Filter.Offset, Limit: c.Filter.Limit}
	links := append(humastar.Links(humastar.SearchPath), page.PaginationLinks(&input.url)...)
	return collectionOutput(c.Body, c.Total, c.Cached, links), nil
}

func (h *APIHandler) GetLayerData(ctx context.Context, input *LayerIDInput) (*CollectionOutput, error) {
	c, err := h.svc.Features.LayerData(ctx, input.ID)
	if err != nil {
		return nil, problem(err)
	}
	return collectionOutput(c.Body, c.Total, c.Cached, humastar.Links("/api/v1/layers/{id}/data")), nil
}

func collectionOutput(body []byte, total int, cached bool, links []string) *CollectionOutput {
	out := &CollectionOutput{
		ContentType: GeoJSONType,
		Link:        strings.Join(links, ", "),
		TotalCount:  total,
		Cache:       "MISS",
		Body:        body,
	}
	if cached {
		out.Cache = "HIT"
	}
	return out
}

func (h *APIHandler) GetFeature(ctx context.Context, input *FeatureIDInput) (*FeatureOutput, error) {
	return h.featureOutput(ctx, input.ID)
}

func (h *APIHandler) CreateFeature(ctx context.Context, input *struct{ Body FeatureBody }) (*FeatureOutput, error) {
	f, err := input.Body.feature()
	if err != nil {
		return nil, err
	}
	f, err = h.svc.Features.Create(ctx, f)
	if err != nil {
		return nil, problem(err)
	}
	return h.featureOutput(ctx, f.ID)
}

func (h *APIHandler) PutFeature(ctx context.Context, input *struct {
	FeatureIDInput
	Body FeatureBody
}) (*FeatureOutput, error) {
	f, err := input.Body.feature()
	if err != nil {
		return nil, err
	}
	f, err = h.svc.Features.Update(ctx, input.ID, f)
	if err != nil {
		return nil, problem(err)
	}
	return h.featureOutput(ctx, f.ID)
}

func (h *APIHandler) DeleteFeature(ctx context.Context, input *FeatureIDInput) (*struct{ Body MessageBody }, error) {
	if err := h.svc.Features.Delete(ctx, input.ID); err != nil {
		return nil, problem(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Feature deleted"}}, nil
}

func (h *APIHandler) featureOutput(ctx context.Context, id int64) (*FeatureOutput, error) {
	gf, err := h.svc.Features.Get(ctx, id)
	if err != nil {
		return nil, problem(err)
	}
	body, err := json.Marshal(gf)
	if err != nil {
		return nil, huma.Error500InternalServerError("encode feature", err)
	}
	links := humastar.Links("/api/v1/features/{id}")
	links = append(links, fmt.Sprintf(`</api/v1/features/%d>; rel="self"`, id))
	return &FeatureOutput{ContentType: GeoJSONType, Link: strings.Join(links, ", "), Body: body}, nil
}
