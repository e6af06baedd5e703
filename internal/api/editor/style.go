package editor

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/featurejson"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/humastar"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/service"
)

// StyleHandler applies style edits sent as Datastar signals.
type StyleHandler struct {
	features *service.FeatureService
}

func NewStyleHandler(features *service.FeatureService) *StyleHandler {
	return &StyleHandler{features: features}
}

func (h *StyleHandler) RegisterRoutes(api huma.API) {
	huma.Post(api, "/api/v1/editor/features/{id}/style", h.UpdateStyle,
		huma.OperationTags("editor"),
	)
}

type StyleInput struct {
	ID int64 `path:"id" minimum:"1" doc:"Feature ID"`
	humastar.SignalsInput
}

// patch reads the color, opacity and weight signals. Missing signals leave
// the field alone; an empty color clears it.
func patch(s humastar.Signals) service.StylePatch {
	var p service.StylePatch
	if s.Has("color") {
		c := s.String("color")
		p.Color = &c
	}
	if v, ok := s.Float("opacity"); ok {
		p.Opacity = &v
	}
	if v, ok := s.Float("weight"); ok {
		p.Weight = &v
	}
	return p
}

func (h *StyleHandler) UpdateStyle(ctx context.Context, input *StyleInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	p := patch(signals)

	return humastar.Stream(func(sse humastar.SSE) {
		f, err := h.features.UpdateStyle(ctx, input.ID, p)
		if err != nil {
			sse.Error(err.Error())
			return
		}
		gf, err := h.features.Get(ctx, f.ID)
		if err != nil {
			sse.Error(err.Error())
			return
		}
		sse.Signals(map[string]any{
			"color":          f.Color(),
			"opacity":        f.StyleOpacity,
			"weight":         f.StyleWeight,
			"effectiveStyle": gf.Properties[featurejson.PropEffectiveStyle],
			"error":          "",
			"success":        fmt.Sprintf("Style of feature %d saved", f.ID),
		})
	}), nil
}
