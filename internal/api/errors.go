package api

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/feature"
)

// problem maps a service error onto an RFC 9457 huma error.
func problem(err error) error {
	var fe *feature.FilterError
	switch {
	case errors.As(err, &fe):
		return huma.Error422UnprocessableEntity(err.Error(), &huma.ErrorDetail{
			Location: "query." + fe.Key,
			Message:  fe.Reason,
			Value:    fe.Value,
		})
	case errors.Is(err, feature.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, feature.ErrConflict):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, feature.ErrInvalidGeometry),
		errors.Is(err, feature.ErrInvalidFeature),
		errors.Is(err, feature.ErrAttributeTypeMismatch):
		return huma.Error422UnprocessableEntity(err.Error())
	}
	return huma.Error500InternalServerError("internal error", err)
}
