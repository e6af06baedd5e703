package feature

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidGeometry marks a null, malformed or mistagged geometry.
	ErrInvalidGeometry = errors.New("invalid geometry")

	// ErrInvalidFilterArgument marks a rejected query filter.
	ErrInvalidFilterArgument = errors.New("invalid filter argument")

	// ErrAttributeTypeMismatch marks an attribute value of the wrong shape.
	ErrAttributeTypeMismatch = errors.New("attribute type mismatch")

	// ErrNotFound is returned by storage when an identifier does not resolve.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by storage on a uniqueness violation.
	ErrConflict = errors.New("conflict")

	// ErrInvalidFeature marks a feature that violates a write-path invariant.
	ErrInvalidFeature = errors.New("invalid feature")
)

// GeometryError describes why a feature's geometry was rejected.
type GeometryError struct {
	FeatureID int64
	Type      GeometryType
	Reason    string
}

func (e *GeometryError) Error() string {
	switch {
	case e.FeatureID != 0 && e.Type != "":
		return fmt.Sprintf("feature %d: invalid geometry (%s): %s", e.FeatureID, e.Type, e.Reason)
	case e.FeatureID != 0:
		return fmt.Sprintf("feature %d: invalid geometry: %s", e.FeatureID, e.Reason)
	case e.Type != "":
		return fmt.Sprintf("invalid geometry (%s): %s", e.Type, e.Reason)
	}
	return "invalid geometry: " + e.Reason
}

func (e *GeometryError) Unwrap() error { return ErrInvalidGeometry }

// FilterError describes a rejected query parameter.
type FilterError struct {
	Key    string
	Value  string
	Reason string
}

func (e *FilterError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("filter %q: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("filter %q=%q: %s", e.Key, e.Value, e.Reason)
}

func (e *FilterError) Unwrap() error { return ErrInvalidFilterArgument }

// ValidationError describes a write-path invariant violation on one field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidFeature }
