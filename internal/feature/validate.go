package feature

import (
	"errors"
	"math"
	"regexp"
)

var hexColor = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)

// Validate checks the write-path invariants of a feature. All violations
// are joined into a single error that matches ErrInvalidFeature (and
// ErrInvalidGeometry when the geometry is at fault).
func (f *Feature) Validate() error {
	var errs []error
	if err := f.Geometry.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c := f.Color(); c != "" && !ValidColor(c) {
		errs = append(errs, &ValidationError{Field: "style_color", Reason: "must be a hex colour such as #ff0000"})
	}
	if o := f.StyleOpacity; o != nil && (math.IsNaN(*o) || *o < 0 || *o > 1) {
		errs = append(errs, &ValidationError{Field: "style_opacity", Reason: "must be between 0.0 and 1.0"})
	}
	if w := f.StyleWeight; w != nil && (math.IsNaN(*w) || *w < 0) {
		errs = append(errs, &ValidationError{Field: "style_weight", Reason: "must not be negative"})
	}
	if f.TimeFrom != nil && f.TimeTo != nil && f.TimeFrom.After(*f.TimeTo) {
		errs = append(errs, &ValidationError{Field: "time_from", Reason: "must not be after time_to"})
	}
	if len(f.ZoomRange) > 50 {
		errs = append(errs, &ValidationError{Field: "zoom_range", Reason: "must be at most 50 characters"})
	}
	if len(errs) == 0 {
		return nil
	}
	return &invalidFeature{errs: errs}
}

type invalidFeature struct {
	errs []error
}

func (e *invalidFeature) Error() string {
	return errors.Join(e.errs...).Error()
}

func (e *invalidFeature) Unwrap() []error {
	return append([]error{ErrInvalidFeature}, e.errs...)
}

// ValidColor reports whether c is a hex colour accepted for style_color.
func ValidColor(c string) bool {
	return hexColor.MatchString(c)
}
