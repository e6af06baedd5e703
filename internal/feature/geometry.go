package feature

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// GeometryType is the tag of the geometry union.
type GeometryType string

const (
	Point           GeometryType = "Point"
	LineString      GeometryType = "LineString"
	Polygon         GeometryType = "Polygon"
	MultiPoint      GeometryType = "MultiPoint"
	MultiLineString GeometryType = "MultiLineString"
	MultiPolygon    GeometryType = "MultiPolygon"
)

// Geometry is a tagged union over the six supported shapes. Type is the
// tag; Shape holds the orb payload and must match the tag.
type Geometry struct {
	Type  GeometryType
	Shape orb.Geometry
}

// NewGeometry tags an orb geometry. Unsupported shapes produce a Geometry
// that fails Validate.
func NewGeometry(g orb.Geometry) Geometry {
	if g == nil {
		return Geometry{}
	}
	switch g.(type) {
	case orb.Point:
		return Geometry{Type: Point, Shape: g}
	case orb.LineString:
		return Geometry{Type: LineString, Shape: g}
	case orb.Polygon:
		return Geometry{Type: Polygon, Shape: g}
	case orb.MultiPoint:
		return Geometry{Type: MultiPoint, Shape: g}
	case orb.MultiLineString:
		return Geometry{Type: MultiLineString, Shape: g}
	case orb.MultiPolygon:
		return Geometry{Type: MultiPolygon, Shape: g}
	}
	return Geometry{Type: GeometryType(g.GeoJSONType()), Shape: g}
}

// ParseGeometry decodes a GeoJSON geometry object.
func ParseGeometry(data []byte) (Geometry, error) {
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return Geometry{}, &GeometryError{Reason: err.Error()}
	}
	geom := NewGeometry(g.Geometry())
	if err := geom.Validate(); err != nil {
		return Geometry{}, err
	}
	return geom, nil
}

// IsZero reports whether no geometry is set.
func (g Geometry) IsZero() bool {
	return g.Shape == nil
}

// Bound returns the envelope of the geometry.
func (g Geometry) Bound() orb.Bound {
	if g.Shape == nil {
		return orb.Bound{}
	}
	return g.Shape.Bound()
}

// Clone deep-copies the payload.
func (g Geometry) Clone() Geometry {
	if g.Shape == nil {
		return g
	}
	return Geometry{Type: g.Type, Shape: orb.Clone(g.Shape)}
}

// Validate checks that the payload is present, matches the tag and is
// structurally sound for its shape.
func (g Geometry) Validate() error {
	if g.Shape == nil {
		return &GeometryError{Type: g.Type, Reason: "geometry is null"}
	}
	fail := func(format string, args ...any) error {
		return &GeometryError{Type: g.Type, Reason: fmt.Sprintf(format, args...)}
	}
	switch g.Type {
	case Point:
		p, ok := g.Shape.(orb.Point)
		if !ok {
			return fail("payload is %s", g.Shape.GeoJSONType())
		}
		return checkPoints(fail, p)
	case MultiPoint:
		mp, ok := g.Shape.(orb.MultiPoint)
		if !ok {
			return fail("payload is %s", g.Shape.GeoJSONType())
		}
		if len(mp) == 0 {
			return fail("no points")
		}
		return checkPoints(fail, mp...)
	case LineString:
		ls, ok := g.Shape.(orb.LineString)
		if !ok {
			return fail("payload is %s", g.Shape.GeoJSONType())
		}
		return checkLine(fail, ls)
	case MultiLineString:
		mls, ok := g.Shape.(orb.MultiLineString)
		if !ok {
			return fail("payload is %s", g.Shape.GeoJSONType())
		}
		if len(mls) == 0 {
			return fail("no lines")
		}
		for _, ls := range mls {
			if err := checkLine(fail, ls); err != nil {
				return err
			}
		}
		return nil
	case Polygon:
		p, ok := g.Shape.(orb.Polygon)
		if !ok {
			return fail("payload is %s", g.Shape.GeoJSONType())
		}
		return checkPolygon(fail, p)
	case MultiPolygon:
		mp, ok := g.Shape.(orb.MultiPolygon)
		if !ok {
			return fail("payload is %s", g.Shape.GeoJSONType())
		}
		if len(mp) == 0 {
			return fail("no polygons")
		}
		for _, p := range mp {
			if err := checkPolygon(fail, p); err != nil {
				return err
			}
		}
		return nil
	case "":
		return fail("missing geometry type")
	}
	return fail("unsupported geometry type")
}

func checkPoints(fail func(string, ...any) error, pts ...orb.Point) error {
	for _, p := range pts {
		if !finite(p[0]) || !finite(p[1]) {
			return fail("non-finite coordinate %v", p)
		}
	}
	return nil
}

func checkLine(fail func(string, ...any) error, ls orb.LineString) error {
	if len(ls) < 2 {
		return fail("line has %d positions, need at least 2", len(ls))
	}
	return checkPoints(fail, ls...)
}

func checkPolygon(fail func(string, ...any) error, p orb.Polygon) error {
	if len(p) == 0 {
		return fail("polygon has no rings")
	}
	for i, r := range p {
		if len(r) < 4 {
			return fail("ring %d has %d positions, need at least 4", i, len(r))
		}
		if !r.Closed() {
			return fail("ring %d is not closed", i)
		}
		if err := checkPoints(fail, r...); err != nil {
			return err
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// MarshalJSON encodes the geometry as a GeoJSON geometry object.
func (g Geometry) MarshalJSON() ([]byte, error) {
	if g.Shape == nil {
		return []byte("null"), nil
	}
	return json.Marshal(geojson.NewGeometry(g.Shape))
}

// UnmarshalJSON decodes a GeoJSON geometry object. A JSON null leaves the
// geometry zero; Validate reports it.
func (g *Geometry) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*g = Geometry{}
		return nil
	}
	geom, err := ParseGeometry(data)
	if err != nil {
		return err
	}
	*g = geom
	return nil
}
