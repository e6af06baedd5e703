package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/feature"
)

// Points and lines along an axis have zero extent; the R-tree needs a
// positive side length. Roughly 11 m at the equator.
const indexEpsilon = 0.0001

// Memory is an in-process Store. Records are copied on the way in and on
// the way out, and a write swaps the whole record under the lock.
type Memory struct {
	mu       sync.RWMutex
	layers   map[string]*feature.Layer
	geodata  map[string]*feature.GeoData
	features map[int64]*feature.Feature
	index    *rtreego.Rtree
	entries  map[int64]*indexEntry
	nextID   int64
	now      func() time.Time
}

// indexEntry wraps a feature id for R-tree storage.
type indexEntry struct {
	id    int64
	bound orb.Bound
}

// Bounds implements rtreego.Spatial.
func (e *indexEntry) Bounds() rtreego.Rect {
	return rect(e.bound, 0)
}

func rect(b orb.Bound, pad float64) rtreego.Rect {
	point := rtreego.Point{b.Min[0] - pad, b.Min[1] - pad}
	lonLength := b.Max[0] - b.Min[0] + 2*pad
	latLength := b.Max[1] - b.Min[1] + 2*pad
	if lonLength < indexEpsilon {
		lonLength = indexEpsilon
	}
	if latLength < indexEpsilon {
		latLength = indexEpsilon
	}
	r, _ := rtreego.NewRect(point, []float64{lonLength, latLength})
	return r
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		layers:   make(map[string]*feature.Layer),
		geodata:  make(map[string]*feature.GeoData),
		features: make(map[int64]*feature.Feature),
		index:    rtreego.NewTree(2, 25, 50),
		entries:  make(map[int64]*indexEntry),
		now:      nowMicros,
	}
}

func (m *Memory) ListLayers(ctx context.Context) ([]*feature.Layer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*feature.Layer, 0, len(m.layers))
	for _, l := range m.layers {
		out = append(out, l.Clone())
	}
	slices.SortFunc(out, func(a, b *feature.Layer) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (m *Memory) GetLayer(ctx context.Context, id string) (*feature.Layer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.layers[id]
	if !ok {
		return nil, layerNotFound(id)
	}
	return l.Clone(), nil
}

func (m *Memory) CreateLayer(ctx context.Context, l *feature.Layer) error {
	if err := prepareLayer(l); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.layers[l.ID]; exists {
		return fmt.Errorf("layer with ID %q already exists: %w", l.ID, feature.ErrConflict)
	}
	if err := m.checkLayerName(l); err != nil {
		return err
	}
	l.CreatedAt = m.now()
	l.UpdatedAt = l.CreatedAt
	m.layers[l.ID] = l.Clone()
	return nil
}

func (m *Memory) UpdateLayer(ctx context.Context, l *feature.Layer) error {
	l.Normalize()

	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.layers[l.ID]
	if !ok {
		return layerNotFound(l.ID)
	}
	if err := m.checkLayerName(l); err != nil {
		return err
	}
	l.CreatedAt = old.CreatedAt
	l.UpdatedAt = m.now()
	m.layers[l.ID] = l.Clone()
	return nil
}

func (m *Memory) checkLayerName(l *feature.Layer) error {
	for _, other := range m.layers {
		if other.ID != l.ID && other.Name == l.Name {
			return fmt.Errorf("layer name %q already used by %q: %w", l.Name, other.ID, feature.ErrConflict)
		}
	}
	return nil
}

func (m *Memory) DeleteLayer(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.layers[id]; !ok {
		return layerNotFound(id)
	}
	for gid, g := range m.geodata {
		if g.LayerID == id {
			delete(m.geodata, gid)
		}
	}
	for fid, f := range m.features {
		if f.LayerID == id {
			m.unindex(fid)
			delete(m.features, fid)
		}
	}
	delete(m.layers, id)
	return nil
}

func (m *Memory) GetGeoData(ctx context.Context, id string) (*feature.GeoData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.geodata[id]
	if !ok {
		return nil, geoDataNotFound(id)
	}
	c := *g
	return &c, nil
}

func (m *Memory) ListGeoData(ctx context.Context, layerID string) ([]*feature.GeoData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*feature.GeoData, 0, len(m.geodata))
	for _, g := range m.geodata {
		if layerID != "" && g.LayerID != layerID {
			continue
		}
		c := *g
		out = append(out, &c)
	}
	slices.SortFunc(out, func(a, b *feature.GeoData) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (m *Memory) PutGeoData(ctx context.Context, g *feature.GeoData) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.layers[g.LayerID]; !ok {
		return layerNotFound(g.LayerID)
	}
	now := m.now()
	var existing *feature.GeoData
	for _, other := range m.geodata {
		if other.LayerID == g.LayerID {
			existing = other
			break
		}
	}
	switch {
	case existing != nil:
		g.ID = existing.ID
		g.CreatedAt = existing.CreatedAt
	case g.ID == "":
		g.ID = g.LayerID
		fallthrough
	default:
		if _, taken := m.geodata[g.ID]; taken {
			return fmt.Errorf("geodata with ID %q already exists: %w", g.ID, feature.ErrConflict)
		}
		g.CreatedAt = now
	}
	g.UpdatedAt = now
	c := *g
	m.geodata[g.ID] = &c
	return nil
}

func (m *Memory) GetFeature(ctx context.Context, id int64) (*feature.Feature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.features[id]
	if !ok {
		return nil, featureNotFound(id)
	}
	return f.Clone(), nil
}

func (m *Memory) ListFeatures(ctx context.Context, scope Scope) ([]*feature.Feature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*feature.Feature
	if scope.BBox != nil {
		hits := m.index.SearchIntersect(rect(*scope.BBox, indexEpsilon))
		out = make([]*feature.Feature, 0, len(hits))
		for _, h := range hits {
			if f := m.features[h.(*indexEntry).id]; scope.match(f) {
				out = append(out, f.Clone())
			}
		}
	} else {
		out = make([]*feature.Feature, 0, len(m.features))
		for _, f := range m.features {
			if scope.match(f) {
				out = append(out, f.Clone())
			}
		}
	}
	slices.SortFunc(out, func(a, b *feature.Feature) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *Memory) SaveFeature(ctx context.Context, f *feature.Feature) error {
	if f.Geometry.IsZero() {
		return &feature.GeometryError{FeatureID: f.ID, Reason: "geometry is null"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.geodata[f.GeoDataID]
	if !ok {
		return geoDataNotFound(f.GeoDataID)
	}
	now := m.now()
	if f.ID == 0 {
		m.nextID++
		f.ID = m.nextID
		f.CreatedAt = now
	} else {
		old, ok := m.features[f.ID]
		if !ok {
			return featureNotFound(f.ID)
		}
		f.CreatedAt = old.CreatedAt
		m.unindex(f.ID)
	}
	f.LayerID = g.LayerID
	f.UpdatedAt = now
	if f.Attributes == nil {
		f.Attributes = feature.Attributes{}
	}

	m.features[f.ID] = f.Clone()
	e := &indexEntry{id: f.ID, bound: f.Geometry.Bound()}
	m.entries[f.ID] = e
	m.index.Insert(e)
	return nil
}

func (m *Memory) DeleteFeature(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.features[id]; !ok {
		return featureNotFound(id)
	}
	m.unindex(id)
	delete(m.features, id)
	return nil
}

func (m *Memory) unindex(id int64) {
	if e, ok := m.entries[id]; ok {
		m.index.Delete(e)
		delete(m.entries, id)
	}
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
