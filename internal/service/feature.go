package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/attrs"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/cache"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/feature"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/featurejson"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/filter"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/logger"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/store"
)

// FeatureService answers feature queries and applies feature writes.
type FeatureService struct {
	d Deps
}

func NewFeatureService(d Deps) *FeatureService {
	return &FeatureService{d: d.withDefaults()}
}

// Collection is a serialized FeatureCollection.
type Collection struct {
	Body []byte
	// Total counts the matching features before offset and limit apply.
	Total  int
	Filter filter.Filter
	Cached bool
}

type cachedCollection struct {
	Total int             `json:"total"`
	Body  json.RawMessage `json:"body"`
}

// Query parses a query string, selects the matching features and returns
// them as a FeatureCollection. Results are cached per layer and canonical
// query.
func (s *FeatureService) Query(ctx context.Context, values url.Values) (*Collection, error) {
	start := time.Now()
	defer func() { s.d.Metrics.ObserveQuery("query", time.Since(start)) }()

	flt, err := filter.Parse(values)
	if err != nil {
		return nil, err
	}
	key := cache.Key(flt.LayerID, flt.Values())
	if c, ok := s.lookup(ctx, key); ok {
		c.Filter = flt
		return c, nil
	}
	bucket := flt.LayerID
	if bucket == "" {
		bucket = cache.AllLayers
	}
	gen := s.d.gens.current(bucket)

	candidates, err := s.d.Store.ListFeatures(ctx, store.Scope{
		LayerID:   flt.LayerID,
		GeoDataID: flt.GeoDataID,
		BBox:      flt.BBox,
	})
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	matched := filter.Select(candidates, flt)

	layers, err := s.layers(ctx, flt.LayerID)
	if err != nil {
		return nil, err
	}
	fc, errs := featurejson.SerializeRecords(filter.Page(matched, flt), layers)
	s.report(ctx, bucket, len(fc.Features), errs)

	body, err := json.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("encode feature collection: %w", err)
	}
	c := &Collection{Body: body, Total: len(matched), Filter: flt}
	s.save(ctx, bucket, gen, key, c)
	return c, nil
}

// LayerData returns every feature of a layer as one FeatureCollection.
func (s *FeatureService) LayerData(ctx context.Context, layerID string) (*Collection, error) {
	start := time.Now()
	defer func() { s.d.Metrics.ObserveQuery("layer", time.Since(start)) }()

	layer, err := s.d.Store.GetLayer(ctx, layerID)
	if err != nil {
		return nil, err
	}
	key := cache.Key(layerID, url.Values{"view": {"data"}})
	if c, ok := s.lookup(ctx, key); ok {
		return c, nil
	}
	gen := s.d.gens.current(layerID)

	features, err := s.d.Store.ListFeatures(ctx, store.Scope{LayerID: layerID})
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	fc, errs := featurejson.SerializeCollection(features, layer)
	s.report(ctx, layerID, len(fc.Features), errs)

	body, err := json.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("encode feature collection: %w", err)
	}
	c := &Collection{Body: body, Total: len(features)}
	s.save(ctx, layerID, gen, key, c)
	return c, nil
}

// Get returns one feature as GeoJSON.
func (s *FeatureService) Get(ctx context.Context, id int64) (*geojson.Feature, error) {
	f, err := s.d.Store.GetFeature(ctx, id)
	if err != nil {
		return nil, err
	}
	layer, err := s.d.Store.GetLayer(ctx, f.LayerID)
	if err != nil && !errors.Is(err, feature.ErrNotFound) {
		return nil, err
	}
	return featurejson.SerializeFeature(f, layer)
}

// Record returns the stored feature.
func (s *FeatureService) Record(ctx context.Context, id int64) (*feature.Feature, error) {
	return s.d.Store.GetFeature(ctx, id)
}

// Create validates f, reconciles its attributes and stores it as a new
// feature of f.GeoDataID.
func (s *FeatureService) Create(ctx context.Context, f *feature.Feature) (*feature.Feature, error) {
	f.ID = 0
	if err := s.write(ctx, f); err != nil {
		return nil, err
	}
	s.d.invalidate(ctx, f.LayerID)
	s.d.Metrics.FeatureWrite("create")
	if ev := s.d.logger(logger.WithLayer(ctx, f.LayerID), "features").Debug(); ev.Enabled() {
		ev.Int64("id", f.ID).Str("attributes", attrs.Display(f)).Msg("feature created")
	}
	s.d.Bus.Publish(featureEvent(ActionCreated, f.ID, f.LayerID))
	return f, nil
}

// Update replaces feature id with f. An empty f.GeoDataID keeps the stored
// one.
func (s *FeatureService) Update(ctx context.Context, id int64, f *feature.Feature) (*feature.Feature, error) {
	old, err := s.d.Store.GetFeature(ctx, id)
	if err != nil {
		return nil, err
	}
	f.ID = id
	if f.GeoDataID == "" {
		f.GeoDataID = old.GeoDataID
	}
	if err := s.write(ctx, f); err != nil {
		return nil, err
	}
	s.d.invalidate(ctx, old.LayerID, f.LayerID)
	s.d.Metrics.FeatureWrite("update")
	s.d.Bus.Publish(featureEvent(ActionUpdated, f.ID, f.LayerID))
	return f, nil
}

// StylePatch changes the explicit style fields of a feature. Nil fields are
// left alone; an empty Color clears the colour.
type StylePatch struct {
	Color   *string
	Opacity *float64
	Weight  *float64
}

func (s *FeatureService) UpdateStyle(ctx context.Context, id int64, p StylePatch) (*feature.Feature, error) {
	f, err := s.d.Store.GetFeature(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Color != nil {
		if *p.Color == "" {
			f.StyleColor = nil
			dropStyleKey(f.Attributes, attrs.StyleColor)
		} else {
			f.StyleColor = feature.Ptr(*p.Color)
		}
	}
	if p.Opacity != nil {
		f.StyleOpacity = feature.Ptr(*p.Opacity)
	}
	if p.Weight != nil {
		f.StyleWeight = feature.Ptr(*p.Weight)
	}
	if err := s.write(ctx, f); err != nil {
		return nil, err
	}
	s.d.invalidate(ctx, f.LayerID)
	s.d.Metrics.FeatureWrite("style")
	s.d.Bus.Publish(featureEvent(ActionUpdated, f.ID, f.LayerID))
	return f, nil
}

// dropStyleKey removes key from attributes["style"] when that is a map, so
// a cleared promoted field is not restored from its mirror.
func dropStyleKey(a feature.Attributes, key string) {
	if m, ok := a[attrs.KeyStyle].(map[string]any); ok {
		delete(m, key)
		if len(m) == 0 {
			delete(a, attrs.KeyStyle)
		}
	}
}

func (s *FeatureService) Delete(ctx context.Context, id int64) error {
	old, err := s.d.Store.GetFeature(ctx, id)
	if err != nil {
		return err
	}
	if err := s.d.Store.DeleteFeature(ctx, id); err != nil {
		return err
	}
	s.d.invalidate(ctx, old.LayerID)
	s.d.Metrics.FeatureWrite("delete")
	s.d.Bus.Publish(featureEvent(ActionDeleted, id, old.LayerID))
	return nil
}

// write is the single persist path: validate, reconcile, save.
func (s *FeatureService) write(ctx context.Context, f *feature.Feature) error {
	if f.GeoDataID == "" {
		return &feature.ValidationError{Field: "geodata", Reason: "must reference a geodata record"}
	}
	if f.Attributes == nil {
		f.Attributes = feature.Attributes{}
	}
	if err := f.Validate(); err != nil {
		return err
	}
	attrs.ReconcileOnWrite(f)
	return s.d.Store.SaveFeature(ctx, f)
}

// importAll stores fs as new features of geoDataID. Features that fail are
// reported and skipped.
func (s *FeatureService) importAll(ctx context.Context, geoDataID string, fs []*feature.Feature) (int, []string) {
	var (
		n       int
		skipped []string
		layerID string
	)
	for i, f := range fs {
		f.ID = 0
		f.GeoDataID = geoDataID
		if err := s.write(ctx, f); err != nil {
			skipped = append(skipped, fmt.Sprintf("feature %d: %v", i, err))
			continue
		}
		layerID = f.LayerID
		n++
	}
	if n > 0 {
		s.d.invalidate(ctx, layerID)
		s.d.Metrics.Imported(n)
		s.d.Bus.Publish(Event{Resource: ResourceFeatures, Action: ActionImported, ID: geoDataID, LayerID: layerID})
	}
	return n, skipped
}

// layers returns the layers needed to resolve styles of a query: the one
// named, or all of them. A missing named layer yields an empty map.
func (s *FeatureService) layers(ctx context.Context, layerID string) (map[string]*feature.Layer, error) {
	out := map[string]*feature.Layer{}
	if layerID != "" {
		l, err := s.d.Store.GetLayer(ctx, layerID)
		switch {
		case errors.Is(err, feature.ErrNotFound):
			return out, nil
		case err != nil:
			return nil, err
		}
		out[l.ID] = l
		return out, nil
	}
	all, err := s.d.Store.ListLayers(ctx)
	if err != nil {
		return nil, err
	}
	for _, l := range all {
		out[l.ID] = l
	}
	return out, nil
}

func (s *FeatureService) report(ctx context.Context, layer string, ok int, errs []error) {
	s.d.Metrics.Serialized(layer, ok, len(errs))
	if len(errs) == 0 {
		return
	}
	log := s.d.logger(logger.WithLayer(ctx, layer), "featurejson")
	for _, err := range errs {
		log.Warn().Err(err).Msg("feature skipped")
	}
}

func (s *FeatureService) lookup(ctx context.Context, key string) (*Collection, bool) {
	b, ok, err := s.d.Cache.Get(ctx, key)
	if err != nil {
		s.d.Metrics.CacheError()
		s.d.logger(ctx, "cache").Warn().Err(err).Str("key", key).Msg("cache get failed")
		return nil, false
	}
	if !ok {
		s.d.Metrics.CacheMiss()
		return nil, false
	}
	var cc cachedCollection
	if err := json.Unmarshal(b, &cc); err != nil {
		s.d.Metrics.CacheError()
		return nil, false
	}
	s.d.Metrics.CacheHit()
	return &Collection{Body: cc.Body, Total: cc.Total, Cached: true}, true
}

// save caches c unless layer was invalidated after the read that built it.
func (s *FeatureService) save(ctx context.Context, layer string, gen uint64, key string, c *Collection) {
	b, err := json.Marshal(cachedCollection{Total: c.Total, Body: c.Body})
	if err != nil {
		return
	}
	var setErr error
	if !s.d.gens.fill(layer, gen, func() { setErr = s.d.Cache.Set(ctx, layer, key, b) }) {
		s.d.logger(ctx, "cache").Debug().Str("key", key).Msg("collection outdated, not cached")
		return
	}
	if setErr != nil {
		s.d.Metrics.CacheError()
		s.d.logger(ctx, "cache").Warn().Err(setErr).Str("key", key).Msg("cache set failed")
	}
}
