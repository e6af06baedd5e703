// Package service orchestrates storage, filtering, style resolution and
// GeoJSON serialization for the HTTP API and the command line.
package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/cache"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/logger"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/metrics"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/store"
)

// Deps are the collaborators shared by all services. Only Store is
// required.
type Deps struct {
	Store   store.Store
	Cache   cache.Cache
	Bus     *EventBus
	Metrics *metrics.Provider
	Log     *zerolog.Logger

	gens *generations
}

// generations counts invalidations per cache bucket. A collection read
// before an invalidation must not be cached after it.
type generations struct {
	mu sync.Mutex
	n  map[string]uint64
}

func (g *generations) current(bucket string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n[bucket]
}

// bump advances bucket and runs drop while no cache fill can interleave.
func (g *generations) bump(bucket string, drop func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n[bucket]++
	drop()
}

// fill runs set only if bucket is still at generation gen.
func (g *generations) fill(bucket string, gen uint64, set func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.n[bucket] != gen {
		return false
	}
	set()
	return true
}

func (d Deps) withDefaults() Deps {
	if d.Cache == nil {
		d.Cache = cache.Noop{}
	}
	if d.Bus == nil {
		d.Bus = NewEventBus()
	}
	if d.Log == nil {
		nop := zerolog.Nop()
		d.Log = &nop
	}
	if d.gens == nil {
		d.gens = &generations{n: map[string]uint64{}}
	}
	return d
}

func (d Deps) logger(ctx context.Context, component string) *zerolog.Logger {
	return logger.FromContext(logger.WithComponent(ctx, component), d.Log)
}

// invalidate drops cached collections of the given layers and of every
// cross-layer query. Cache failures are logged, never returned: a stale
// entry expires with its ttl.
func (d Deps) invalidate(ctx context.Context, layerIDs ...string) {
	for _, id := range append(layerIDs, cache.AllLayers) {
		if id == "" {
			continue
		}
		d.gens.bump(id, func() {
			if err := d.Cache.InvalidateLayer(ctx, id); err != nil {
				d.Metrics.CacheError()
				d.logger(ctx, "cache").Warn().Err(err).Str("layer", id).Msg("cache invalidation failed")
			}
		})
	}
}

// Services bundles the services used by the API.
type Services struct {
	Layers   *LayerService
	GeoData  *GeoDataService
	Features *FeatureService
	Sources  *SourceService
	Bus      *EventBus
}

func New(d Deps, dataDir string) *Services {
	d = d.withDefaults()
	fs := NewFeatureService(d)
	return &Services{
		Layers:   NewLayerService(d),
		GeoData:  NewGeoDataService(d),
		Features: fs,
		Sources:  NewSourceService(dataDir, fs, d),
		Bus:      d.Bus,
	}
}

// SourceFile is a GeoJSON file available for import.
type SourceFile struct {
	Name     string `json:"name" doc:"File name" example:"german_cities.geojson"`
	Size     string `json:"size" doc:"Human-readable file size" example:"1.2 MB"`
	FileType string `json:"fileType" doc:"File type" example:"GeoJSON"`
}

// ImportResult reports a GeoJSON import.
type ImportResult struct {
	LayerID   string   `json:"layer_id" doc:"Layer the features were added to"`
	GeoDataID string   `json:"geodata_id" doc:"GeoData record of the layer"`
	Imported  int      `json:"imported" doc:"Number of features created"`
	Skipped   []string `json:"skipped,omitempty" doc:"Reasons for features that were not imported"`
}
