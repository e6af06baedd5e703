// Package cache stores serialized FeatureCollections keyed by layer and
// query. Entries are dropped per layer whenever a layer's features change.
package cache

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// AllLayers is the layer bucket for queries that span layers.
const AllLayers = "_all"

const keyPrefix = "fc:"

type Cache interface {
	// Get returns the cached body for key; ok is false on a miss.
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	// Set stores val under key and files it under layer for invalidation.
	Set(ctx context.Context, layer, key string, val []byte) error
	// InvalidateLayer drops every entry filed under layer.
	InvalidateLayer(ctx context.Context, layer string) error
	Close() error
}

// Key builds the cache key of a query against layer. Query values are
// encoded in sorted key order, so equal queries hash equally regardless of
// parameter order.
func Key(layer string, query url.Values) string {
	if layer == "" {
		layer = AllLayers
	}
	return fmt.Sprintf("%sq:%016x", layerPrefix(layer), xxhash.Sum64String(query.Encode()))
}

func layerPrefix(layer string) string {
	return keyPrefix + strings.ReplaceAll(layer, ":", "-") + ":"
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Noop) Set(context.Context, string, string, []byte) error { return nil }
func (Noop) InvalidateLayer(context.Context, string) error     { return nil }
func (Noop) Close() error                                      { return nil }
