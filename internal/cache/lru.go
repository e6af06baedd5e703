package cache

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRU is an in-process Cache bounded by entry count. A zero ttl keeps
// entries until they are evicted.
type LRU struct {
	c *expirable.LRU[string, []byte]
}

func NewLRU(size int, ttl time.Duration) *LRU {
	if size <= 0 {
		size = 256
	}
	return &LRU{c: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (l *LRU) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := l.c.Get(key)
	return v, ok, nil
}

// Set ignores layer: the layer is part of the key prefix.
func (l *LRU) Set(_ context.Context, _ string, key string, val []byte) error {
	l.c.Add(key, val)
	return nil
}

func (l *LRU) InvalidateLayer(_ context.Context, layer string) error {
	prefix := layerPrefix(layer)
	for _, k := range l.c.Keys() {
		if strings.HasPrefix(k, prefix) {
			l.c.Remove(k)
		}
	}
	return nil
}

func (l *LRU) Len() int { return l.c.Len() }

func (l *LRU) Close() error {
	l.c.Purge()
	return nil
}
