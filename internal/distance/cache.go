package distance

import (
	"container/list"
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"fleetroute/internal/model"
)

// Source tags where a cached distance came from.
type Source string

const (
	SourceGreatCircle Source = "haversine"
	SourceRoad        Source = "road"
)

// Key identifies a directed coordinate pair rounded to 6 decimals.
type Key struct {
	Source                 Source
	ALat, ALng, BLat, BLng float64
}

func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }

// NewKey rounds both endpoints so near-identical inputs share an entry.
func NewKey(src Source, a, b model.Location) Key {
	return Key{Source: src, ALat: round6(a.Lat), ALng: round6(a.Lng), BLat: round6(b.Lat), BLng: round6(b.Lng)}
}

// String is the stable external form used by the Redis and SQL backends.
func (k Key) String() string {
	return fmt.Sprintf("%s:%.6f,%.6f,%.6f,%.6f", k.Source, k.ALat, k.ALng, k.BLat, k.BLng)
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	src, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, fmt.Errorf("parse key %q: missing source", s)
	}
	parts := strings.Split(rest, ",")
	if len(parts) != 4 {
		return Key{}, fmt.Errorf("parse key %q: want 4 coordinates", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return Key{}, fmt.Errorf("parse key %q: %w", s, err)
		}
		v[i] = f
	}
	return Key{Source: Source(src), ALat: v[0], ALng: v[1], BLat: v[2], BLng: v[3]}, nil
}

// Cache stores kilometer distances per Key. Implementations must be safe for
// concurrent use.
type Cache interface {
	GetMany(ctx context.Context, keys []Key) (map[Key]float64, error)
	PutMany(ctx context.Context, entries map[Key]float64) error
}

// DefaultCacheSize matches the production LRU bound.
const DefaultCacheSize = 2048

// MemoryCache is a bounded LRU guarded by a mutex.
type MemoryCache struct {
	mu    sync.Mutex
	size  int
	ll    *list.List
	items map[Key]*list.Element
}

type entry struct {
	key Key
	km  float64
}

func NewMemoryCache(size int) *MemoryCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &MemoryCache{size: size, ll: list.New(), items: make(map[Key]*list.Element, size)}
}

func (c *MemoryCache) GetMany(_ context.Context, keys []Key) (map[Key]float64, error) {
	out := make(map[Key]float64, len(keys))
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if el, ok := c.items[k]; ok {
			c.ll.MoveToFront(el)
			out[k] = el.Value.(*entry).km
		}
	}
	return out, nil
}

func (c *MemoryCache) PutMany(_ context.Context, entries map[Key]float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, km := range entries {
		if el, ok := c.items[k]; ok {
			el.Value.(*entry).km = km
			c.ll.MoveToFront(el)
			continue
		}
		c.items[k] = c.ll.PushFront(&entry{key: k, km: km})
		for c.ll.Len() > c.size {
			last := c.ll.Back()
			c.ll.Remove(last)
			delete(c.items, last.Value.(*entry).key)
		}
	}
	return nil
}

// Len reports the number of cached pairs.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Tiered reads through Front to Back and backfills Front on Back hits.
type Tiered struct {
	Front Cache
	Back  Cache
}

func (t Tiered) GetMany(ctx context.Context, keys []Key) (map[Key]float64, error) {
	out, err := t.Front.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}
	missing := make([]Key, 0, len(keys)-len(out))
	for _, k := range keys {
		if _, ok := out[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 || t.Back == nil {
		return out, nil
	}
	back, err := t.Back.GetMany(ctx, missing)
	if err != nil {
		// front hits are still valid
		return out, fmt.Errorf("tiered cache: back get: %w", err)
	}
	if len(back) > 0 {
		_ = t.Front.PutMany(ctx, back)
	}
	for k, v := range back {
		out[k] = v
	}
	return out, nil
}

func (t Tiered) PutMany(ctx context.Context, entries map[Key]float64) error {
	if err := t.Front.PutMany(ctx, entries); err != nil {
		return err
	}
	if t.Back == nil {
		return nil
	}
	if err := t.Back.PutMany(ctx, entries); err != nil {
		return fmt.Errorf("tiered cache: back put: %w", err)
	}
	return nil
}
