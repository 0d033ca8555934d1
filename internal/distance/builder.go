// Package distance builds the integer distance and travel-time matrices the
// routing engine consumes.
package distance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"fleetroute/internal/events"
	"fleetroute/internal/geo"
	"fleetroute/internal/model"
)

var ErrInvalidLocation = errors.New("location out of range")

type Options struct {
	UseCache         bool
	UseRoadDistances bool
}

// Matrix holds solver distances in meters. Meters[i][i] is always 0.
type Matrix struct {
	Meters   [][]int
	Source   Source
	FellBack bool
}

// Size is the number of locations.
func (m *Matrix) Size() int { return len(m.Meters) }

// Builder assembles matrices. Provider and Cache are optional.
type Builder struct {
	Provider        Provider
	Cache           Cache
	Observer        events.Observer
	ProviderTimeout time.Duration
}

func NewBuilder(p Provider, c Cache, obs events.Observer) *Builder {
	if obs == nil {
		obs = events.Nop()
	}
	return &Builder{Provider: p, Cache: c, Observer: obs, ProviderTimeout: 10 * time.Second}
}

// Build returns the distance matrix for points. A failing road provider never
// fails the build: the whole matrix is recomputed from great-circle distance.
func (b *Builder) Build(ctx context.Context, points []model.Location, opts Options) (*Matrix, error) {
	ctx, span := otel.Tracer("fleetroute/distance").Start(ctx, "build_matrix")
	defer span.End()
	span.SetAttributes(attribute.Int("points", len(points)), attribute.Bool("road", opts.UseRoadDistances))

	for i, p := range points {
		if !geo.ValidLocation(p) {
			return nil, fmt.Errorf("build matrix: point %d (%v,%v): %w", i, p.Lat, p.Lng, ErrInvalidLocation)
		}
	}
	obs := b.Observer
	if obs == nil {
		obs = events.Nop()
	}

	if opts.UseRoadDistances && b.Provider != nil {
		m, err := b.road(ctx, points, opts)
		if err == nil {
			return m, nil
		}
		obs.Emit(ctx, events.New(events.FallbackTriggered, map[string]any{
			"points": len(points),
			"reason": err.Error(),
		}))
		m = b.greatCircle(ctx, points, opts)
		m.FellBack = true
		return m, nil
	}
	return b.greatCircle(ctx, points, opts), nil
}

func (b *Builder) greatCircle(ctx context.Context, points []model.Location, opts Options) *Matrix {
	n := len(points)
	km := make(map[Key]float64, n*n/2)
	keys := make([]Key, 0, n*n/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			keys = append(keys, NewKey(SourceGreatCircle, points[i], points[j]))
		}
	}

	if opts.UseCache && b.Cache != nil {
		hits, err := b.Cache.GetMany(ctx, keys)
		if err != nil {
			b.emitCacheError(ctx, err)
		}
		for k, v := range hits {
			km[k] = v
		}
	}
	fresh := map[Key]float64{}
	for _, k := range keys {
		if _, ok := km[k]; ok {
			continue
		}
		d := geo.Haversine(k.ALat, k.ALng, k.BLat, k.BLng)
		km[k] = d
		fresh[k] = d
	}
	if opts.UseCache && b.Cache != nil {
		b.emitLookup(ctx, len(keys)-len(fresh), len(fresh))
		if len(fresh) > 0 {
			if err := b.Cache.PutMany(ctx, fresh); err != nil {
				b.emitCacheError(ctx, err)
			}
		}
	}

	meters := square(n)
	k := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			m := geo.ToMeters(km[keys[k]])
			meters[i][j], meters[j][i] = m, m
			k++
		}
	}
	return &Matrix{Meters: meters, Source: SourceGreatCircle}
}

func (b *Builder) road(ctx context.Context, points []model.Location, opts Options) (*Matrix, error) {
	n := len(points)
	keys := make([]Key, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				keys = append(keys, NewKey(SourceRoad, points[i], points[j]))
			}
		}
	}

	var cached map[Key]float64
	if opts.UseCache && b.Cache != nil {
		hits, err := b.Cache.GetMany(ctx, keys)
		if err != nil {
			b.emitCacheError(ctx, err)
		}
		cached = hits
	}
	if len(keys) > 0 && len(cached) == len(keys) {
		b.emitLookup(ctx, len(keys), 0)
		return fromKm(points, cached), nil
	}

	pctx := ctx
	if b.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, b.ProviderTimeout)
		defer cancel()
	}
	raw, err := b.Provider.Matrix(pctx, points)
	if err != nil {
		return nil, err
	}
	if len(raw) != n {
		return nil, fmt.Errorf("road matrix: got %d rows, want %d", len(raw), n)
	}
	fresh := make(map[Key]float64, len(keys))
	for i := range raw {
		if len(raw[i]) != n {
			return nil, fmt.Errorf("road matrix: row %d has %d cells, want %d", i, len(raw[i]), n)
		}
		for j, v := range raw[i] {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				return nil, fmt.Errorf("road matrix: bad cell %d->%d: %v", i, j, v)
			}
			if i != j {
				fresh[NewKey(SourceRoad, points[i], points[j])] = v / 1000
			}
		}
	}
	if opts.UseCache && b.Cache != nil {
		b.emitLookup(ctx, len(cached), len(keys)-len(cached))
		if err := b.Cache.PutMany(ctx, fresh); err != nil {
			b.emitCacheError(ctx, err)
		}
	}
	return fromKm(points, fresh), nil
}

func fromKm(points []model.Location, km map[Key]float64) *Matrix {
	n := len(points)
	meters := square(n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				meters[i][j] = geo.ToMeters(km[NewKey(SourceRoad, points[i], points[j])])
			}
		}
	}
	return &Matrix{Meters: meters, Source: SourceRoad}
}

func (b *Builder) emitLookup(ctx context.Context, hits, misses int) {
	if b.Observer == nil {
		return
	}
	b.Observer.Emit(ctx, events.New(events.CacheLookup, map[string]any{"hits": hits, "misses": misses}))
}

func (b *Builder) emitCacheError(ctx context.Context, err error) {
	if b.Observer == nil {
		return
	}
	b.Observer.Emit(ctx, events.New(events.CacheLookup, map[string]any{"error": err.Error()}))
}

func square(n int) [][]int {
	out := make([][]int, n)
	for i := range out {
		out[i] = make([]int, n)
	}
	return out
}

// TimeMinutes derives travel minutes from a meter matrix at speedKmh,
// rounding down. Service time is not included.
func TimeMinutes(meters [][]int, speedKmh float64) [][]int {
	out := square(len(meters))
	for i := range meters {
		for j, m := range meters[i] {
			if i != j {
				out[i][j] = geo.TravelMinutes(float64(m)/1000, speedKmh)
			}
		}
	}
	return out
}
