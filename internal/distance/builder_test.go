package distance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetroute/internal/events"
	"fleetroute/internal/geo"
	"fleetroute/internal/model"
)

var istanbul = []model.Location{
	{Lat: 41.0082, Lng: 28.9784},
	{Lat: 41.0422, Lng: 29.0083},
	{Lat: 40.9923, Lng: 29.0244},
	{Lat: 41.0082, Lng: 28.9784}, // duplicate of depot
}

type failingProvider struct{ calls int }

func (f *failingProvider) Matrix(context.Context, []model.Location) ([][]float64, error) {
	f.calls++
	return nil, errors.New("upstream unavailable")
}

type fixedProvider struct {
	meters float64
	calls  int
}

func (f *fixedProvider) Matrix(_ context.Context, pts []model.Location) ([][]float64, error) {
	f.calls++
	out := make([][]float64, len(pts))
	for i := range out {
		out[i] = make([]float64, len(pts))
		for j := range out[i] {
			if i != j {
				out[i][j] = f.meters
			}
		}
	}
	return out, nil
}

func TestBuildGreatCircle(t *testing.T) {
	b := NewBuilder(nil, nil, nil)
	m, err := b.Build(context.Background(), istanbul, Options{})
	require.NoError(t, err)
	require.Equal(t, len(istanbul), m.Size())
	assert.Equal(t, SourceGreatCircle, m.Source)
	for i := range m.Meters {
		assert.Equal(t, 0, m.Meters[i][i])
		for j := range m.Meters {
			assert.Equal(t, m.Meters[i][j], m.Meters[j][i])
			if i != j {
				assert.GreaterOrEqual(t, m.Meters[i][j], 100, "off-diagonal cells are clamped")
			}
		}
	}
	want := geo.ToMeters(geo.DistanceKm(istanbul[0], istanbul[1]))
	assert.Equal(t, want, m.Meters[0][1])
	assert.Equal(t, 100, m.Meters[0][3])
}

func TestBuildRejectsInvalidLocation(t *testing.T) {
	b := NewBuilder(nil, nil, nil)
	_, err := b.Build(context.Background(), []model.Location{{Lat: 0, Lng: 0}, {Lat: 95, Lng: 0}}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidLocation)
}

func TestBuildFallsBackWhenProviderFails(t *testing.T) {
	rec := &events.Recorder{}
	p := &failingProvider{}
	b := NewBuilder(p, nil, rec)

	m, err := b.Build(context.Background(), istanbul, Options{UseRoadDistances: true})
	require.NoError(t, err)
	assert.True(t, m.FellBack)
	assert.Equal(t, SourceGreatCircle, m.Source)
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, 1, rec.Count(events.FallbackTriggered))

	plain, err := NewBuilder(nil, nil, nil).Build(context.Background(), istanbul, Options{})
	require.NoError(t, err)
	assert.Equal(t, plain.Meters, m.Meters)
}

func TestBuildRoadUsesProviderAndCache(t *testing.T) {
	p := &fixedProvider{meters: 2500}
	cache := NewMemoryCache(0)
	b := NewBuilder(p, cache, nil)
	pts := istanbul[:3]

	m, err := b.Build(context.Background(), pts, Options{UseRoadDistances: true, UseCache: true})
	require.NoError(t, err)
	assert.Equal(t, SourceRoad, m.Source)
	assert.False(t, m.FellBack)
	assert.Equal(t, 2500, m.Meters[0][2])

	_, err = b.Build(context.Background(), pts, Options{UseRoadDistances: true, UseCache: true})
	require.NoError(t, err)
	assert.Equal(t, 1, p.calls, "second build is served from cache")
}

func TestBuildGreatCircleCache(t *testing.T) {
	rec := &events.Recorder{}
	cache := NewMemoryCache(16)
	b := NewBuilder(nil, cache, rec)

	_, err := b.Build(context.Background(), istanbul, Options{UseCache: true})
	require.NoError(t, err)
	assert.Greater(t, cache.Len(), 0)

	_, err = b.Build(context.Background(), istanbul, Options{UseCache: true})
	require.NoError(t, err)
	evs := rec.Events()
	last := evs[len(evs)-1]
	assert.Equal(t, events.CacheLookup, last.Kind)
	assert.Equal(t, 0, last.Fields["misses"])
}

func TestTimeMinutes(t *testing.T) {
	tm := TimeMinutes([][]int{{0, 60000}, {30000, 0}}, 60)
	assert.Equal(t, [][]int{{0, 60}, {30, 0}}, tm)
}
