package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"fleetroute/internal/distance"
	"fleetroute/internal/model"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r := NewRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	t.Cleanup(func() { _ = r.Close() })
	return mr, r
}

func TestRedisCacheRoundTrip(t *testing.T) {
	mr, r := newMiniRedis(t)
	ctx := context.Background()

	k1 := distance.NewKey(distance.SourceGreatCircle, model.Location{Lat: 41, Lng: 29}, model.Location{Lat: 41.1, Lng: 29.1})
	k2 := distance.NewKey(distance.SourceRoad, model.Location{Lat: 41, Lng: 29}, model.Location{Lat: 41.1, Lng: 29.1})

	if err := r.PutMany(ctx, map[distance.Key]float64{k1: 13.37}); err != nil {
		t.Fatalf("PutMany: %v", err)
	}
	got, err := r.GetMany(ctx, []distance.Key{k1, k2})
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	if len(got) != 1 || got[k1] != 13.37 {
		t.Fatalf("unexpected cache content: %+v", got)
	}
	if ttl := mr.TTL("dist:" + k1.String()); ttl != time.Hour {
		t.Fatalf("ttl: got %v, want 1h", ttl)
	}
	if err := r.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestRedisCacheBehindBuilder(t *testing.T) {
	_, r := newMiniRedis(t)
	b := distance.NewBuilder(nil, distance.Tiered{Front: distance.NewMemoryCache(8), Back: r}, nil)
	pts := []model.Location{{Lat: 41, Lng: 29}, {Lat: 41.05, Lng: 29.02}, {Lat: 40.98, Lng: 28.9}}

	first, err := b.Build(context.Background(), pts, distance.Options{UseCache: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// a fresh process sees the shared pairs through Redis
	other := distance.NewBuilder(nil, distance.Tiered{Front: distance.NewMemoryCache(8), Back: r}, nil)
	second, err := other.Build(context.Background(), pts, distance.Options{UseCache: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := range first.Meters {
		for j := range first.Meters[i] {
			if first.Meters[i][j] != second.Meters[i][j] {
				t.Fatalf("cell %d,%d differs: %d vs %d", i, j, first.Meters[i][j], second.Meters[i][j])
			}
		}
	}
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	if _, err := NewRedis("not-a-url://", 0); err == nil {
		t.Fatalf("expected parse error")
	}
}
