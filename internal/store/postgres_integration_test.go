//go:build postgres_integration

package store

import (
	"context"
	"os"
	"testing"

	"fleetroute/internal/distance"
	"fleetroute/internal/model"
)

func TestPostgresCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer func() { _ = p.Close() }()
	if err := p.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	k := distance.NewKey(distance.SourceGreatCircle, model.Location{Lat: 1, Lng: 2}, model.Location{Lat: 3, Lng: 4})
	if err := p.PutMany(ctx, map[distance.Key]float64{k: 42.5}); err != nil {
		t.Fatalf("PutMany: %v", err)
	}
	got, err := p.GetMany(ctx, []distance.Key{k})
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	if got[k] != 42.5 {
		t.Fatalf("want 42.5, got %v", got[k])
	}
}
