// Package store holds the shared distance-cache backends. Both satisfy
// distance.Cache so several service instances can reuse each other's pairs.
package store

import (
	"context"
	"errors"
	"os"
	"strings"

	"fleetroute/internal/distance"
)

var ErrNotConfigured = errors.New("store not configured")

// Backend is a distance cache that can be health-checked and closed.
type Backend interface {
	distance.Cache
	Ping(ctx context.Context) error
	Close() error
}

// FromEnv picks a shared backend: REDIS_URL first, then DATABASE_URL. It
// returns ErrNotConfigured when neither is set.
func FromEnv(ctx context.Context) (Backend, error) {
	if url := strings.TrimSpace(os.Getenv("REDIS_URL")); url != "" {
		r, err := NewRedis(url, 0)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		p, err := NewPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if os.Getenv("DB_MIGRATE") != "false" {
			if err := p.Migrate(ctx); err != nil {
				_ = p.Close()
				return nil, err
			}
		}
		return p, nil
	}
	return nil, ErrNotConfigured
}
