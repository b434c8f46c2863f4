package repository

import (
	"context"
	"errors"
	"fmt"

	domrepo "OBFlow/internal/domain/repository"
	pkgcache "OBFlow/pkg/cache"
)

const snapshotTTL = 0 // snapshots never expire; restarts may be arbitrarily late

// RedisStateStore persists lane snapshots as JSON under one key per symbol.
type RedisStateStore struct {
	cache *pkgcache.RedisCache
}

func NewRedisStateStore(cache *pkgcache.RedisCache) *RedisStateStore {
	return &RedisStateStore{cache: cache}
}

var _ domrepo.StateStore = (*RedisStateStore)(nil)

func snapshotKey(symbol string) string {
	return "snapshot:" + symbol
}

func (s *RedisStateStore) SaveSnapshot(ctx context.Context, symbol string, snap *domrepo.LaneSnapshot) error {
	if err := s.cache.Set(ctx, snapshotKey(symbol), snap, snapshotTTL); err != nil {
		return fmt.Errorf("save snapshot %s: %w", symbol, err)
	}
	return nil
}

// LoadSnapshot returns (nil, nil) when no snapshot exists for the symbol.
func (s *RedisStateStore) LoadSnapshot(ctx context.Context, symbol string) (*domrepo.LaneSnapshot, error) {
	var snap domrepo.LaneSnapshot
	if err := s.cache.Get(ctx, snapshotKey(symbol), &snap); err != nil {
		if errors.Is(err, pkgcache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot %s: %w", symbol, err)
	}
	return &snap, nil
}

func (s *RedisStateStore) Close() error {
	return s.cache.Close()
}

// NopStateStore keeps no state. Used when Redis is disabled; every start
// is a cold start.
type NopStateStore struct{}

func (NopStateStore) SaveSnapshot(context.Context, string, *domrepo.LaneSnapshot) error { return nil }
func (NopStateStore) LoadSnapshot(context.Context, string) (*domrepo.LaneSnapshot, error) {
	return nil, nil
}
func (NopStateStore) Close() error { return nil }
