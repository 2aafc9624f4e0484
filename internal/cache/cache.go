// Package cache keeps recently fetched report lists in redis so that
// repeated dashboard loads do not hit the analysis engine.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/helix-research/dossier/internal/upstream"
)

// ErrMiss is returned when no cached entry exists for a company.
var ErrMiss = errors.New("cache miss")

type ReportCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *log.Logger
}

func Conn(ctx context.Context, addr, pass string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed (%s): %w", addr, err)
	}
	return client, nil
}

func New(rdb *redis.Client, ttl time.Duration) *ReportCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ReportCache{
		rdb: rdb,
		ttl: ttl,
		log: log.New(log.Writer(), "[CACHE] ", log.LstdFlags),
	}
}

func key(companyID string) string { return "dossier:reports:" + companyID }

// Get returns the cached report list for a company, or ErrMiss.
func (c *ReportCache) Get(ctx context.Context, companyID string) ([]upstream.Report, error) {
	raw, err := c.rdb.Get(ctx, key(companyID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	var reports []upstream.Report
	if err := json.Unmarshal(raw, &reports); err != nil {
		// stale or corrupt payload, drop it
		c.log.Printf("dropping unreadable cache entry for %s: %v", companyID, err)
		_ = c.rdb.Del(ctx, key(companyID)).Err()
		return nil, ErrMiss
	}
	return reports, nil
}

func (c *ReportCache) Put(ctx context.Context, companyID string, reports []upstream.Report) error {
	raw, err := json.Marshal(reports)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return c.rdb.Set(ctx, key(companyID), raw, c.ttl).Err()
}

// Invalidate drops the cached list, used after a job completes or a
// report is deleted.
func (c *ReportCache) Invalidate(ctx context.Context, companyID string) error {
	return c.rdb.Del(ctx, key(companyID)).Err()
}

// Lock takes a short-lived distributed lock. It returns false when
// another instance already holds the key.
func (c *ReportCache) Lock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, "dossier:lock:"+name, "1", ttl).Result()
}

func (c *ReportCache) Unlock(ctx context.Context, name string) {
	_ = c.rdb.Del(ctx, "dossier:lock:"+name).Err()
}
