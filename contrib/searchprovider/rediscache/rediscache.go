// Package rediscache decorates a search provider with a Redis result cache so
// repeated queries within a window skip the backend entirely. Cache failures
// fall through to the wrapped provider, never to the caller.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sweetpotato0/deepresearch/pkg/logging"
	"github.com/sweetpotato0/deepresearch/search"
)

// Config holds cache configuration
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// Provider wraps another search provider with a Redis cache.
type Provider struct {
	inner  search.Provider
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// New wraps inner with a Redis-backed cache.
func New(inner search.Provider, config *Config) *Provider {
	if config == nil {
		config = &Config{Addr: "localhost:6379"}
	}
	prefix := config.Prefix
	if prefix == "" {
		prefix = "deepresearch:search:"
	}
	ttl := config.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Provider{
		inner: inner,
		client: redis.NewClient(&redis.Options{
			Addr:     config.Addr,
			Password: config.Password,
			DB:       config.DB,
		}),
		prefix: prefix,
		ttl:    ttl,
		logger: logging.WithComponent("search_cache"),
	}
}

func (p *Provider) Name() string { return p.inner.Name() }

// Search implements search.Provider.
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]search.RawResult, error) {
	key := fmt.Sprintf("%s%s:%s:%d", p.prefix, p.inner.Name(), search.NormalizeQuery(query), limit)

	if data, err := p.client.Get(ctx, key).Bytes(); err == nil {
		var cached []search.RawResult
		if err := json.Unmarshal(data, &cached); err == nil {
			p.logger.Debug("cache hit", "provider", p.inner.Name(), "query", query)
			return cached, nil
		}
		// Corrupt entry; drop it and refetch.
		p.client.Del(ctx, key)
	} else if err != redis.Nil && ctx.Err() == nil {
		p.logger.Warn("cache read failed, querying backend", "error", err)
	}

	results, err := p.inner.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(results); err == nil {
		if err := p.client.Set(ctx, key, data, p.ttl).Err(); err != nil && ctx.Err() == nil {
			p.logger.Warn("cache write failed", "error", err)
		}
	}
	return results, nil
}

// Close releases the Redis connection.
func (p *Provider) Close() error {
	return p.client.Close()
}
