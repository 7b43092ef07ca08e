package attestation

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/wormhole-demo/bridge-relay/internal/transfer"
)

// DefaultCacheSize is the number of signed attestations kept in memory.
const DefaultCacheSize = 1024

// CachingFetcher serves previously found attestations from memory. A signed
// VAA never changes once published, so entries are never invalidated; only
// Found outcomes are stored.
type CachingFetcher struct {
	next   Fetcher
	cache  *lru.Cache
	logger *zap.Logger
}

func NewCachingFetcher(logger *zap.Logger, next Fetcher, size int) (*CachingFetcher, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create attestation cache: %w", err)
	}
	return &CachingFetcher{
		next:   next,
		cache:  cache,
		logger: logger.With(zap.String("component", "CachingFetcher")),
	}, nil
}

func (c *CachingFetcher) Fetch(ctx context.Context, key transfer.AttestationKey) (Outcome, error) {
	if v, ok := c.cache.Get(key); ok {
		c.logger.Debug("Attestation served from cache", zap.Stringer("key", key))
		return Outcome{Status: Found, Attestation: v.(transfer.SignedAttestation)}, nil
	}

	out, err := c.next.Fetch(ctx, key)
	if err == nil && out.Status == Found {
		c.cache.Add(key, out.Attestation)
	}
	return out, err
}

// Len returns the number of cached attestations.
func (c *CachingFetcher) Len() int {
	return c.cache.Len()
}
