package llm

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"annotator/internal/adapter/metrics"
	"annotator/internal/port"
)

// DefaultCacheTTL is used when no TTL is configured.
const DefaultCacheTTL = 30 * time.Minute

// SharedCallTimeout bounds an upstream call once it no longer follows the
// context of the caller that started it.
const SharedCallTimeout = 2 * time.Minute

// CachedClient memoizes completions by model and prompt. Identical prompts in
// flight at the same time share one upstream call. Hits report zero tokens.
type CachedClient struct {
	next    port.LLM
	cache   *ttlcache.Cache[string, port.Completion]
	sfGroup singleflight.Group
	logger  *zap.Logger

	callTimeout time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64
}

func NewCachedClient(next port.LLM, ttl time.Duration, capacity uint64, logger *zap.Logger) *CachedClient {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []ttlcache.Option[string, port.Completion]{
		ttlcache.WithTTL[string, port.Completion](ttl),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, port.Completion](capacity))
	}
	cache := ttlcache.New(opts...)
	go cache.Start()

	return &CachedClient{
		next:        next,
		cache:       cache,
		logger:      logger,
		callTimeout: SharedCallTimeout,
	}
}

func (c *CachedClient) Complete(ctx context.Context, prompt string) (port.Completion, error) {
	key := c.cacheKey(prompt)

	if item := c.cache.Get(key); item != nil {
		c.hits.Add(1)
		metrics.RecordCacheHit("completion")
		c.logger.Debug("completion cache hit", zap.String("model", c.next.ModelName()))
		return cachedCopy(item.Value()), nil
	}

	// The upstream call is detached from the caller that starts it, so one
	// caller giving up does not fail the others sharing the flight. Each
	// caller still stops waiting when its own context ends.
	ch := c.sfGroup.DoChan(key, func() (any, error) {
		c.misses.Add(1)
		metrics.RecordCacheMiss("completion")

		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.callTimeout)
		defer cancel()

		completion, err := c.next.Complete(callCtx, prompt)
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, completion, ttlcache.DefaultTTL)
		return completion, nil
	})

	select {
	case <-ctx.Done():
		return port.Completion{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return port.Completion{}, res.Err
		}
		completion := res.Val.(port.Completion)
		if res.Shared {
			return cachedCopy(completion), nil
		}
		return completion, nil
	}
}

func (c *CachedClient) ModelName() string {
	return c.next.ModelName()
}

// Stats returns hit and miss counts.
func (c *CachedClient) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Close stops the expiry loop.
func (c *CachedClient) Close() {
	c.cache.Stop()
}

func (c *CachedClient) cacheKey(prompt string) string {
	h := xxhash.New()
	_, _ = h.WriteString(c.next.ModelName())
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(prompt)

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return string(buf[:])
}

func cachedCopy(c port.Completion) port.Completion {
	c.Cached = true
	c.InputTokens = 0
	c.OutputTokens = 0
	return c
}
