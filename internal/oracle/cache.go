package oracle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// QuoteStore holds the latest quote per feed. Put keeps whichever quote is
// newer, so late or replayed updates never move a feed backwards.
type QuoteStore interface {
	Get(ctx context.Context, feedID string) (PriceQuote, error)
	Put(ctx context.Context, q PriceQuote) error
}

// MemoryCache is an in-process QuoteStore.
type MemoryCache struct {
	mu     sync.RWMutex
	quotes map[string]PriceQuote
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{quotes: make(map[string]PriceQuote)}
}

func (m *MemoryCache) Get(_ context.Context, feedID string) (PriceQuote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotes[NormalizeFeedID(feedID)]
	if !ok {
		return PriceQuote{}, fmt.Errorf("%w: %s", ErrNoQuote, feedID)
	}
	return q, nil
}

func (m *MemoryCache) Put(_ context.Context, q PriceQuote) error {
	id := NormalizeFeedID(q.FeedID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.quotes[id]; ok && !q.ObservedAt.After(cur.ObservedAt) {
		return nil
	}
	q.FeedID = id
	m.quotes[id] = q
	return nil
}

// putIfNewer writes the quote hash only when the stored observed_at is
// older than the incoming one.
var putIfNewer = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "observed_at_us")
if cur and tonumber(cur) >= tonumber(ARGV[4]) then
  return 0
end
redis.call("HSET", KEYS[1], "price", ARGV[1], "expo", ARGV[2], "conf", ARGV[3], "observed_at_us", ARGV[4], "sequence", ARGV[5])
if tonumber(ARGV[6]) > 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[6])
end
return 1
`)

// RedisCache shares quotes between instances through Redis hashes keyed
// "<prefix>:quote:<feed>".
type RedisCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(rdb *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "stable"
	}
	return &RedisCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *RedisCache) key(feedID string) string {
	return r.prefix + ":quote:" + NormalizeFeedID(feedID)
}

func (r *RedisCache) Put(ctx context.Context, q PriceQuote) error {
	err := putIfNewer.Run(ctx, r.rdb, []string{r.key(q.FeedID)},
		q.Mantissa,
		q.Exponent,
		q.Confidence,
		q.ObservedAt.UnixMicro(),
		q.Sequence,
		r.ttl.Milliseconds(),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis put quote: %w", err)
	}
	return nil
}

func (r *RedisCache) Get(ctx context.Context, feedID string) (PriceQuote, error) {
	fields, err := r.rdb.HGetAll(ctx, r.key(feedID)).Result()
	if err != nil {
		return PriceQuote{}, fmt.Errorf("redis get quote: %w", err)
	}
	if len(fields) == 0 {
		return PriceQuote{}, fmt.Errorf("%w: %s", ErrNoQuote, feedID)
	}

	mantissa, err := strconv.ParseInt(fields["price"], 10, 64)
	if err != nil {
		return PriceQuote{}, fmt.Errorf("redis quote price: %w", err)
	}
	expo, err := strconv.ParseInt(fields["expo"], 10, 32)
	if err != nil {
		return PriceQuote{}, fmt.Errorf("redis quote expo: %w", err)
	}
	conf, _ := strconv.ParseUint(fields["conf"], 10, 64)
	observed, err := strconv.ParseInt(fields["observed_at_us"], 10, 64)
	if err != nil {
		return PriceQuote{}, fmt.Errorf("redis quote observed_at: %w", err)
	}
	seq, _ := strconv.ParseInt(fields["sequence"], 10, 64)

	return PriceQuote{
		FeedID:     NormalizeFeedID(feedID),
		Mantissa:   mantissa,
		Exponent:   int32(expo),
		Confidence: conf,
		ObservedAt: time.UnixMicro(observed).UTC(),
		Sequence:   seq,
	}, nil
}

// CachedOracle serves quotes from a QuoteStore and falls back to an
// upstream oracle when the cached quote is missing or older than
// refreshAfter. The fallback result is written back to the store.
type CachedOracle struct {
	store        QuoteStore
	upstream     PriceOracle
	refreshAfter time.Duration
	now          func() time.Time
}

func NewCachedOracle(store QuoteStore, upstream PriceOracle, refreshAfter time.Duration) *CachedOracle {
	return &CachedOracle{
		store:        store,
		upstream:     upstream,
		refreshAfter: refreshAfter,
		now:          time.Now,
	}
}

func (c *CachedOracle) Fetch(ctx context.Context, feedID string) (PriceQuote, error) {
	q, err := c.store.Get(ctx, feedID)
	if err == nil && (c.refreshAfter <= 0 || c.now().Sub(q.ObservedAt) <= c.refreshAfter) {
		return q, nil
	}
	if c.upstream == nil {
		if err != nil {
			return PriceQuote{}, err
		}
		return q, nil
	}

	fresh, upErr := c.upstream.Fetch(ctx, feedID)
	if upErr != nil {
		if err == nil {
			// Serve the older quote; the engine's freshness check decides.
			return q, nil
		}
		return PriceQuote{}, upErr
	}
	// A failed write only costs another upstream fetch next time.
	_ = c.store.Put(ctx, fresh)
	return fresh, nil
}
