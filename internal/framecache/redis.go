package framecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores one JSON blob per record, a recency sorted set scored by
// a monotonic access sequence, and a stats hash. Writes from this process
// are serialized.
type RedisCache struct {
	redis  *redis.Client
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	prefix string

	mu sync.Mutex
}

func NewRedisCache(client *redis.Client, cfg Config, logger *slog.Logger, opts ...Option) (*RedisCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &RedisCache{
		redis:  client,
		cfg:    cfg,
		logger: activityLogger(logger, cfg, "redis"),
		now:    o.now,
		prefix: "framecache:" + cfg.CacheID + ":",
	}, nil
}

func (c *RedisCache) recordKey(digest string) string { return c.prefix + "rec:" + digest }
func (c *RedisCache) usageKey() string               { return c.prefix + "usage" }
func (c *RedisCache) seqKey() string                 { return c.prefix + "seq" }
func (c *RedisCache) statsKey() string               { return c.prefix + "stats" }

func accessErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCacheAccess, op, err)
}

func (c *RedisCache) load(ctx context.Context, digest string) (*Record, error) {
	data, err := c.redis.Get(ctx, c.recordKey(digest)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, accessErr("get", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, accessErr("decode", err)
	}
	return &rec, nil
}

func (c *RedisCache) store(ctx context.Context, pipe redis.Pipeliner, rec *Record, now time.Time) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return accessErr("encode", err)
	}
	var ttl time.Duration
	if rec.ExpiresAt != nil {
		ttl = rec.ExpiresAt.Sub(now)
		if ttl < time.Millisecond {
			ttl = time.Millisecond
		}
	}
	pipe.Set(ctx, c.recordKey(rec.Digest), data, ttl)
	return nil
}

func (c *RedisCache) nextSeq(ctx context.Context) (int64, error) {
	seq, err := c.redis.Incr(ctx, c.seqKey()).Result()
	if err != nil {
		return 0, accessErr("sequence", err)
	}
	return seq, nil
}

func (c *RedisCache) bump(ctx context.Context, field string, n int64) {
	if err := c.redis.HIncrBy(ctx, c.statsKey(), field, n).Err(); err != nil {
		c.logger.Warn("stats update failed", "field", field, "error", err)
	}
}

func (c *RedisCache) drop(ctx context.Context, digest string) (bool, error) {
	pipe := c.redis.TxPipeline()
	del := pipe.Del(ctx, c.recordKey(digest))
	pipe.ZRem(ctx, c.usageKey(), digest)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, accessErr("delete", err)
	}
	return del.Val() > 0, nil
}

func (c *RedisCache) Get(ctx context.Context, digest string) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.load(ctx, digest)
	if err != nil {
		return nil, err
	}
	now := c.now()
	if rec == nil || rec.expired(now) {
		if _, err := c.drop(ctx, digest); err != nil {
			return nil, err
		}
		if rec != nil {
			c.bump(ctx, "expirations", 1)
		}
		c.bump(ctx, "misses", 1)
		c.logActivity("miss", digest)
		return nil, nil
	}

	rec.AccessCount++
	rec.LastAccessedAt = now
	seq, err := c.nextSeq(ctx)
	if err != nil {
		return nil, err
	}
	pipe := c.redis.TxPipeline()
	if err := c.store(ctx, pipe, rec, now); err != nil {
		return nil, err
	}
	pipe.ZAdd(ctx, c.usageKey(), redis.Z{Score: float64(seq), Member: digest})
	pipe.HIncrBy(ctx, c.statsKey(), "hits", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, accessErr("touch", err)
	}
	c.logActivity("hit", digest)
	return rec, nil
}

func (c *RedisCache) Set(ctx context.Context, in *Record) error {
	if in == nil || in.Digest == "" {
		return fmt.Errorf("%w: record digest is required", ErrCacheAccess)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.load(ctx, in.Digest)
	if err != nil {
		return err
	}
	now := c.now()

	var rec *Record
	stat := "additions"
	if existing != nil && !existing.expired(now) {
		rec = merge(existing, in, now, c.cfg.TTL)
		stat = "updates"
	} else {
		if existing != nil {
			c.bump(ctx, "expirations", 1)
		}
		rec = fresh(in, now, c.cfg.TTL)
	}

	seq, err := c.nextSeq(ctx)
	if err != nil {
		return err
	}
	pipe := c.redis.TxPipeline()
	if err := c.store(ctx, pipe, rec, now); err != nil {
		return err
	}
	pipe.ZAdd(ctx, c.usageKey(), redis.Z{Score: float64(seq), Member: in.Digest})
	pipe.HIncrBy(ctx, c.statsKey(), stat, 1)
	size := pipe.ZCard(ctx, c.usageKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return accessErr("set", err)
	}
	c.logActivity(stat, in.Digest)

	if c.cfg.MaxSizeItems > 0 && size.Val() > int64(c.cfg.MaxSizeItems) {
		victims, err := c.redis.ZRange(ctx, c.usageKey(), 0, size.Val()-int64(c.cfg.MaxSizeItems)-1).Result()
		if err != nil {
			return accessErr("evict", err)
		}
		for _, v := range victims {
			dropped, err := c.drop(ctx, v)
			if err != nil {
				return err
			}
			if !dropped {
				// the record key already expired in Redis
				c.bump(ctx, "expirations", 1)
				continue
			}
			c.bump(ctx, "evictions", 1)
			c.logActivity("evict", v)
		}
	}
	return nil
}

func (c *RedisCache) Has(ctx context.Context, digest string) (bool, error) {
	rec, err := c.load(ctx, digest)
	if err != nil {
		return false, err
	}
	return rec != nil && !rec.expired(c.now()), nil
}

func (c *RedisCache) Delete(ctx context.Context, digest string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ok, err := c.drop(ctx, digest)
	if err == nil && ok {
		c.logActivity("delete", digest)
	}
	return ok, err
}

func (c *RedisCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var cursor uint64
	for {
		keys, next, err := c.redis.Scan(ctx, cursor, c.prefix+"rec:*", 100).Result()
		if err != nil {
			return accessErr("scan", err)
		}
		if len(keys) > 0 {
			if err := c.redis.Del(ctx, keys...).Err(); err != nil {
				return accessErr("clear", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if err := c.redis.Del(ctx, c.usageKey()).Err(); err != nil {
		return accessErr("clear", err)
	}
	return nil
}

// Prune drops usage entries whose record expired, either by Redis key expiry
// or by ExpiresAt.
func (c *RedisCache) Prune(ctx context.Context) (PruneResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	digests, err := c.redis.ZRange(ctx, c.usageKey(), 0, -1).Result()
	if err != nil {
		return PruneResult{}, accessErr("prune", err)
	}

	now := c.now()
	var removed int
	for _, d := range digests {
		rec, err := c.load(ctx, d)
		if err != nil {
			return PruneResult{EntriesRemoved: removed}, err
		}
		if rec != nil && !rec.expired(now) {
			continue
		}
		if _, err := c.drop(ctx, d); err != nil {
			return PruneResult{EntriesRemoved: removed}, err
		}
		removed++
	}

	pipe := c.redis.TxPipeline()
	pipe.HIncrBy(ctx, c.statsKey(), "expirations", int64(removed))
	pipe.HSet(ctx, c.statsKey(), "last_pruned_at", now.UnixMilli())
	if _, err := pipe.Exec(ctx); err != nil {
		return PruneResult{EntriesRemoved: removed}, accessErr("prune", err)
	}
	if removed > 0 {
		c.logger.Debug("pruned expired frames", "removed", removed)
	}
	return PruneResult{EntriesRemoved: removed}, nil
}

func (c *RedisCache) Stats(ctx context.Context) (Stats, error) {
	pipe := c.redis.Pipeline()
	fields := pipe.HGetAll(ctx, c.statsKey())
	size := pipe.ZCard(ctx, c.usageKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, accessErr("stats", err)
	}

	data := fields.Val()
	parse := func(k string) int64 {
		v, _ := strconv.ParseInt(data[k], 10, 64)
		return v
	}
	s := Stats{
		Hits:        parse("hits"),
		Misses:      parse("misses"),
		Additions:   parse("additions"),
		Updates:     parse("updates"),
		Evictions:   parse("evictions"),
		Expirations: parse("expirations"),
		CurrentSize: int(size.Val()),
		MaxSize:     c.cfg.MaxSizeItems,
	}
	if ms := parse("last_pruned_at"); ms > 0 {
		t := time.UnixMilli(ms)
		s.LastPrunedAt = &t
	}
	return s, nil
}

func (c *RedisCache) logActivity(op, digest string) {
	if c.cfg.LogActivity {
		c.logger.Debug("cache "+op, "digest", digest)
	}
}
