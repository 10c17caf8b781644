package framecache

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type memoryEntry struct {
	rec  *Record
	elem *list.Element
}

// MemoryCache is an in-process LRU. The front of the usage list is the most
// recently accessed digest.
type MemoryCache struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*memoryEntry
	usage   *list.List
	stats   Stats
}

func NewMemoryCache(cfg Config, logger *slog.Logger, opts ...Option) (*MemoryCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &MemoryCache{
		cfg:     cfg,
		logger:  activityLogger(logger, cfg, "memory"),
		now:     o.now,
		entries: make(map[string]*memoryEntry),
		usage:   list.New(),
		stats:   Stats{MaxSize: cfg.MaxSizeItems},
	}, nil
}

func (c *MemoryCache) Get(_ context.Context, digest string) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[digest]
	now := c.now()
	if ok && e.rec.expired(now) {
		c.removeLocked(e)
		c.stats.Expirations++
		ok = false
	}
	if !ok {
		c.stats.Misses++
		c.logActivity("miss", digest)
		return nil, nil
	}

	e.rec.AccessCount++
	e.rec.LastAccessedAt = now
	c.usage.MoveToFront(e.elem)
	c.stats.Hits++
	c.logActivity("hit", digest)
	return e.rec.Clone(), nil
}

func (c *MemoryCache) Set(_ context.Context, rec *Record) error {
	if rec == nil || rec.Digest == "" {
		return fmt.Errorf("%w: record digest is required", ErrCacheAccess)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[rec.Digest]; ok && !e.rec.expired(now) {
		e.rec = merge(e.rec, rec, now, c.cfg.TTL)
		c.usage.MoveToFront(e.elem)
		c.stats.Updates++
		c.logActivity("update", rec.Digest)
		return nil
	} else if ok {
		c.removeLocked(e)
		c.stats.Expirations++
	}

	e := &memoryEntry{rec: fresh(rec, now, c.cfg.TTL)}
	e.elem = c.usage.PushFront(rec.Digest)
	c.entries[rec.Digest] = e
	c.stats.Additions++
	c.logActivity("add", rec.Digest)

	if c.cfg.MaxSizeItems > 0 && len(c.entries) > c.cfg.MaxSizeItems {
		oldest := c.usage.Back()
		victim := c.entries[oldest.Value.(string)]
		c.removeLocked(victim)
		c.stats.Evictions++
		c.logActivity("evict", victim.rec.Digest)
	}
	return nil
}

func (c *MemoryCache) Has(_ context.Context, digest string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[digest]
	return ok && !e.rec.expired(c.now()), nil
}

func (c *MemoryCache) Delete(_ context.Context, digest string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[digest]
	if !ok {
		return false, nil
	}
	c.removeLocked(e)
	c.logActivity("delete", digest)
	return true, nil
}

func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*memoryEntry)
	c.usage.Init()
	return nil
}

// Prune removes every expired entry.
func (c *MemoryCache) Prune(_ context.Context) (PruneResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var removed int
	for el := c.usage.Back(); el != nil; {
		prev := el.Prev()
		e := c.entries[el.Value.(string)]
		if e.rec.expired(now) {
			c.removeLocked(e)
			removed++
		}
		el = prev
	}
	c.stats.Expirations += int64(removed)
	c.stats.LastPrunedAt = &now
	if removed > 0 {
		c.logger.Debug("pruned expired frames", "removed", removed)
	}
	return PruneResult{EntriesRemoved: removed}, nil
}

func (c *MemoryCache) Stats(_ context.Context) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.CurrentSize = len(c.entries)
	if s.LastPrunedAt != nil {
		t := *s.LastPrunedAt
		s.LastPrunedAt = &t
	}
	return s, nil
}

func (c *MemoryCache) removeLocked(e *memoryEntry) {
	c.usage.Remove(e.elem)
	delete(c.entries, e.rec.Digest)
}

func (c *MemoryCache) logActivity(op, digest string) {
	if c.cfg.LogActivity {
		c.logger.Debug("cache "+op, "digest", digest)
	}
}
