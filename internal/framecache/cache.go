package framecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eleven-am/perception-backend/internal/vision"
)

var (
	// ErrCacheAccess wraps storage connectivity and serialization failures.
	// A miss is never an error.
	ErrCacheAccess   = errors.New("frame cache access failed")
	ErrInvalidConfig = errors.New("invalid frame cache config")
)

// Record is one cache entry keyed by frame digest.
type Record struct {
	Digest            string                 `json:"digest"`
	OriginalTimestamp int64                  `json:"original_timestamp"`
	Resolution        vision.Resolution      `json:"resolution"`
	SourceStreamID    string                 `json:"source_stream_id,omitempty"`
	Features          *vision.Features       `json:"features,omitempty"`
	Result            *vision.AnalysisResult `json:"result,omitempty"`
	AccessCount       int64                  `json:"access_count"`
	AddedAt           time.Time              `json:"added_at"`
	LastAccessedAt    time.Time              `json:"last_accessed_at"`
	ExpiresAt         *time.Time             `json:"expires_at,omitempty"`

	// Replace makes Set overwrite an existing entry instead of merging into
	// it. AddedAt is only reset on replacement.
	Replace bool `json:"-"`
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Features = r.Features.Clone()
	out.Result = r.Result.Clone()
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		out.ExpiresAt = &t
	}
	return &out
}

func (r *Record) expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

type PruneResult struct {
	EntriesRemoved int `json:"entries_removed"`
}

type Stats struct {
	Hits         int64      `json:"hits"`
	Misses       int64      `json:"misses"`
	Additions    int64      `json:"additions"`
	Updates      int64      `json:"updates"`
	Evictions    int64      `json:"evictions"`
	Expirations  int64      `json:"expirations"`
	CurrentSize  int        `json:"current_size"`
	MaxSize      int        `json:"max_size,omitempty"`
	LastPrunedAt *time.Time `json:"last_pruned_at,omitempty"`
}

// Cache maps frame digests to records. When MaxSizeItems is exceeded the
// least recently accessed entry is evicted; Has never changes that order.
type Cache interface {
	Get(ctx context.Context, digest string) (*Record, error)
	Set(ctx context.Context, rec *Record) error
	Has(ctx context.Context, digest string) (bool, error)
	Delete(ctx context.Context, digest string) (bool, error)
	Clear(ctx context.Context) error
	Prune(ctx context.Context) (PruneResult, error)
	Stats(ctx context.Context) (Stats, error)
}

type Config struct {
	CacheID      string
	MaxSizeItems int
	TTL          time.Duration
	LogActivity  bool
}

func (c Config) Validate() error {
	if c.CacheID == "" {
		return fmt.Errorf("%w: cache id is required", ErrInvalidConfig)
	}
	if c.MaxSizeItems < 0 {
		return fmt.Errorf("%w: max size must not be negative", ErrInvalidConfig)
	}
	if c.TTL < 0 {
		return fmt.Errorf("%w: ttl must not be negative", ErrInvalidConfig)
	}
	return nil
}

type Option func(*options)

type options struct {
	now func() time.Time
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// merge folds an upsert into an existing record. Non-empty payload fields
// replace the stored ones; AddedAt is kept.
func merge(existing, in *Record, now time.Time, ttl time.Duration) *Record {
	out := existing.Clone()
	if in.Replace {
		out = in.Clone()
		out.AddedAt = now
		out.Replace = false
	} else {
		if in.OriginalTimestamp != 0 {
			out.OriginalTimestamp = in.OriginalTimestamp
		}
		if in.Resolution != (vision.Resolution{}) {
			out.Resolution = in.Resolution
		}
		if in.SourceStreamID != "" {
			out.SourceStreamID = in.SourceStreamID
		}
		if in.Features != nil {
			out.Features = in.Features.Clone()
		}
		if in.Result != nil {
			out.Result = in.Result.Clone()
		}
	}
	out.Digest = existing.Digest
	out.AccessCount = existing.AccessCount + 1
	out.LastAccessedAt = now
	out.ExpiresAt = expiry(in, now, ttl)
	return out
}

func fresh(in *Record, now time.Time, ttl time.Duration) *Record {
	out := in.Clone()
	out.Replace = false
	out.AccessCount = 1
	out.AddedAt = now
	out.LastAccessedAt = now
	out.ExpiresAt = expiry(in, now, ttl)
	return out
}

func expiry(in *Record, now time.Time, ttl time.Duration) *time.Time {
	if in.ExpiresAt != nil {
		t := *in.ExpiresAt
		return &t
	}
	if ttl <= 0 {
		return nil
	}
	t := now.Add(ttl)
	return &t
}

func activityLogger(logger *slog.Logger, cfg Config, backend string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", "frame-cache", "cache_id", cfg.CacheID, "backend", backend)
}
