package streamstats

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/eleven-am/perception-backend/internal/processor"
	"github.com/redis/go-redis/v9"
)

const metricsTTL = 7 * 24 * time.Hour

// Store keeps hourly per-stream event counters in redis hashes.
type Store struct {
	redis  *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewStore(redisClient *redis.Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		redis:  redisClient,
		logger: logger.With("component", "stream_stats"),
		now:    time.Now,
	}
}

func (s *Store) IncrementMetric(ctx context.Context, streamID, field string, value int64) error {
	now := s.now().UTC()
	key := MetricsRedisKey(streamID, now.Format("2006-01-02"), now.Hour())

	pipe := s.redis.Pipeline()
	pipe.HIncrBy(ctx, key, field, value)
	pipe.Expire(ctx, key, metricsTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Record folds one pipeline event into the stream's current hour.
func (s *Store) Record(ctx context.Context, ev processor.Event) error {
	if ev.StreamID == "" {
		return nil
	}
	field, endsFrame := fieldFor(ev)
	if field == "" {
		return nil
	}

	now := s.now().UTC()
	date, hour := now.Format("2006-01-02"), now.Hour()
	key := MetricsRedisKey(ev.StreamID, date, hour)

	pipe := s.redis.Pipeline()
	pipe.HIncrBy(ctx, key, field, 1)
	if endsFrame {
		pipe.HIncrBy(ctx, key, fieldFrames, 1)
	}
	if ev.Type == processor.EventAnalysisCompleted && ev.Result != nil {
		pipe.HIncrBy(ctx, key, fieldTotalAnalysisMs, ev.Result.ProcessingTimeMs)
		pipe.HIncrBy(ctx, key, fieldAnalysisCount, 1)
	}
	pipe.Expire(ctx, key, metricsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record %s for %s: %w", ev.Type, ev.StreamID, err)
	}

	if endsFrame && ev.Digest != "" {
		return s.trackDigest(ctx, ev.StreamID, ev.Digest, date, hour)
	}
	return nil
}

func (s *Store) trackDigest(ctx context.Context, streamID, digest, date string, hour int) error {
	key := digestsRedisKey(streamID, date, hour)
	added, err := s.redis.SAdd(ctx, key, digest).Result()
	if err != nil {
		return err
	}
	s.redis.Expire(ctx, key, metricsTTL)

	if added > 0 {
		return s.IncrementMetric(ctx, streamID, fieldUniqueFrames, 1)
	}
	return nil
}

// Run records every bus event until ctx ends or the bus closes.
func (s *Store) Run(ctx context.Context, bus *processor.Bus) error {
	events, cancel, err := bus.Subscribe("", 256)
	if err != nil {
		return err
	}
	defer cancel()

	s.logger.Info("stream stats recorder started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.Record(ctx, ev); err != nil {
				s.logger.Warn("failed to record stream event", "error", err, "stream_id", ev.StreamID)
			}
		}
	}
}

func (s *Store) GetMetrics(ctx context.Context, streamID string, hours int) ([]*Metrics, error) {
	now := s.now().UTC()
	var metrics []*Metrics

	for i := 0; i < hours; i++ {
		t := now.Add(-time.Duration(i) * time.Hour)
		key := MetricsRedisKey(streamID, t.Format("2006-01-02"), t.Hour())

		data, err := s.redis.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}

		m := &Metrics{
			StreamID: streamID,
			Date:     t.Format("2006-01-02"),
			Hour:     t.Hour(),
		}
		counters := map[string]*int64{
			fieldFrames:           &m.Frames,
			fieldUniqueFrames:     &m.UniqueFrames,
			fieldAnalyses:         &m.Analyses,
			fieldCacheHits:        &m.CacheHits,
			fieldUnchanged:        &m.Unchanged,
			fieldSkippedNotWatch:  &m.SkippedNotWatch,
			fieldSkippedRateLimit: &m.SkippedRateLimit,
			fieldErrors:           &m.Errors,
			fieldProfileUpdates:   &m.ProfileUpdates,
		}
		for field, dst := range counters {
			if v, ok := data[field]; ok {
				*dst, _ = strconv.ParseInt(v, 10, 64)
			}
		}

		total, _ := strconv.ParseInt(data[fieldTotalAnalysisMs], 10, 64)
		count, _ := strconv.ParseInt(data[fieldAnalysisCount], 10, 64)
		if count > 0 {
			m.AvgAnalysisTimeMs = total / count
		}

		metrics = append(metrics, m)
	}

	return metrics, nil
}

func (s *Store) GetMetricsForLast7Days(ctx context.Context, streamID string) ([]*Metrics, error) {
	return s.GetMetrics(ctx, streamID, 7*24)
}
