package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/eleven-am/perception-backend/internal/calibration"
	"github.com/eleven-am/perception-backend/internal/difference"
	"github.com/eleven-am/perception-backend/internal/framecache"
	"github.com/eleven-am/perception-backend/internal/vision"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const defaultStreamID = "default"

// FeatureIndexer receives every freshly analyzed record. Failures are logged
// and never fail the frame.
type FeatureIndexer interface {
	Upsert(ctx context.Context, rec *framecache.Record) error
}

type Deps struct {
	Cache      framecache.Cache
	Calibrator *calibration.Calibrator
	Engines    *difference.Registry
	Provider   vision.Provider
	Index      FeatureIndexer
	Bus        *Bus
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Service decides per frame whether a full vision analysis is warranted and
// reports each decision as a sequence of events.
type Service struct {
	cfg        Config
	cache      framecache.Cache
	calibrator *calibration.Calibrator
	engines    *difference.Registry
	provider   vision.Provider
	index      FeatureIndexer
	bus        *Bus
	logger     *slog.Logger
	now        func() time.Time
	metrics    instruments

	streams *arena
	flight  singleflight.Group

	mu       sync.RWMutex
	shutdown bool
}

func NewService(cfg Config, deps Deps) (*Service, error) {
	if deps.Engines == nil {
		deps.Engines = difference.DefaultRegistry()
	}
	if err := cfg.validate(deps.Engines); err != nil {
		return nil, err
	}
	switch {
	case deps.Cache == nil:
		return nil, fmt.Errorf("%w: frame cache is required", ErrInvalidConfig)
	case deps.Calibrator == nil:
		return nil, fmt.Errorf("%w: calibrator is required", ErrInvalidConfig)
	case deps.Provider == nil:
		return nil, fmt.Errorf("%w: vision provider is required", ErrInvalidConfig)
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 8
	}
	if deps.Bus == nil {
		deps.Bus = NewBus()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	return &Service{
		cfg:        cfg,
		cache:      deps.Cache,
		calibrator: deps.Calibrator,
		engines:    deps.Engines,
		provider:   deps.Provider,
		index:      deps.Index,
		bus:        deps.Bus,
		logger:     deps.Logger.With("component", "vision-processor"),
		now:        deps.Clock,
		metrics:    newInstruments(),
		streams:    newArena(cfg.MaxStreamStateHistory),
	}, nil
}

func (s *Service) Bus() *Bus                           { return s.bus }
func (s *Service) Cache() framecache.Cache             { return s.cache }
func (s *Service) Calibrator() *calibration.Calibrator { return s.calibrator }

// Process runs the change-detection pipeline for one frame. The returned
// channel is closed after the frame's last event. Callers must drain it or
// cancel ctx.
func (s *Service) Process(ctx context.Context, frame *vision.Frame) <-chan Event {
	return s.start(ctx, frame, false)
}

// Analyze always runs a full analysis for frame, bypassing the watching
// flag, the rate limit, the cache and differencing.
func (s *Service) Analyze(ctx context.Context, frame *vision.Frame) <-chan Event {
	return s.start(ctx, frame, true)
}

// Ingest processes frame and discards the events after logging them. Events
// still reach bus subscribers.
func (s *Service) Ingest(ctx context.Context, frame *vision.Frame) {
	for ev := range s.Process(ctx, frame) {
		s.logger.Debug("frame event",
			"stream_id", ev.StreamID,
			"frame_id", ev.FrameID,
			"type", ev.Type,
			"reason", ev.Reason)
	}
}

func (s *Service) start(ctx context.Context, frame *vision.Frame, explicit bool) <-chan Event {
	out := make(chan Event, s.cfg.EventBuffer)
	f := s.normalize(frame)

	p := &pipeline{svc: s, ctx: ctx, frame: f, out: out, explicit: explicit}

	acq, ok := s.acquire(f.StreamID, true)
	if !ok {
		go func() {
			defer close(out)
			p.skip(SkipShutdown)
		}()
		return out
	}

	st, prev, done := acq.st, acq.prev, acq.done
	go func() {
		defer close(out)
		defer close(done)
		if prev != nil {
			<-prev
		}
		p.run(st)
	}()
	return out
}

func (s *Service) normalize(in *vision.Frame) *vision.Frame {
	f := &vision.Frame{}
	if in != nil {
		*f = *in
	}
	if f.StreamID == "" {
		f.StreamID = defaultStreamID
	}
	if f.Timestamp == 0 {
		f.Timestamp = s.now().UnixMilli()
	}
	if f.Digest == "" {
		f.Digest = vision.Digest(f.Data)
	}
	if len(f.Tasks) == 0 {
		f.Tasks = s.cfg.DefaultTasks
	}
	return f
}

func (s *Service) newStream(id string) *streamState {
	st := &streamState{id: id, profileID: id}
	st.watching.Store(s.cfg.DefaultIsWatching)
	if s.cfg.ReferenceUpdateStrategy == Periodic {
		st.startRefresh(s.cfg.PeriodicReferenceUpdateInterval)
	}
	return st
}

// acquire returns the state for id. ok is false after Shutdown.
func (s *Service) acquire(id string, reserve bool) (acquisition, bool) {
	acq, ok := s.streams.acquire(id, s.newStream, reserve)
	if !ok {
		return acq, false
	}
	if acq.created {
		s.logger.Debug("stream created", "stream_id", id)
	}
	for _, evicted := range acq.evicted {
		evicted.close()
		s.metrics.evicted(context.Background())
		s.logger.Info("stream state evicted", "stream_id", evicted.id)
	}
	return acq, true
}

func (s *Service) isShutdown() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shutdown
}

// SetWatching flips the watching flag for streamID, creating the stream if
// needed. It never waits for an in-flight analysis.
func (s *Service) SetWatching(streamID string, watching bool) StreamStatus {
	acq, ok := s.acquire(streamID, false)
	if !ok {
		return StreamStatus{StreamID: streamID}
	}
	st := acq.st
	st.watching.Store(watching)
	if !watching {
		st.refreshDue.Store(false)
	}
	s.logger.Info("watching changed", "stream_id", streamID, "watching", watching)
	return st.status()
}

// BindProfile makes streamID calibrate against profileID. Streams sharing a
// profile id share calibration state.
func (s *Service) BindProfile(streamID, profileID string) StreamStatus {
	acq, ok := s.acquire(streamID, false)
	if !ok {
		return StreamStatus{StreamID: streamID, ProfileID: profileID}
	}
	st := acq.st
	st.mu.Lock()
	st.profileID = profileID
	st.mu.Unlock()
	return st.status()
}

func (s *Service) StreamStatus(streamID string) (StreamStatus, bool) {
	st, ok := s.streams.get(streamID)
	if !ok {
		return StreamStatus{}, false
	}
	return st.status(), true
}

func (s *Service) Streams() []StreamStatus {
	states := s.streams.all()
	out := make([]StreamStatus, len(states))
	for i, st := range states {
		out[i] = st.status()
	}
	return out
}

func (s *Service) RemoveStream(streamID string) bool {
	st, ok := s.streams.remove(streamID)
	if ok {
		st.close()
	}
	return ok
}

// Profile returns the calibration profile bound to streamID.
func (s *Service) Profile(streamID string) calibration.Profile {
	return s.calibrator.Profile(s.profileID(streamID))
}

func (s *Service) ResetProfile(streamID string) calibration.Profile {
	return s.calibrator.Reset(s.profileID(streamID))
}

func (s *Service) profileID(streamID string) string {
	if st, ok := s.streams.get(streamID); ok {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.profileID
	}
	return streamID
}

// Shutdown stops every stream timer and clears stream state. Frames
// submitted afterwards are skipped.
func (s *Service) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	s.mu.Unlock()

	for _, st := range s.streams.drain() {
		st.close()
	}
	s.bus.Close()
	s.logger.Info("vision processor stopped")
}

type pipeline struct {
	svc      *Service
	ctx      context.Context
	frame    *vision.Frame
	out      chan<- Event
	explicit bool
}

func (p *pipeline) event(t EventType) Event {
	return Event{
		Type:          t,
		Timestamp:     p.svc.now().UnixMilli(),
		StreamID:      p.frame.StreamID,
		FrameID:       p.frame.FrameID,
		CorrelationID: p.frame.CorrelationID,
		Digest:        p.frame.Digest,
	}
}

func (p *pipeline) emit(ev Event) {
	p.svc.metrics.event(p.ctx, ev)
	p.svc.bus.Publish(ev)
	select {
	case p.out <- ev:
	case <-p.ctx.Done():
	}
}

func (p *pipeline) skip(reason SkipReason) {
	ev := p.event(EventProcessingSkipped)
	ev.Reason = reason
	p.emit(ev)
}

func (p *pipeline) fail(kind ErrorKind, op string, err error) {
	ev := p.event(EventFrameError)
	ev.Error = newFrameError(kind, op, err)
	p.svc.logger.Warn("frame processing failed",
		"stream_id", p.frame.StreamID,
		"frame_id", p.frame.FrameID,
		"kind", kind,
		"error", err)
	p.emit(ev)
}

func (p *pipeline) profileUpdated(profile calibration.Profile) {
	ev := p.event(EventProfileUpdated)
	ev.Profile = &profile
	p.emit(ev)
}

func (p *pipeline) cancelled() bool {
	return p.ctx.Err() != nil
}

func (p *pipeline) run(st *streamState) {
	s := p.svc
	if p.cancelled() {
		return
	}
	if s.isShutdown() {
		p.skip(SkipShutdown)
		return
	}

	if !p.explicit {
		if !st.watching.Load() {
			p.skip(SkipNotWatching)
			return
		}
		st.mu.Lock()
		last := st.lastAnalysis
		st.mu.Unlock()
		if !last.IsZero() && s.now().Sub(last) < s.cfg.MinTimeBetweenFullAnalyses {
			p.skip(SkipRateLimited)
			return
		}
	}

	analysis := p.measure(st)
	if p.cancelled() {
		return
	}

	if !p.explicit {
		rec, err := s.cache.Get(p.ctx, p.frame.Digest)
		if err != nil {
			p.fail(KindCacheAccess, "cache lookup", err)
			return
		}
		if rec != nil && rec.Result.Covers(p.frame.Tasks) {
			ev := p.event(EventCachedResultUsed)
			ev.Result = rec.Result
			p.emit(ev)
			return
		}
	}
	if p.cancelled() {
		return
	}

	candidate := &framecache.Record{
		Digest:            p.frame.Digest,
		OriginalTimestamp: p.frame.Timestamp,
		Resolution:        p.frame.Resolution,
		SourceStreamID:    p.frame.StreamID,
	}
	if analysis != nil {
		candidate.Features = analysis.Features
		if candidate.Resolution == (vision.Resolution{}) {
			candidate.Resolution = analysis.Resolution
		}
	}

	trigger := TriggerExplicit
	var score *difference.Score
	if !p.explicit {
		var significant bool
		trigger, score, significant = p.compare(st, candidate)
		if !significant {
			ev := p.event(EventNoSignificantChange)
			ev.Score = score
			p.emit(ev)
			p.refreshReference(st, candidate)
			return
		}
	}
	if p.cancelled() {
		return
	}

	p.analyze(st, candidate, analysis, trigger, score)
}

// measure extracts frame metrics and feeds the calibrator. Frames that are
// not decodable images skip calibration.
func (p *pipeline) measure(st *streamState) *vision.FrameAnalysis {
	s := p.svc

	st.mu.Lock()
	prev := st.thumbnail
	profileID := st.profileID
	st.lastProcessed = s.now()
	st.framesSeen++
	seen := st.framesSeen
	st.mu.Unlock()

	analysis, err := vision.ExtractMetrics(p.frame.Data, prev)
	if err != nil {
		s.logger.Debug("frame metrics unavailable", "stream_id", st.id, "error", err)
		return nil
	}
	st.mu.Lock()
	st.thumbnail = analysis.Thumbnail
	st.mu.Unlock()
	st.carryScores(&analysis.Metrics)

	skip := int64(s.calibrator.Profile(profileID).Thresholds.MotionFrameSkip)
	if skip > 1 && seen%skip != 0 {
		return analysis
	}
	p.calibrate(profileID, analysis.Metrics)
	return analysis
}

func (p *pipeline) calibrate(profileID string, m calibration.Metrics) {
	profile, committed, err := p.svc.calibrator.Update(profileID, m)
	if err != nil {
		p.svc.logger.Warn("calibration update failed",
			"stream_id", p.frame.StreamID,
			"profile_id", profileID,
			"kind", KindCalibration,
			"error", err)
		return
	}
	if committed {
		p.profileUpdated(profile)
	}
}

// compare scores candidate against the stream's reference frame. A missing
// reference or a strategy that cannot compare counts as significant.
func (p *pipeline) compare(st *streamState, candidate *framecache.Record) (Trigger, *difference.Score, bool) {
	s := p.svc

	st.mu.Lock()
	reference := st.reference
	profileID := st.profileID
	st.mu.Unlock()

	if reference == nil {
		return TriggerNoReference, nil, true
	}

	engine, err := s.engines.Get(s.cfg.DefaultDifferenceEngine)
	if err != nil {
		s.logger.Warn("difference engine unavailable", "kind", KindDifferencing, "error", err)
		return TriggerCompareFailed, nil, true
	}
	score, err := engine.Calculate(candidate, reference, s.calibrator.Profile(profileID))
	if err != nil {
		s.logger.Debug("comparison failed, treating as significant",
			"stream_id", st.id,
			"kind", KindDifferencing,
			"error", err)
		return TriggerCompareFailed, nil, true
	}
	return TriggerSignificantChange, &score, score.Significant
}

func (p *pipeline) refreshReference(st *streamState, candidate *framecache.Record) {
	switch p.svc.cfg.ReferenceUpdateStrategy {
	case EveryFrame:
	case Periodic:
		if !st.refreshDue.CompareAndSwap(true, false) {
			return
		}
	default:
		return
	}
	st.mu.Lock()
	st.reference = candidate
	st.mu.Unlock()
}

func (p *pipeline) analyze(st *streamState, candidate *framecache.Record, analysis *vision.FrameAnalysis, trigger Trigger, score *difference.Score) {
	s := p.svc

	started := p.event(EventAnalysisStarted)
	started.Trigger = trigger
	started.Score = score
	p.emit(started)

	result, err := p.callProvider()
	if err != nil {
		if p.cancelled() {
			return
		}
		if errors.Is(err, vision.ErrNoCapableProvider) {
			p.fail(KindProviderUnavailable, "analyze", err)
		} else {
			p.fail(KindProviderFailure, "analyze", err)
		}
		return
	}

	st.mu.Lock()
	st.lastAnalysis = s.now()
	st.mu.Unlock()

	candidate.Result = result
	if err := s.cache.Set(p.ctx, candidate); err != nil {
		p.fail(KindCacheAccess, "cache store", err)
		return
	}

	if p.explicit || st.watching.Load() {
		st.mu.Lock()
		st.reference = candidate
		st.mu.Unlock()
	} else {
		s.logger.Debug("stream stopped watching during analysis, reference kept", "stream_id", st.id)
	}

	completed := p.event(EventAnalysisCompleted)
	completed.Trigger = trigger
	completed.Score = score
	completed.Result = result
	p.emit(completed)

	if s.index != nil && candidate.Features != nil {
		if err := s.index.Upsert(p.ctx, candidate); err != nil {
			s.logger.Warn("feature index upsert failed", "digest", candidate.Digest, "error", err)
		}
	}

	if analysis != nil {
		st.mu.Lock()
		profileID := st.profileID
		st.mu.Unlock()
		minConf := s.calibrator.Profile(profileID).Thresholds.ObjectMinConfidence
		enriched := vision.EnrichMetrics(analysis.Metrics, result, minConf)
		st.keepScores(enriched)
		p.calibrate(profileID, enriched)
	}
}

// callProvider shares one provider call between concurrent requests for the
// same digest and task set. The shared call is detached from any single
// caller's cancellation and bounded by ProviderTimeout; each caller stops
// waiting when its own ctx ends.
func (p *pipeline) callProvider() (*vision.AnalysisResult, error) {
	s := p.svc
	tasks := make([]string, len(p.frame.Tasks))
	for i, t := range p.frame.Tasks {
		tasks[i] = string(t)
	}
	key := p.frame.Digest + "|" + strings.Join(tasks, ",")
	data := p.frame.Data
	opts := vision.AnalyzeOptions{Tasks: p.frame.Tasks}
	callCtx := context.WithoutCancel(p.ctx)
	streamID := p.frame.StreamID
	digest := p.frame.Digest

	ch := s.flight.DoChan(key, func() (any, error) {
		ctx := callCtx
		if s.cfg.ProviderTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.ProviderTimeout)
			defer cancel()
		}
		ctx, span := tracer.Start(ctx, "vision.analyze", trace.WithAttributes(
			attribute.String("stream_id", streamID),
			attribute.String("digest", digest),
			attribute.StringSlice("tasks", tasks),
		))
		defer span.End()

		start := s.now()
		result, err := s.provider.Analyze(ctx, data, opts)
		elapsed := float64(s.now().Sub(start).Milliseconds())
		outcome := "ok"
		if err == nil && result == nil {
			err = errors.New("provider returned no result")
		}
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("model", result.Model))
		}
		s.metrics.providerCall(ctx, elapsed, outcome)
		return result, err
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*vision.AnalysisResult).Clone(), nil
	case <-p.ctx.Done():
		return nil, p.ctx.Err()
	}
}
