package calibration

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Subscriber func(Profile)

type subscription struct {
	id uint64
	fn Subscriber
}

type profileState struct {
	profile   Profile
	smoothed  Metrics
	window    []Metrics
	next      int
	startedAt time.Time
	lastEval  time.Time
}

// Calibrator keeps one adaptive profile per profile id. Mutations are
// serialized; subscribers are called synchronously after the lock is released.
type Calibrator struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	profiles map[string]*profileState

	subMu   sync.RWMutex
	subs    []subscription
	nextSub uint64
}

type Option func(*Calibrator)

func WithClock(now func() time.Time) Option {
	return func(c *Calibrator) { c.now = now }
}

func New(cfg Config, logger *slog.Logger, opts ...Option) (*Calibrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Calibrator{
		cfg:      cfg,
		logger:   logger.With("component", "calibrator"),
		now:      time.Now,
		profiles: make(map[string]*profileState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Calibrator) Config() Config {
	return c.cfg
}

func (c *Calibrator) newState(id string) *profileState {
	now := c.now()
	return &profileState{
		profile: Profile{
			ID:         id,
			Type:       Unknown,
			Thresholds: c.cfg.ThresholdsFor(Unknown),
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		window:    make([]Metrics, 0, c.cfg.MetricsBufferSize),
		startedAt: now,
	}
}

func (c *Calibrator) stateLocked(id string) *profileState {
	st, ok := c.profiles[id]
	if !ok {
		st = c.newState(id)
		c.profiles[id] = st
	}
	return st
}

// Update feeds one metrics sample into profile id. It returns the live
// profile snapshot and whether a profile update was committed.
func (c *Calibrator) Update(id string, sample Metrics) (Profile, bool, error) {
	if err := sample.Validate(); err != nil {
		return Profile{}, false, fmt.Errorf("update %s: %w", id, err)
	}
	sample = sample.Clamp()

	c.mu.Lock()
	st := c.stateLocked(id)
	now := c.now()

	if st.profile.SampleCount == 0 {
		st.smoothed = sample
	} else {
		st.smoothed = sample.blend(st.smoothed, c.cfg.SmoothingFactor)
	}
	st.push(sample, c.cfg.MetricsBufferSize)
	st.profile.SampleCount++
	st.profile.Metrics = st.smoothed

	if !c.dueLocked(st, now) {
		snap := st.profile.Clone()
		c.mu.Unlock()
		return snap, false, nil
	}
	st.lastEval = now

	stability := windowStability(st.window, st.smoothed)
	typ := Classify(st.smoothed, stability, c.cfg.Classification)
	conf := confidence(st.profile.SampleCount, c.cfg.MinFramesForInitialProfile, stability)

	p := &st.profile
	commit := !p.Calibrated ||
		typ != p.Type ||
		(conf-p.Confidence > c.cfg.ConfidenceMargin && conf >= c.cfg.ProfileConfidenceThresholdForUpdate)
	if !commit {
		snap := p.Clone()
		c.mu.Unlock()
		return snap, false, nil
	}

	previous := p.Type
	p.Type = typ
	p.Confidence = conf
	p.Thresholds = c.cfg.ThresholdsFor(typ)
	p.Calibrated = true
	p.UpdatedAt = now
	p.History = append(p.History, HistoryEntry{Type: typ, Confidence: conf, At: now})
	if over := len(p.History) - c.cfg.HistorySize; over > 0 {
		p.History = append(p.History[:0:0], p.History[over:]...)
	}
	snap := p.Clone()
	c.mu.Unlock()

	c.logger.Debug("profile updated",
		"profile_id", id,
		"from", previous,
		"to", typ,
		"confidence", conf,
		"samples", snap.SampleCount)
	c.notify(snap)
	return snap, true, nil
}

func (c *Calibrator) dueLocked(st *profileState, now time.Time) bool {
	if !st.profile.Calibrated {
		return st.profile.SampleCount >= c.cfg.MinFramesForInitialProfile ||
			now.Sub(st.startedAt) >= c.cfg.InitialCalibrationDuration
	}
	interval := c.cfg.ProfileUpdateInterval
	if f := st.profile.Thresholds.UpdateFrequencyFactor; f > 0 {
		interval = time.Duration(float64(interval) / f)
	}
	return now.Sub(st.lastEval) >= interval
}

func (st *profileState) push(m Metrics, size int) {
	if len(st.window) < size {
		st.window = append(st.window, m)
		return
	}
	st.window[st.next] = m
	st.next = (st.next + 1) % size
}

// Profile returns a snapshot of profile id. Unknown ids yield an
// uncalibrated default that is not retained.
func (c *Calibrator) Profile(id string) Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.profiles[id]; ok {
		return st.profile.Clone()
	}
	return c.newState(id).profile
}

func (c *Calibrator) Profiles() []Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Profile, 0, len(c.profiles))
	for _, st := range c.profiles {
		out = append(out, st.profile.Clone())
	}
	return out
}

// Reset returns profile id to uncalibrated defaults and notifies once.
func (c *Calibrator) Reset(id string) Profile {
	c.mu.Lock()
	st := c.newState(id)
	c.profiles[id] = st
	snap := st.profile.Clone()
	c.mu.Unlock()

	c.logger.Info("profile reset", "profile_id", id)
	c.notify(snap)
	return snap
}

// Forget drops profile id without notifying.
func (c *Calibrator) Forget(id string) {
	c.mu.Lock()
	delete(c.profiles, id)
	c.mu.Unlock()
}

// Subscribe registers fn for committed updates. The returned func removes it.
func (c *Calibrator) Subscribe(fn Subscriber) func() {
	c.subMu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs = append(c.subs, subscription{id: id, fn: fn})
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *Calibrator) notify(p Profile) {
	c.subMu.RLock()
	subs := append([]subscription(nil), c.subs...)
	c.subMu.RUnlock()

	for _, s := range subs {
		s.fn(p.Clone())
	}
}
