package processor

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven-am/perception-backend/internal/calibration"
	"github.com/eleven-am/perception-backend/internal/framecache"
	"github.com/eleven-am/perception-backend/internal/vision"
)

type streamState struct {
	id string

	watching   atomic.Bool
	refreshDue atomic.Bool
	closed     atomic.Bool

	mu            sync.Mutex
	tail          chan struct{}
	lastProcessed time.Time
	lastAnalysis  time.Time
	reference     *framecache.Record
	profileID     string
	thumbnail     *vision.Thumbnail
	textScore     float64
	faceScore     float64
	framesSeen    int64
	timer         *time.Timer
	refreshPeriod time.Duration
	usage         *list.Element
}

type StreamStatus struct {
	StreamID        string     `json:"stream_id"`
	Watching        bool       `json:"watching"`
	ProfileID       string     `json:"profile_id"`
	ReferenceDigest string     `json:"reference_digest,omitempty"`
	FramesSeen      int64      `json:"frames_seen"`
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
	LastAnalysisAt  *time.Time `json:"last_analysis_at,omitempty"`
}

func (st *streamState) status() StreamStatus {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := StreamStatus{
		StreamID:   st.id,
		Watching:   st.watching.Load(),
		ProfileID:  st.profileID,
		FramesSeen: st.framesSeen,
	}
	if st.reference != nil {
		s.ReferenceDigest = st.reference.Digest
	}
	if !st.lastProcessed.IsZero() {
		t := st.lastProcessed
		s.LastProcessedAt = &t
	}
	if !st.lastAnalysis.IsZero() {
		t := st.lastAnalysis
		s.LastAnalysisAt = &t
	}
	return s
}

// enqueue reserves the next pipeline slot for the stream. The caller waits on
// prev, when non-nil, before running and closes done when finished, so frames
// for one stream are processed in submission order.
func (st *streamState) enqueue() (prev <-chan struct{}, done chan struct{}) {
	done = make(chan struct{})
	st.mu.Lock()
	defer st.mu.Unlock()
	prev = st.tail
	st.tail = done
	return prev, done
}

// busy reports whether a frame still holds or waits for the pipeline slot.
func (st *streamState) busy() bool {
	st.mu.Lock()
	tail := st.tail
	st.mu.Unlock()
	if tail == nil {
		return false
	}
	select {
	case <-tail:
		return false
	default:
		return true
	}
}

// carryScores fills the analysis-only scores of m with the last values a
// full analysis produced for the stream.
func (st *streamState) carryScores(m *calibration.Metrics) {
	st.mu.Lock()
	defer st.mu.Unlock()
	m.TextScore = st.textScore
	m.FaceScore = st.faceScore
}

func (st *streamState) keepScores(m calibration.Metrics) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.textScore = m.TextScore
	st.faceScore = m.FaceScore
}

// startRefresh arms the periodic reference refresh. A firing timer only
// marks the refresh due while the stream is watching.
func (st *streamState) startRefresh(period time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.refreshPeriod = period
	st.timer = time.AfterFunc(period, st.onRefresh)
}

func (st *streamState) onRefresh() {
	if st.closed.Load() {
		return
	}
	if st.watching.Load() {
		st.refreshDue.Store(true)
	}
	st.mu.Lock()
	if st.timer != nil && !st.closed.Load() {
		st.timer.Reset(st.refreshPeriod)
	}
	st.mu.Unlock()
}

func (st *streamState) close() {
	st.closed.Store(true)
	st.mu.Lock()
	if st.timer != nil {
		st.timer.Stop()
	}
	st.mu.Unlock()
}

// arena owns every stream state: a map by id plus a usage list whose front
// is the most recently used stream. A drained arena accepts no new states.
type arena struct {
	mu      sync.Mutex
	max     int
	closed  bool
	streams map[string]*streamState
	usage   *list.List
}

func newArena(max int) *arena {
	return &arena{
		max:     max,
		streams: make(map[string]*streamState),
		usage:   list.New(),
	}
}

type acquisition struct {
	st      *streamState
	created bool
	evicted []*streamState

	// prev and done are set when a pipeline slot was reserved.
	prev <-chan struct{}
	done chan struct{}
}

// acquire returns the state for id, creating it with create when absent and
// marking it most recently used. With reserve set, the next pipeline slot is
// taken under the arena lock so the state cannot be evicted before its frame
// is queued. Idle states beyond the cap are evicted coldest first; busy ones
// are kept. ok is false once the arena has been drained.
func (a *arena) acquire(id string, create func(id string) *streamState, reserve bool) (acq acquisition, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return acquisition{}, false
	}

	st, found := a.streams[id]
	if found {
		a.usage.MoveToFront(st.usage)
	} else {
		st = create(id)
		st.usage = a.usage.PushFront(id)
		a.streams[id] = st
		acq.created = true
	}
	acq.st = st
	if reserve {
		acq.prev, acq.done = st.enqueue()
	}

	for el := a.usage.Back(); el != nil && len(a.streams) > a.max; {
		victim := a.streams[el.Value.(string)]
		prev := el.Prev()
		if victim != st && !victim.busy() {
			a.usage.Remove(el)
			delete(a.streams, victim.id)
			acq.evicted = append(acq.evicted, victim)
		}
		el = prev
	}
	return acq, true
}

func (a *arena) get(id string) (*streamState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.streams[id]
	return st, ok
}

func (a *arena) remove(id string) (*streamState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.streams[id]
	if !ok {
		return nil, false
	}
	a.usage.Remove(st.usage)
	delete(a.streams, id)
	return st, true
}

// all returns states from most to least recently used.
func (a *arena) all() []*streamState {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*streamState, 0, len(a.streams))
	for el := a.usage.Front(); el != nil; el = el.Next() {
		out = append(out, a.streams[el.Value.(string)])
	}
	return out
}

func (a *arena) drain() []*streamState {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*streamState, 0, len(a.streams))
	for _, st := range a.streams {
		out = append(out, st)
	}
	a.closed = true
	a.streams = make(map[string]*streamState)
	a.usage.Init()
	return out
}
