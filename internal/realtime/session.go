package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/perception-backend/internal/shared"
	"github.com/eleven-am/perception-backend/internal/vision"
	"github.com/pion/webrtc/v4"
)

// Session is one WebRTC ingest connection feeding a stream.
type Session struct {
	ID        string
	streamID  string
	peer      *Peer
	iceCh     chan webrtc.ICECandidateInit
	done      chan struct{}
	createdAt time.Time
	closeOnce sync.Once
	log       *slog.Logger

	mu        sync.Mutex
	capturers []*vision.FrameCapturer
}

type SessionInfo struct {
	ID        string    `json:"id"`
	StreamID  string    `json:"stream_id"`
	State     string    `json:"state"`
	Tracks    int       `json:"tracks"`
	Dropped   int       `json:"dropped_frames"`
	CreatedAt time.Time `json:"created_at"`
}

func NewSession(streamID string, peer *Peer, iceBufSize int, log *slog.Logger) *Session {
	if iceBufSize <= 0 {
		iceBufSize = 128
	}
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		ID:        shared.NewID("rtc_"),
		streamID:  streamID,
		peer:      peer,
		iceCh:     make(chan webrtc.ICECandidateInit, iceBufSize),
		done:      make(chan struct{}),
		createdAt: time.Now(),
		log:       log,
	}
}

func (s *Session) StreamID() string {
	return s.streamID
}

// addCapturer registers c for shutdown. It reports false, after stopping c,
// when the session is already closed.
func (s *Session) addCapturer(c *vision.FrameCapturer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		c.Stop()
		return false
	default:
	}
	s.capturers = append(s.capturers, c)
	return true
}

func (s *Session) SendICE(candidate webrtc.ICECandidateInit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.iceCh <- candidate:
	default:
		s.log.Warn("ICE candidate dropped, buffer full", "session_id", s.ID)
	}
}

func (s *Session) ICECandidates() <-chan webrtc.ICECandidateInit {
	return s.iceCh
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{
		ID:        s.ID,
		StreamID:  s.streamID,
		State:     s.peer.ConnectionState(),
		Tracks:    len(s.capturers),
		CreatedAt: s.createdAt,
	}
	for _, c := range s.capturers {
		info.Dropped += c.Dropped()
	}
	return info
}

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.done)
		close(s.iceCh)
		capturers := s.capturers
		s.capturers = nil
		s.mu.Unlock()

		if err := s.peer.Close(); err != nil {
			s.log.Debug("peer close failed", "session_id", s.ID, "error", err)
		}
		for _, c := range capturers {
			c.Stop()
		}
	})
}

func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}
