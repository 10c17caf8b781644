package realtime

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/eleven-am/perception-backend/internal/vision"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

const defaultCaptureInterval = 2 * time.Second

// OfferOptions tune how frames from one ingest session are sampled.
type OfferOptions struct {
	Tasks           []vision.Task
	CaptureInterval time.Duration
}

// Manager owns the WebRTC API and the live ingest sessions. Each remote video
// track gets a frame capturer that feeds sink.
type Manager struct {
	cfg  Config
	api  *webrtc.API
	sink vision.FrameSink
	log  *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(cfg Config, sink vision.FrameSink, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}

	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > cfg.PortRange.Min {
		if err := se.SetEphemeralUDPPortRange(uint16(cfg.PortRange.Min), uint16(cfg.PortRange.Max)); err != nil {
			return nil, err
		}
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithSettingEngine(se),
	)

	return &Manager{
		cfg:      cfg,
		api:      api,
		sink:     sink,
		log:      log.With("component", "webrtc-ingest"),
		sessions: make(map[string]*Session),
	}, nil
}

func (m *Manager) NewPeer() (*Peer, error) {
	pc, err := m.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: m.iceServers(),
	})
	if err != nil {
		return nil, err
	}
	return NewPeer(pc, m.log), nil
}

// Open negotiates a receive-only session for streamID and returns it with
// the SDP answer.
func (m *Manager) Open(streamID, offer string, opts OfferOptions) (*Session, string, error) {
	peer, err := m.NewPeer()
	if err != nil {
		return nil, "", fmt.Errorf("create peer: %w", err)
	}

	interval := opts.CaptureInterval
	if interval <= 0 {
		interval = m.cfg.CaptureInterval
	}
	if interval <= 0 {
		interval = defaultCaptureInterval
	}

	session := NewSession(streamID, peer, m.cfg.ICEBuffer, m.log)

	peer.OnTrack(func(mimeType string) func(*rtp.Packet) {
		var decoder vision.VideoDecoder
		if mimeType == webrtc.MimeTypeVP8 {
			decoder = vision.NewVPXDecoder()
		}
		capturer := vision.NewFrameCapturer(vision.CapturerConfig{
			StreamID:    streamID,
			Sink:        m.sink,
			Decoder:     decoder,
			CaptureRate: interval,
			Tasks:       opts.Tasks,
			Logger:      m.log,
		})
		if !session.addCapturer(capturer) {
			return nil
		}
		return func(pkt *rtp.Packet) {
			capturer.HandlePacket(pkt, mimeType)
		}
	})
	peer.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil {
			session.SendICE(cand.ToJSON())
		}
	})
	peer.OnConnected(func() {
		m.log.Info("webrtc ingest connected", "session_id", session.ID, "stream_id", streamID)
	})
	peer.OnFailed(func() {
		m.RemoveSession(session.ID)
	})

	if err := peer.SetOffer(offer); err != nil {
		session.Close()
		return nil, "", fmt.Errorf("set offer: %w", err)
	}
	answer, err := peer.CreateAnswer()
	if err != nil {
		session.Close()
		return nil, "", fmt.Errorf("create answer: %w", err)
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	return session, answer, nil
}

func (m *Manager) iceServers() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(m.cfg.ICEServers))
	for _, s := range m.cfg.ICEServers {
		server := webrtc.ICEServer{
			URLs: s.URLs,
		}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, server)
	}
	return servers
}

func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) RemoveSession(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
	return ok
}

func (m *Manager) Sessions() []SessionInfo {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Close ends every session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

func (m *Manager) ICEServers() []ICEServerConfig {
	return m.cfg.ICEServers
}

func (m *Manager) Config() Config {
	return m.cfg
}
