package realtime

import (
	"log/slog"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// TrackHandler receives the RTP packets of one remote video track.
type TrackHandler func(mimeType string) func(*rtp.Packet)

// Peer is a receive-only peer connection for video ingest.
type Peer struct {
	pc  *webrtc.PeerConnection
	log *slog.Logger

	mu          sync.RWMutex
	onTrack     TrackHandler
	onConnected func()
	onFailed    func()
}

func NewPeer(pc *webrtc.PeerConnection, log *slog.Logger) *Peer {
	if log == nil {
		log = slog.Default()
	}
	p := &Peer{pc: pc, log: log}

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		codec := remote.Codec()
		p.log.Info("track received",
			"kind", remote.Kind().String(),
			"codec", codec.MimeType,
			"clock_rate", codec.ClockRate)
		if remote.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		p.mu.RLock()
		handler := p.onTrack
		p.mu.RUnlock()
		if handler == nil {
			return
		}
		go p.readVideo(remote, handler(codec.MimeType))
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.mu.RLock()
		onConnected := p.onConnected
		onFailed := p.onFailed
		p.mu.RUnlock()

		switch state {
		case webrtc.PeerConnectionStateConnected:
			if onConnected != nil {
				onConnected()
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			if onFailed != nil {
				onFailed()
			}
		}
	})

	return p
}

func (p *Peer) readVideo(track *webrtc.TrackRemote, onPacket func(*rtp.Packet)) {
	if onPacket == nil {
		return
	}
	packets := 0
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			p.log.Debug("video track ended", "packets", packets, "error", err)
			return
		}
		packets++
		onPacket(pkt)
	}
}

func (p *Peer) SetOffer(sdp string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	})
}

// CreateAnswer answers the remote offer. Local candidates trickle through
// OnICECandidate.
func (p *Peer) CreateAnswer() (string, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *Peer) OnTrack(fn TrackHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

func (p *Peer) OnConnected(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnected = fn
}

func (p *Peer) OnFailed(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFailed = fn
}

func (p *Peer) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	p.pc.OnICECandidate(fn)
}

func (p *Peer) ConnectionState() string {
	return p.pc.ConnectionState().String()
}

func (p *Peer) Close() error {
	return p.pc.Close()
}
