package realtime

import (
	"context"
	"testing"

	"github.com/eleven-am/perception-backend/internal/vision"
	"github.com/pion/webrtc/v4"
)

type nopSink struct{}

func (nopSink) Ingest(context.Context, *vision.Frame) {}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	mgr, err := NewManager(cfg, nopSink{}, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(mgr.Close)
	return mgr
}

// videoOffer builds an offer from a local peer that sends one video track.
func videoOffer(t *testing.T) (*webrtc.PeerConnection, string) {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection failed: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	}); err != nil {
		t.Fatalf("AddTransceiverFromKind failed: %v", err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription failed: %v", err)
	}
	return pc, offer.SDP
}

func TestNewManager_PortRange(t *testing.T) {
	mgr := newTestManager(t, Config{PortRange: PortRange{Min: 40000, Max: 40100}})
	if mgr.Config().PortRange.Min != 40000 {
		t.Error("config not retained")
	}
}

func TestManager_OpenAndRemove(t *testing.T) {
	mgr := newTestManager(t, Config{})
	client, offer := videoOffer(t)

	session, answer, err := mgr.Open("cam", offer, OfferOptions{Tasks: []vision.Task{vision.TaskDescribe}})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if session.StreamID() != "cam" {
		t.Errorf("unexpected stream id %s", session.StreamID())
	}
	if err := client.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		t.Fatalf("client rejected answer: %v", err)
	}

	if _, ok := mgr.GetSession(session.ID); !ok {
		t.Fatal("session not registered")
	}
	infos := mgr.Sessions()
	if len(infos) != 1 || infos[0].StreamID != "cam" {
		t.Errorf("unexpected sessions %+v", infos)
	}

	if !mgr.RemoveSession(session.ID) {
		t.Error("expected session removal")
	}
	if mgr.RemoveSession(session.ID) {
		t.Error("second removal must report false")
	}
	select {
	case <-session.Done():
	default:
		t.Error("removed session must be closed")
	}
}

func TestManager_OpenRejectsGarbage(t *testing.T) {
	mgr := newTestManager(t, Config{})
	if _, _, err := mgr.Open("cam", "not sdp", OfferOptions{}); err == nil {
		t.Fatal("expected invalid offer to fail")
	}
	if len(mgr.Sessions()) != 0 {
		t.Error("failed negotiation must not register a session")
	}
}

func TestManager_CloseEndsSessions(t *testing.T) {
	mgr := newTestManager(t, Config{})
	_, offer := videoOffer(t)
	session, _, err := mgr.Open("cam", offer, OfferOptions{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	mgr.Close()
	if len(mgr.Sessions()) != 0 {
		t.Error("expected no sessions after Close")
	}
	select {
	case <-session.Done():
	default:
		t.Error("session must be closed by manager Close")
	}
}

func TestSession_SendICEAfterClose(t *testing.T) {
	mgr := newTestManager(t, Config{})
	_, offer := videoOffer(t)
	session, _, err := mgr.Open("cam", offer, OfferOptions{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	session.Close()
	session.SendICE(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 5000 typ host"})
	session.Close()
}
