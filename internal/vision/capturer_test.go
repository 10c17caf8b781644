package vision

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"testing"
	"time"
)

type mockDecoder struct {
	decodeFunc func(data []byte, mimeType string) (image.Image, error)
	closed     bool
}

func (m *mockDecoder) Decode(data []byte, mimeType string) (image.Image, error) {
	if m.decodeFunc != nil {
		return m.decodeFunc(data, mimeType)
	}
	return image.NewRGBA(image.Rect(0, 0, 100, 100)), nil
}

func (m *mockDecoder) Close() error {
	m.closed = true
	return nil
}

type chanSink struct {
	frames chan *Frame
}

func (s *chanSink) Ingest(_ context.Context, f *Frame) {
	s.frames <- f
}

func newChanSink() *chanSink {
	return &chanSink{frames: make(chan *Frame, 4)}
}

func (s *chanSink) next(t *testing.T) *Frame {
	t.Helper()
	select {
	case f := <-s.frames:
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func TestNewFrameCapturer_Defaults(t *testing.T) {
	capturer := NewFrameCapturer(CapturerConfig{StreamID: "cam-1"})
	defer capturer.Stop()

	if capturer.streamID != "cam-1" {
		t.Errorf("expected streamID 'cam-1', got %s", capturer.streamID)
	}
	if capturer.captureRate != 2*time.Second {
		t.Errorf("expected default captureRate 2s, got %v", capturer.captureRate)
	}
	if capturer.logger == nil {
		t.Error("logger should not be nil (default)")
	}
}

func TestNewFrameCapturer_Custom(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	decoder := &mockDecoder{}
	capturer := NewFrameCapturer(CapturerConfig{
		StreamID:    "cam-1",
		CaptureRate: 500 * time.Millisecond,
		Decoder:     decoder,
		Logger:      logger,
	})
	defer capturer.Stop()

	if capturer.captureRate != 500*time.Millisecond {
		t.Errorf("expected captureRate 500ms, got %v", capturer.captureRate)
	}
	if capturer.decoder != decoder {
		t.Error("decoder should match")
	}
}

func TestFrameCapturer_Stop(t *testing.T) {
	decoder := &mockDecoder{}
	capturer := NewFrameCapturer(CapturerConfig{StreamID: "cam-1", Decoder: decoder})

	capturer.Stop()
	capturer.Stop()

	if !capturer.stopped {
		t.Error("stopped should be true after Stop()")
	}
	if !decoder.closed {
		t.Error("decoder should be closed after Stop()")
	}
}

func TestFrameCapturer_HandleRTPPacket_Malformed(t *testing.T) {
	capturer := NewFrameCapturer(CapturerConfig{StreamID: "cam-1"})
	defer capturer.Stop()

	if err := capturer.HandleRTPPacket([]byte{0x80}, "video/VP8"); err == nil {
		t.Error("expected error for truncated rtp packet")
	}
	if capturer.sampleBuilder != nil {
		t.Error("sampleBuilder should not be created for a rejected packet")
	}
}

func rtpPacket(seq uint16, payload []byte) []byte {
	header := []byte{
		0x80, 96,
		byte(seq >> 8), byte(seq),
		0, 0, 0, 1,
		0, 0, 0, 42,
	}
	return append(header, payload...)
}

func TestFrameCapturer_HandleRTPPacket_Codecs(t *testing.T) {
	for _, mime := range []string{"video/VP8", "video/VP9", "video/H264"} {
		capturer := NewFrameCapturer(CapturerConfig{StreamID: "cam-1"})
		if err := capturer.HandleRTPPacket(rtpPacket(1, []byte{0x10, 0x00}), mime); err != nil {
			t.Fatalf("%s: unexpected error %v", mime, err)
		}
		if capturer.sampleBuilder == nil {
			t.Errorf("%s: sampleBuilder should be created", mime)
		}
		if capturer.mimeType != mime {
			t.Errorf("expected mimeType %s, got %s", mime, capturer.mimeType)
		}
		capturer.Stop()
	}
}

func TestFrameCapturer_HandleRTPPacket_UnsupportedCodec(t *testing.T) {
	capturer := NewFrameCapturer(CapturerConfig{StreamID: "cam-1"})
	defer capturer.Stop()

	capturer.HandleRTPPacket(rtpPacket(1, []byte{0x01}), "video/UNSUPPORTED")
	if capturer.sampleBuilder != nil {
		t.Error("sampleBuilder should be nil for unsupported codec")
	}
}

func TestFrameCapturer_HandleRTPPacket_MimeTypeChange(t *testing.T) {
	capturer := NewFrameCapturer(CapturerConfig{StreamID: "cam-1"})
	defer capturer.Stop()

	capturer.HandleRTPPacket(rtpPacket(1, []byte{0x10}), "video/VP8")
	first := capturer.sampleBuilder
	capturer.HandleRTPPacket(rtpPacket(2, []byte{0x10}), "video/VP9")

	if capturer.sampleBuilder == first {
		t.Error("sampleBuilder should be recreated on mime type change")
	}
}

func TestFrameCapturer_HandlePacket_WhenStopped(t *testing.T) {
	capturer := NewFrameCapturer(CapturerConfig{StreamID: "cam-1"})
	capturer.Stop()

	capturer.HandleRTPPacket(rtpPacket(1, []byte{0x10}), "video/VP8")
	if capturer.sampleBuilder != nil {
		t.Error("stopped capturer should ignore packets")
	}
}

func TestFrameCapturer_ProcessFrame_WithDecoder(t *testing.T) {
	sink := newChanSink()
	decoder := &mockDecoder{
		decodeFunc: func(data []byte, mimeType string) (image.Image, error) {
			return image.NewRGBA(image.Rect(0, 0, 640, 480)), nil
		},
	}
	capturer := NewFrameCapturer(CapturerConfig{
		StreamID: "cam-1",
		Sink:     sink,
		Decoder:  decoder,
		Tasks:    []Task{TaskDescribe},
	})
	defer capturer.Stop()

	capturer.processFrame([]byte("encoded frame"), "video/VP8", 1234)

	frame := sink.next(t)
	if frame.StreamID != "cam-1" || frame.Timestamp != 1234 {
		t.Errorf("unexpected envelope: %+v", frame)
	}
	if frame.FrameID == "" {
		t.Error("expected a frame id")
	}
	if frame.Resolution != (Resolution{Width: 640, Height: 480}) {
		t.Errorf("unexpected resolution: %+v", frame.Resolution)
	}
	if len(frame.Data) < 3 || frame.Data[0] != 0xFF || frame.Data[1] != 0xD8 || frame.Data[2] != 0xFF {
		t.Error("expected frame data to be JPEG encoded")
	}
	if len(frame.Tasks) != 1 || frame.Tasks[0] != TaskDescribe {
		t.Errorf("expected configured tasks, got %v", frame.Tasks)
	}
}

func TestFrameCapturer_ProcessFrame_DecodeError(t *testing.T) {
	sink := newChanSink()
	decoder := &mockDecoder{
		decodeFunc: func([]byte, string) (image.Image, error) { return nil, errors.New("inter frame") },
	}
	capturer := NewFrameCapturer(CapturerConfig{StreamID: "cam-1", Sink: sink, Decoder: decoder})
	defer capturer.Stop()

	capturer.processFrame([]byte("delta"), "video/VP8", 1)
	select {
	case f := <-sink.frames:
		t.Errorf("undecodable frame should be dropped, got %+v", f)
	default:
	}
}

func TestFrameCapturer_ProcessFrame_NoDecoder(t *testing.T) {
	sink := newChanSink()
	capturer := NewFrameCapturer(CapturerConfig{StreamID: "cam-1", Sink: sink})
	defer capturer.Stop()

	capturer.processFrame([]byte("raw data"), "video/VP8", 1)

	frame := sink.next(t)
	if string(frame.Data) != "raw data" {
		t.Errorf("expected raw data passed through, got %s", string(frame.Data))
	}
}

func TestVPXDecoder_Rejects(t *testing.T) {
	d := NewVPXDecoder()
	if _, err := d.Decode(nil, "video/VP8"); err == nil {
		t.Error("expected error for empty data")
	}
	if _, err := d.Decode([]byte{1, 2, 3}, "video/H264"); !errors.Is(err, ErrUnsupportedCodec) {
		t.Errorf("expected ErrUnsupportedCodec, got %v", err)
	}
	if _, err := d.Decode([]byte{1, 2, 3}, "video/VP8"); err == nil {
		t.Error("expected error for truncated VP8 data")
	}
}
