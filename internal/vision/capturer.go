package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/perception-backend/internal/shared"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
)

// FrameSink receives captured frames. Ingest blocks until the frame has been
// handled.
type FrameSink interface {
	Ingest(ctx context.Context, frame *Frame)
}

type VideoDecoder interface {
	Decode(data []byte, mimeType string) (image.Image, error)
	Close() error
}

type CapturerConfig struct {
	StreamID      string
	Sink          FrameSink
	Decoder       VideoDecoder
	CaptureRate   time.Duration
	IngestTimeout time.Duration
	Tasks         []Task
	Logger        *slog.Logger
}

type capturedSample struct {
	data      []byte
	mimeType  string
	timestamp int64
}

// FrameCapturer reassembles RTP video into frames and hands at most one frame
// per capture interval to the sink. Frames arriving while the sink is busy
// are dropped.
type FrameCapturer struct {
	sink          FrameSink
	streamID      string
	tasks         []Task
	logger        *slog.Logger
	captureRate   time.Duration
	ingestTimeout time.Duration
	decoder       VideoDecoder

	mu            sync.Mutex
	sampleBuilder *samplebuilder.SampleBuilder
	lastCapture   time.Time
	mimeType      string
	stopped       bool
	dropped       int

	pending  chan capturedSample
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewFrameCapturer(cfg CapturerConfig) *FrameCapturer {
	if cfg.CaptureRate == 0 {
		cfg.CaptureRate = 2 * time.Second
	}
	if cfg.IngestTimeout == 0 {
		cfg.IngestTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &FrameCapturer{
		sink:          cfg.Sink,
		streamID:      cfg.StreamID,
		tasks:         cfg.Tasks,
		logger:        cfg.Logger.With("component", "frame-capturer", "stream_id", cfg.StreamID),
		captureRate:   cfg.CaptureRate,
		ingestTimeout: cfg.IngestTimeout,
		decoder:       cfg.Decoder,
		pending:       make(chan capturedSample, 1),
		done:          make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// HandleRTPPacket parses a complete RTP packet (header and payload).
func (c *FrameCapturer) HandleRTPPacket(raw []byte, mimeType string) error {
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(raw); err != nil {
		return fmt.Errorf("unmarshal rtp: %w", err)
	}
	c.HandlePacket(pkt, mimeType)
	return nil
}

func (c *FrameCapturer) HandlePacket(pkt *rtp.Packet, mimeType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}

	if c.sampleBuilder == nil || c.mimeType != mimeType {
		c.mimeType = mimeType
		c.sampleBuilder = c.createSampleBuilder(mimeType)
		if c.sampleBuilder == nil {
			return
		}
	}

	c.sampleBuilder.Push(pkt)

	for {
		sample := c.sampleBuilder.Pop()
		if sample == nil {
			break
		}

		now := time.Now()
		if now.Sub(c.lastCapture) < c.captureRate {
			continue
		}

		select {
		case c.pending <- capturedSample{data: sample.Data, mimeType: mimeType, timestamp: now.UnixMilli()}:
			c.lastCapture = now
		default:
			c.dropped++
			c.logger.Debug("sink busy, frame dropped", "dropped", c.dropped)
		}
	}
}

func (c *FrameCapturer) createSampleBuilder(mimeType string) *samplebuilder.SampleBuilder {
	switch mimeType {
	case "video/VP8":
		return samplebuilder.New(64, &codecs.VP8Packet{}, 90000)
	case "video/VP9":
		return samplebuilder.New(64, &codecs.VP9Packet{}, 90000)
	case "video/H264":
		return samplebuilder.New(64, &codecs.H264Packet{}, 90000)
	default:
		c.logger.Warn("unsupported video codec", "mime_type", mimeType)
		return nil
	}
}

func (c *FrameCapturer) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case s := <-c.pending:
			c.processFrame(s.data, s.mimeType, s.timestamp)
		}
	}
}

func (c *FrameCapturer) processFrame(data []byte, mimeType string, timestamp int64) {
	frame := &Frame{
		StreamID:  c.streamID,
		FrameID:   shared.NewID("frm_"),
		Timestamp: timestamp,
		Tasks:     c.tasks,
		Data:      data,
	}

	if c.decoder != nil {
		img, err := c.decoder.Decode(data, mimeType)
		if err != nil {
			c.logger.Debug("frame decode failed", "error", err)
			return
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
			c.logger.Debug("jpeg encode failed", "error", err)
			return
		}
		frame.Data = buf.Bytes()
		frame.Resolution = Resolution{Width: img.Bounds().Dx(), Height: img.Bounds().Dy()}
	}

	if c.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.ingestTimeout)
	defer cancel()
	c.sink.Ingest(ctx, frame)
}

func (c *FrameCapturer) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *FrameCapturer) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()

		close(c.done)
		c.wg.Wait()
		if c.decoder != nil {
			c.decoder.Close()
		}
	})
}
