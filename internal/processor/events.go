package processor

import (
	"github.com/eleven-am/perception-backend/internal/calibration"
	"github.com/eleven-am/perception-backend/internal/difference"
	"github.com/eleven-am/perception-backend/internal/vision"
)

type EventType string

const (
	EventNoSignificantChange EventType = "no-significant-change"
	EventAnalysisStarted     EventType = "analysis-started"
	EventAnalysisCompleted   EventType = "analysis-completed"
	EventCachedResultUsed    EventType = "cached-result-used"
	EventProcessingSkipped   EventType = "processing-skipped"
	EventFrameError          EventType = "frame-processing-error"
	EventProfileUpdated      EventType = "environment-profile-updated"
)

type SkipReason string

const (
	SkipNotWatching SkipReason = "not-watching"
	SkipRateLimited SkipReason = "rate-limited"
	SkipShutdown    SkipReason = "shutdown"
)

// Trigger says why a frame went to full analysis.
type Trigger string

const (
	TriggerNoReference       Trigger = "no-reference"
	TriggerSignificantChange Trigger = "significant-change"
	TriggerCompareFailed     Trigger = "compare-failed"
	TriggerExplicit          Trigger = "explicit"
)

type Event struct {
	Type          EventType              `json:"type"`
	Timestamp     int64                  `json:"timestamp"`
	StreamID      string                 `json:"stream_id,omitempty"`
	FrameID       string                 `json:"frame_id,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Digest        string                 `json:"digest,omitempty"`
	Reason        SkipReason             `json:"reason,omitempty"`
	Trigger       Trigger                `json:"trigger,omitempty"`
	Score         *difference.Score      `json:"score,omitempty"`
	Result        *vision.AnalysisResult `json:"result,omitempty"`
	Profile       *calibration.Profile   `json:"profile,omitempty"`
	Error         *FrameError            `json:"error,omitempty"`
}
