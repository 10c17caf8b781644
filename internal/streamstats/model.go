package streamstats

import (
	"strconv"

	"github.com/eleven-am/perception-backend/internal/processor"
)

// Metrics is one hour of counters for one stream.
type Metrics struct {
	StreamID          string `json:"stream_id"`
	Date              string `json:"date"`
	Hour              int    `json:"hour"`
	Frames            int64  `json:"frames"`
	UniqueFrames      int64  `json:"unique_frames"`
	Analyses          int64  `json:"analyses"`
	CacheHits         int64  `json:"cache_hits"`
	Unchanged         int64  `json:"unchanged"`
	SkippedNotWatch   int64  `json:"skipped_not_watching"`
	SkippedRateLimit  int64  `json:"skipped_rate_limited"`
	Errors            int64  `json:"errors"`
	ProfileUpdates    int64  `json:"profile_updates"`
	AvgAnalysisTimeMs int64  `json:"avg_analysis_time_ms"`
}

type MetricsListResponse struct {
	StreamID string     `json:"stream_id"`
	Hours    int        `json:"hours"`
	Metrics  []*Metrics `json:"metrics"`
}

type SummaryResponse struct {
	StreamID          string  `json:"stream_id"`
	Period            string  `json:"period"`
	Frames            int64   `json:"frames"`
	Analyses          int64   `json:"analyses"`
	CacheHits         int64   `json:"cache_hits"`
	Unchanged         int64   `json:"unchanged"`
	Skipped           int64   `json:"skipped"`
	Errors            int64   `json:"errors"`
	AvgAnalysisTimeMs int64   `json:"avg_analysis_time_ms"`
	AnalysisRate      float64 `json:"analysis_rate"`
}

const (
	fieldFrames           = "frames"
	fieldUniqueFrames     = "unique_frames"
	fieldAnalyses         = "analyses"
	fieldCacheHits        = "cache_hits"
	fieldUnchanged        = "unchanged"
	fieldSkippedNotWatch  = "skipped_not_watching"
	fieldSkippedRateLimit = "skipped_rate_limited"
	fieldErrors           = "errors"
	fieldProfileUpdates   = "profile_updates"
	fieldTotalAnalysisMs  = "total_analysis_ms"
	fieldAnalysisCount    = "analysis_count"
)

// fieldFor maps an event to the counter it increments. Events that end a
// frame's pipeline also count the frame.
func fieldFor(ev processor.Event) (field string, endsFrame bool) {
	switch ev.Type {
	case processor.EventAnalysisCompleted:
		return fieldAnalyses, true
	case processor.EventCachedResultUsed:
		return fieldCacheHits, true
	case processor.EventNoSignificantChange:
		return fieldUnchanged, true
	case processor.EventFrameError:
		return fieldErrors, true
	case processor.EventProcessingSkipped:
		switch ev.Reason {
		case processor.SkipNotWatching:
			return fieldSkippedNotWatch, true
		case processor.SkipRateLimited:
			return fieldSkippedRateLimit, true
		}
		return "", false
	case processor.EventProfileUpdated:
		return fieldProfileUpdates, false
	}
	return "", false
}

func MetricsRedisKey(streamID, date string, hour int) string {
	return "stream:" + streamID + ":stats:" + date + ":" + strconv.Itoa(hour)
}

func digestsRedisKey(streamID, date string, hour int) string {
	return "stream:" + streamID + ":digests:" + date + ":" + strconv.Itoa(hour)
}
