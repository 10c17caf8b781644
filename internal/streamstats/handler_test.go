package streamstats

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/eleven-am/perception-backend/internal/processor"
	"github.com/eleven-am/perception-backend/internal/vision"
	"github.com/labstack/echo/v4"
)

func TestHandler_GetMetrics(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	_ = s.Record(ctx, processor.Event{Type: processor.EventAnalysisCompleted, StreamID: "cam", Digest: "a", Result: &vision.AnalysisResult{ProcessingTimeMs: 50}})
	_ = s.Record(ctx, processor.Event{Type: processor.EventCachedResultUsed, StreamID: "cam", Digest: "a"})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := echo.New()
	NewHandler(s, logger).RegisterRoutes(e.Group("/v1/vision"))

	req := httptest.NewRequest(http.MethodGet, "/v1/vision/streams/cam/stats?hours=999", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp MetricsListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Hours != 24 {
		t.Errorf("out of range hours should fall back to 24, got %d", resp.Hours)
	}
	if len(resp.Metrics) != 1 || resp.Metrics[0].Frames != 2 {
		t.Errorf("unexpected metrics %+v", resp.Metrics)
	}
}

func TestHandler_GetSummary(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	_ = s.Record(ctx, processor.Event{Type: processor.EventAnalysisCompleted, StreamID: "cam", Digest: "a", Result: &vision.AnalysisResult{ProcessingTimeMs: 80}})
	_ = s.Record(ctx, processor.Event{Type: processor.EventNoSignificantChange, StreamID: "cam", Digest: "b"})
	_ = s.Record(ctx, processor.Event{Type: processor.EventProcessingSkipped, StreamID: "cam", Reason: processor.SkipRateLimited})
	_ = s.Record(ctx, processor.Event{Type: processor.EventNoSignificantChange, StreamID: "cam", Digest: "c"})

	e := echo.New()
	NewHandler(s, nil).RegisterRoutes(e.Group("/v1/vision"))

	req := httptest.NewRequest(http.MethodGet, "/v1/vision/streams/cam/stats/summary", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var summary SummaryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.Frames != 4 || summary.Analyses != 1 || summary.Skipped != 1 || summary.Unchanged != 2 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if summary.AnalysisRate != 0.25 {
		t.Errorf("expected analysis rate 0.25, got %v", summary.AnalysisRate)
	}
	if summary.AvgAnalysisTimeMs != 80 {
		t.Errorf("expected avg 80ms, got %d", summary.AvgAnalysisTimeMs)
	}
}
