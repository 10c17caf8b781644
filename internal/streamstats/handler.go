package streamstats

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/eleven-am/perception-backend/internal/shared"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	store  *Store
	logger *slog.Logger
}

func NewHandler(store *Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/streams/:id/stats", h.GetMetrics)
	g.GET("/streams/:id/stats/summary", h.GetSummary)
}

// @Summary      Hourly stream statistics
// @Tags         stats
// @Produce      json
// @Param        id     path   string  true   "Stream ID"
// @Param        hours  query  int     false  "Hours to look back (1-168)"
// @Success      200  {object}  MetricsListResponse
// @Failure      500  {object}  shared.APIError
// @Router       /v1/vision/streams/{id}/stats [get]
func (h *Handler) GetMetrics(c echo.Context) error {
	streamID := c.Param("id")

	hours := 24
	if hoursStr := c.QueryParam("hours"); hoursStr != "" {
		if hr, err := strconv.Atoi(hoursStr); err == nil && hr > 0 && hr <= 168 {
			hours = hr
		}
	}

	metrics, err := h.store.GetMetrics(c.Request().Context(), streamID, hours)
	if err != nil {
		h.logger.Error("failed to get stream metrics", "error", err, "stream_id", streamID)
		return shared.InternalError("get_metrics_failed", "failed to get metrics")
	}
	if metrics == nil {
		metrics = []*Metrics{}
	}

	return c.JSON(http.StatusOK, MetricsListResponse{
		StreamID: streamID,
		Hours:    hours,
		Metrics:  metrics,
	})
}

// @Summary      Seven day stream summary
// @Tags         stats
// @Produce      json
// @Param        id  path  string  true  "Stream ID"
// @Success      200  {object}  SummaryResponse
// @Failure      500  {object}  shared.APIError
// @Router       /v1/vision/streams/{id}/stats/summary [get]
func (h *Handler) GetSummary(c echo.Context) error {
	streamID := c.Param("id")

	metrics, err := h.store.GetMetricsForLast7Days(c.Request().Context(), streamID)
	if err != nil {
		h.logger.Error("failed to get stream summary", "error", err, "stream_id", streamID)
		return shared.InternalError("get_metrics_failed", "failed to get metrics")
	}

	summary := SummaryResponse{StreamID: streamID, Period: "7d"}
	var totalTime, timed int64
	for _, m := range metrics {
		summary.Frames += m.Frames
		summary.Analyses += m.Analyses
		summary.CacheHits += m.CacheHits
		summary.Unchanged += m.Unchanged
		summary.Skipped += m.SkippedNotWatch + m.SkippedRateLimit
		summary.Errors += m.Errors
		if m.AvgAnalysisTimeMs > 0 {
			totalTime += m.AvgAnalysisTimeMs
			timed++
		}
	}
	if timed > 0 {
		summary.AvgAnalysisTimeMs = totalTime / timed
	}
	if summary.Frames > 0 {
		summary.AnalysisRate = float64(summary.Analyses) / float64(summary.Frames)
	}

	return c.JSON(http.StatusOK, summary)
}
