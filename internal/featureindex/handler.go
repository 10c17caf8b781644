package featureindex

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/eleven-am/perception-backend/internal/framecache"
	"github.com/eleven-am/perception-backend/internal/shared"
	"github.com/labstack/echo/v4"
)

type SearchRequest struct {
	Digest   string    `json:"digest,omitempty"`
	Vector   []float32 `json:"vector,omitempty"`
	StreamID string    `json:"stream_id,omitempty"`
	Limit    int       `json:"limit,omitempty"`
}

type SearchResponse struct {
	Matches []Match `json:"matches"`
	Count   int     `json:"count"`
}

type Handler struct {
	index  *Index
	cache  framecache.Cache
	logger *slog.Logger
}

func NewHandler(index *Index, cache framecache.Cache, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{index: index, cache: cache, logger: logger}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/search", h.Search)
}

// @Summary      Find visually similar frames
// @Description  Searches indexed frame features by cached digest or raw vector
// @Tags         search
// @Accept       json
// @Produce      json
// @Param        request  body      SearchRequest  true  "Search query"
// @Success      200      {object}  SearchResponse
// @Failure      400      {object}  shared.APIError
// @Failure      404      {object}  shared.APIError
// @Failure      503      {object}  shared.APIError
// @Router       /v1/vision/search [post]
func (h *Handler) Search(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "Invalid request body")
	}
	ctx := c.Request().Context()

	vector := req.Vector
	if req.Digest != "" {
		rec, err := h.cache.Get(ctx, req.Digest)
		if err != nil {
			h.logger.Error("cache lookup failed", "error", err, "digest", req.Digest)
			return shared.InternalError("cache_failed", "failed to read frame cache")
		}
		if rec == nil {
			return shared.NotFound("frame_not_found", "digest is not cached")
		}
		if rec.Features == nil || len(rec.Features.Vector) == 0 {
			return shared.BadRequest("no_features", "cached frame has no feature vector")
		}
		vector = rec.Features.Vector
	}
	if len(vector) == 0 {
		return shared.BadRequest("missing_query", "digest or vector is required")
	}

	matches, err := h.index.Search(ctx, vector, req.StreamID, req.Limit)
	switch {
	case errors.Is(err, ErrNotConfigured):
		return shared.ServiceUnavailable("index_unavailable", "feature index is not configured")
	case errors.Is(err, ErrDimension):
		return shared.BadRequest("invalid_vector", err.Error())
	case err != nil:
		h.logger.Error("feature search failed", "error", err)
		return shared.InternalError("search_failed", "feature search failed")
	}

	return c.JSON(http.StatusOK, SearchResponse{Matches: matches, Count: len(matches)})
}
