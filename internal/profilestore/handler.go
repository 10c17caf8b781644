package profilestore

import (
	"errors"
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
	g.GET("/profiles/:id/history", h.GetHistory)
	g.GET("/profiles/:id/latest", h.GetLatest)
}

// @Summary      Archived profile updates
// @Tags         profiles
// @Produce      json
// @Param        id     path   string  true   "Profile ID"
// @Param        limit  query  int     false  "Maximum snapshots (1-500)"
// @Success      200  {object}  HistoryResponse
// @Failure      500  {object}  shared.APIError
// @Router       /v1/vision/profiles/{id}/history [get]
func (h *Handler) GetHistory(c echo.Context) error {
	profileID := c.Param("id")

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		if l, err := strconv.Atoi(raw); err == nil && l > 0 && l <= 500 {
			limit = l
		}
	}

	snaps, err := h.store.History(c.Request().Context(), profileID, limit)
	if err != nil {
		h.logger.Error("failed to load profile history", "error", err, "profile_id", profileID)
		return shared.InternalError("history_failed", "failed to load profile history")
	}
	if snaps == nil {
		snaps = []*ProfileSnapshot{}
	}
	return c.JSON(http.StatusOK, HistoryResponse{ProfileID: profileID, Snapshots: snaps})
}

// @Summary      Latest archived profile update
// @Tags         profiles
// @Produce      json
// @Param        id  path  string  true  "Profile ID"
// @Success      200  {object}  ProfileSnapshot
// @Failure      404  {object}  shared.APIError
// @Router       /v1/vision/profiles/{id}/latest [get]
func (h *Handler) GetLatest(c echo.Context) error {
	profileID := c.Param("id")
	snap, err := h.store.Latest(c.Request().Context(), profileID)
	if errors.Is(err, shared.ErrNotFound) {
		return shared.NotFound("profile_not_found", "no snapshots for profile")
	}
	if err != nil {
		h.logger.Error("failed to load latest profile", "error", err, "profile_id", profileID)
		return shared.InternalError("latest_failed", "failed to load profile")
	}
	return c.JSON(http.StatusOK, snap)
}
