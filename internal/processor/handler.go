package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eleven-am/perception-backend/internal/shared"
	"github.com/eleven-am/perception-backend/internal/vision"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	maxFrameBytes        = 16 << 20
	sseKeepAliveInterval = 30 * time.Second
	wsWriteTimeout       = 10 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WatchingRequest struct {
	Watching bool `json:"watching"`
}

type ProfileBindingRequest struct {
	ProfileID string `json:"profile_id" example:"lobby-camera"`
}

type EventsResponse struct {
	StreamID string  `json:"stream_id"`
	Events   []Event `json:"events"`
}

type StreamListResponse struct {
	Streams []StreamStatus `json:"streams"`
	Count   int            `json:"count"`
}

// StreamControl is a text message on the frame websocket.
type StreamControl struct {
	Action string        `json:"action"`
	Tasks  []vision.Task `json:"tasks,omitempty"`
}

const (
	controlWatch   = "watch"
	controlUnwatch = "unwatch"
	controlAnalyze = "analyze"
)

type Handler struct {
	svc    *Service
	logger *slog.Logger
}

func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:    svc,
		logger: logger.With("component", "vision_handler"),
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/streams", h.ListStreams)
	g.GET("/streams/:id", h.GetStream)
	g.DELETE("/streams/:id", h.RemoveStream)
	g.POST("/streams/:id/frames", h.SubmitFrame)
	g.POST("/streams/:id/analyze", h.AnalyzeFrame)
	g.PUT("/streams/:id/watching", h.SetWatching)
	g.PUT("/streams/:id/profile", h.BindProfile)
	g.GET("/streams/:id/profile", h.GetProfile)
	g.DELETE("/streams/:id/profile", h.ResetProfile)
	g.GET("/streams/:id/ws", h.HandleStream)
	g.GET("/streams/:id/rtp", h.HandleRTP)
	g.GET("/events", h.HandleEvents)
	g.GET("/cache/stats", h.CacheStats)
	g.POST("/cache/prune", h.PruneCache)
}

// @Summary      Submit a frame
// @Description  Runs change detection on one frame and returns the events it produced
// @Tags         vision
// @Accept       octet-stream
// @Produce      json
// @Param        id                 path    string  true   "Stream ID"
// @Param        X-Frame-ID         header  string  false  "Frame ID"
// @Param        X-Correlation-ID   header  string  false  "Correlation ID"
// @Param        X-Frame-Timestamp  header  int     false  "Capture time, unix milliseconds"
// @Param        X-Frame-Resolution header  string  false  "WIDTHxHEIGHT"
// @Param        X-Frame-Digest     header  string  false  "Precomputed content digest"
// @Param        tasks              query   string  false  "Comma separated vision tasks"
// @Success      200  {object}  EventsResponse
// @Failure      400  {object}  shared.APIError
// @Router       /v1/vision/streams/{id}/frames [post]
func (h *Handler) SubmitFrame(c echo.Context) error {
	frame, err := h.readFrame(c)
	if err != nil {
		return err
	}
	return h.collect(c, frame, h.svc.Process)
}

// @Summary      Analyze a frame now
// @Description  Bypasses watching, rate limiting, cache and differencing and always calls the provider
// @Tags         vision
// @Accept       octet-stream
// @Produce      json
// @Param        id     path   string  true   "Stream ID"
// @Param        tasks  query  string  false  "Comma separated vision tasks"
// @Success      200  {object}  EventsResponse
// @Failure      400  {object}  shared.APIError
// @Router       /v1/vision/streams/{id}/analyze [post]
func (h *Handler) AnalyzeFrame(c echo.Context) error {
	frame, err := h.readFrame(c)
	if err != nil {
		return err
	}
	return h.collect(c, frame, h.svc.Analyze)
}

func (h *Handler) collect(c echo.Context, frame *vision.Frame, run func(ctx context.Context, f *vision.Frame) <-chan Event) error {
	events := make([]Event, 0, 4)
	for ev := range run(c.Request().Context(), frame) {
		events = append(events, ev)
	}
	return c.JSON(http.StatusOK, EventsResponse{StreamID: frame.StreamID, Events: events})
}

func (h *Handler) readFrame(c echo.Context) (*vision.Frame, error) {
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxFrameBytes+1))
	if err != nil {
		return nil, shared.BadRequest("read_failed", "failed to read frame body")
	}
	if len(data) == 0 {
		return nil, shared.BadRequest("empty_frame", "frame body is empty")
	}
	if len(data) > maxFrameBytes {
		return nil, shared.NewAPIError("frame_too_large", "frame exceeds size limit").ToHTTP(http.StatusRequestEntityTooLarge)
	}

	req := c.Request()
	frame := &vision.Frame{
		StreamID:      c.Param("id"),
		FrameID:       req.Header.Get("X-Frame-ID"),
		CorrelationID: req.Header.Get("X-Correlation-ID"),
		Digest:        req.Header.Get("X-Frame-Digest"),
		Data:          data,
	}
	if frame.FrameID == "" {
		frame.FrameID = shared.NewID("frm_")
	}

	if ts := req.Header.Get("X-Frame-Timestamp"); ts != "" {
		v, err := strconv.ParseInt(ts, 10, 64)
		if err != nil || v < 0 {
			return nil, shared.BadRequest("invalid_timestamp", "X-Frame-Timestamp must be unix milliseconds")
		}
		frame.Timestamp = v
	}
	if res := req.Header.Get("X-Frame-Resolution"); res != "" {
		r, err := parseResolution(res)
		if err != nil {
			return nil, shared.BadRequest("invalid_resolution", err.Error())
		}
		frame.Resolution = r
	}

	tasks, err := parseTaskParam(c.QueryParam("tasks"))
	if err != nil {
		return nil, shared.BadRequest("invalid_tasks", err.Error())
	}
	frame.Tasks = tasks
	return frame, nil
}

func parseResolution(s string) (vision.Resolution, error) {
	w, hgt, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return vision.Resolution{}, fmt.Errorf("resolution %q is not WIDTHxHEIGHT", s)
	}
	width, err1 := strconv.Atoi(strings.TrimSpace(w))
	height, err2 := strconv.Atoi(strings.TrimSpace(hgt))
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return vision.Resolution{}, fmt.Errorf("resolution %q is not WIDTHxHEIGHT", s)
	}
	return vision.Resolution{Width: width, Height: height}, nil
}

func parseTaskParam(raw string) ([]vision.Task, error) {
	if raw == "" {
		return nil, nil
	}
	names := strings.Split(raw, ",")
	for i := range names {
		names[i] = strings.TrimSpace(names[i])
		if !vision.Task(names[i]).Valid() {
			return nil, fmt.Errorf("unknown task %q", names[i])
		}
	}
	return vision.ParseTasks(names), nil
}

// @Summary      List streams
// @Tags         vision
// @Produce      json
// @Success      200  {object}  StreamListResponse
// @Router       /v1/vision/streams [get]
func (h *Handler) ListStreams(c echo.Context) error {
	streams := h.svc.Streams()
	return c.JSON(http.StatusOK, StreamListResponse{Streams: streams, Count: len(streams)})
}

// @Summary      Get stream status
// @Tags         vision
// @Produce      json
// @Param        id  path  string  true  "Stream ID"
// @Success      200  {object}  StreamStatus
// @Failure      404  {object}  shared.APIError
// @Router       /v1/vision/streams/{id} [get]
func (h *Handler) GetStream(c echo.Context) error {
	status, ok := h.svc.StreamStatus(c.Param("id"))
	if !ok {
		return shared.NotFound("stream_not_found", "stream not found")
	}
	return c.JSON(http.StatusOK, status)
}

// @Summary      Drop stream state
// @Tags         vision
// @Param        id  path  string  true  "Stream ID"
// @Success      204  "No Content"
// @Failure      404  {object}  shared.APIError
// @Router       /v1/vision/streams/{id} [delete]
func (h *Handler) RemoveStream(c echo.Context) error {
	if !h.svc.RemoveStream(c.Param("id")) {
		return shared.NotFound("stream_not_found", "stream not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// @Summary      Start or stop watching a stream
// @Tags         vision
// @Accept       json
// @Produce      json
// @Param        id       path  string           true  "Stream ID"
// @Param        request  body  WatchingRequest  true  "Watching flag"
// @Success      200  {object}  StreamStatus
// @Failure      400  {object}  shared.APIError
// @Router       /v1/vision/streams/{id}/watching [put]
func (h *Handler) SetWatching(c echo.Context) error {
	var req WatchingRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}
	return c.JSON(http.StatusOK, h.svc.SetWatching(c.Param("id"), req.Watching))
}

// @Summary      Bind a stream to a calibration profile
// @Tags         vision
// @Accept       json
// @Produce      json
// @Param        id       path  string                 true  "Stream ID"
// @Param        request  body  ProfileBindingRequest  true  "Profile binding"
// @Success      200  {object}  StreamStatus
// @Failure      400  {object}  shared.APIError
// @Router       /v1/vision/streams/{id}/profile [put]
func (h *Handler) BindProfile(c echo.Context) error {
	var req ProfileBindingRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.ProfileID) == "" {
		return shared.BadRequest("invalid_request", "profile_id is required")
	}
	return c.JSON(http.StatusOK, h.svc.BindProfile(c.Param("id"), req.ProfileID))
}

// @Summary      Get a stream's environment profile
// @Tags         vision
// @Produce      json
// @Param        id  path  string  true  "Stream ID"
// @Success      200  {object}  calibration.Profile
// @Router       /v1/vision/streams/{id}/profile [get]
func (h *Handler) GetProfile(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Profile(c.Param("id")))
}

// @Summary      Reset a stream's calibration
// @Tags         vision
// @Produce      json
// @Param        id  path  string  true  "Stream ID"
// @Success      200  {object}  calibration.Profile
// @Router       /v1/vision/streams/{id}/profile [delete]
func (h *Handler) ResetProfile(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.ResetProfile(c.Param("id")))
}

// @Summary      Frame cache statistics
// @Tags         vision
// @Produce      json
// @Success      200  {object}  framecache.Stats
// @Failure      503  {object}  shared.APIError
// @Router       /v1/vision/cache/stats [get]
func (h *Handler) CacheStats(c echo.Context) error {
	stats, err := h.svc.Cache().Stats(c.Request().Context())
	if err != nil {
		h.logger.Error("failed to read cache stats", "error", err)
		return shared.ServiceUnavailable("cache_unavailable", "frame cache unavailable")
	}
	return c.JSON(http.StatusOK, stats)
}

// @Summary      Prune the frame cache
// @Tags         vision
// @Produce      json
// @Success      200  {object}  framecache.PruneResult
// @Failure      503  {object}  shared.APIError
// @Router       /v1/vision/cache/prune [post]
func (h *Handler) PruneCache(c echo.Context) error {
	res, err := h.svc.Cache().Prune(c.Request().Context())
	if err != nil {
		h.logger.Error("failed to prune cache", "error", err)
		return shared.ServiceUnavailable("cache_unavailable", "frame cache unavailable")
	}
	return c.JSON(http.StatusOK, res)
}

// HandleEvents streams bus events as server-sent events, optionally limited
// to one stream with ?stream=.
func (h *Handler) HandleEvents(c echo.Context) error {
	events, cancel, err := h.svc.Bus().Subscribe(c.QueryParam("stream"), 64)
	if err != nil {
		return shared.ServiceUnavailable("shutting_down", "event bus is closed")
	}
	defer cancel()

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ticker := time.NewTicker(sseKeepAliveInterval)
	defer ticker.Stop()
	ctx := c.Request().Context()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeSSE(w, ev); err != nil {
				return nil
			}
		case <-ticker.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return nil
			}
			w.Flush()
		case <-ctx.Done():
			return nil
		}
	}
}

func writeSSE(w *echo.Response, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// HandleStream upgrades to a websocket where binary messages are frames and
// text messages are StreamControl commands. Events are written back as JSON.
func (h *Handler) HandleStream(c echo.Context) error {
	streamID := c.Param("id")
	tasks, err := parseTaskParam(c.QueryParam("tasks"))
	if err != nil {
		return shared.BadRequest("invalid_tasks", err.Error())
	}

	ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return err
	}
	defer ws.Close()
	ws.SetReadLimit(maxFrameBytes)

	h.logger.Info("frame stream connected", "stream_id", streamID)
	ctx := c.Request().Context()
	explicitNext := false
	nextTasks := tasks

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("frame stream read failed", "stream_id", streamID, "error", err)
			}
			break
		}

		if msgType == websocket.TextMessage {
			var ctl StreamControl
			if err := json.Unmarshal(data, &ctl); err != nil {
				h.logger.Debug("invalid control message", "stream_id", streamID, "error", err)
				continue
			}
			switch ctl.Action {
			case controlWatch:
				h.svc.SetWatching(streamID, true)
			case controlUnwatch:
				h.svc.SetWatching(streamID, false)
			case controlAnalyze:
				explicitNext = true
				if len(ctl.Tasks) > 0 {
					nextTasks = vision.ParseTasks(taskNames(ctl.Tasks))
				}
			default:
				h.logger.Debug("unknown control action", "stream_id", streamID, "action", ctl.Action)
			}
			continue
		}

		frame := &vision.Frame{
			StreamID: streamID,
			FrameID:  shared.NewID("frm_"),
			Tasks:    nextTasks,
			Data:     data,
		}
		run := h.svc.Process
		if explicitNext {
			run = h.svc.Analyze
			explicitNext = false
			nextTasks = tasks
		}
		for ev := range run(ctx, frame) {
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := ws.WriteJSON(ev); err != nil {
				h.logger.Debug("frame stream write failed", "stream_id", streamID, "error", err)
			}
		}
	}

	h.logger.Info("frame stream disconnected", "stream_id", streamID)
	return nil
}

func taskNames(tasks []vision.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = string(t)
	}
	return out
}

// HandleRTP upgrades to a websocket carrying raw RTP video packets, one per
// binary message. Captured frames go through the normal pipeline and their
// events reach bus subscribers.
func (h *Handler) HandleRTP(c echo.Context) error {
	streamID := c.Param("id")
	codec := c.QueryParam("codec")
	if codec == "" {
		codec = "video/VP8"
	}
	switch codec {
	case "video/VP8", "video/VP9", "video/H264":
	default:
		return shared.BadRequest("unsupported_codec", "codec must be video/VP8, video/VP9 or video/H264")
	}
	tasks, err := parseTaskParam(c.QueryParam("tasks"))
	if err != nil {
		return shared.BadRequest("invalid_tasks", err.Error())
	}

	interval := 2 * time.Second
	if raw := c.QueryParam("interval_ms"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			return shared.BadRequest("invalid_interval", "interval_ms must be a positive integer")
		}
		interval = time.Duration(ms) * time.Millisecond
	}

	ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return err
	}
	defer ws.Close()

	var decoder vision.VideoDecoder
	if codec == "video/VP8" {
		decoder = vision.NewVPXDecoder()
	}
	capturer := vision.NewFrameCapturer(vision.CapturerConfig{
		StreamID:    streamID,
		Sink:        h.svc,
		Decoder:     decoder,
		CaptureRate: interval,
		Tasks:       tasks,
		Logger:      h.logger,
	})
	defer capturer.Stop()

	h.logger.Info("rtp stream connected", "stream_id", streamID, "codec", codec)
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if err := capturer.HandleRTPPacket(data, codec); err != nil {
			h.logger.Debug("invalid rtp packet", "stream_id", streamID, "error", err)
		}
	}
	h.logger.Info("rtp stream disconnected", "stream_id", streamID, "dropped", capturer.Dropped())
	return nil
}
