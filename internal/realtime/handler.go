package realtime

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/eleven-am/perception-backend/internal/shared"
	"github.com/eleven-am/perception-backend/internal/vision"
	"github.com/labstack/echo/v4"
	"github.com/pion/webrtc/v4"
)

const defaultMaxSDPSize = 64 * 1024

type Handler struct {
	manager *Manager
	log     *slog.Logger
}

func NewHandler(mgr *Manager, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{manager: mgr, log: log}
}

type OfferRequest struct {
	SDP        string   `json:"sdp"`
	Tasks      []string `json:"tasks,omitempty"`
	IntervalMs int      `json:"interval_ms,omitempty"`
}

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type ICECandidateRequest struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

type ICEServersResponse struct {
	ICEServers []ICEServer `json:"ice_servers"`
}

type SessionListResponse struct {
	Sessions []SessionInfo `json:"sessions"`
	Count    int           `json:"count"`
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/streams/:id/webrtc", h.HandleOffer)
	g.GET("/webrtc", h.ListSessions)
	g.POST("/webrtc/:session_id/candidates", h.HandleICECandidate)
	g.GET("/webrtc/:session_id/candidates", h.HandleICEStream)
	g.DELETE("/webrtc/:session_id", h.CloseSession)
	g.GET("/ice-servers", h.HandleICEServers)
}

// @Summary      Start WebRTC video ingest
// @Description  Accepts an SDP offer (application/sdp or JSON) and answers with a receive-only session. Sampled frames enter the stream pipeline.
// @Tags         webrtc
// @Accept       json
// @Produce      plain
// @Param        id       path      string        true  "Stream ID"
// @Param        request  body      OfferRequest  true  "SDP offer"
// @Success      200      {string}  string        "SDP answer"
// @Failure      400      {object}  shared.APIError
// @Router       /v1/vision/streams/{id}/webrtc [post]
func (h *Handler) HandleOffer(c echo.Context) error {
	streamID := c.Param("id")

	req, err := h.extractRequest(c)
	if err != nil {
		return shared.BadRequest("invalid_offer", err.Error())
	}
	if req.SDP == "" {
		return shared.BadRequest("missing_sdp", "sdp is required")
	}
	for _, t := range req.Tasks {
		if !vision.Task(t).Valid() {
			return shared.BadRequest("invalid_tasks", fmt.Sprintf("unknown task %q", t))
		}
	}
	if req.IntervalMs < 0 {
		return shared.BadRequest("invalid_interval", "interval_ms must not be negative")
	}

	session, answer, err := h.manager.Open(streamID, req.SDP, OfferOptions{
		Tasks:           vision.ParseTasks(req.Tasks),
		CaptureInterval: time.Duration(req.IntervalMs) * time.Millisecond,
	})
	if err != nil {
		h.log.Error("webrtc negotiation failed", "stream_id", streamID, "error", err)
		return shared.BadRequest("negotiation_failed", "failed to process offer")
	}

	h.log.Info("webrtc ingest opened", "session_id", session.ID, "stream_id", streamID)
	c.Response().Header().Set("X-Session-Id", session.ID)
	c.Response().Header().Set("Location", "/v1/vision/webrtc/"+session.ID)
	return c.Blob(http.StatusOK, "application/sdp", []byte(answer))
}

// @Summary      List WebRTC ingest sessions
// @Tags         webrtc
// @Produce      json
// @Success      200  {object}  SessionListResponse
// @Router       /v1/vision/webrtc [get]
func (h *Handler) ListSessions(c echo.Context) error {
	sessions := h.manager.Sessions()
	return c.JSON(http.StatusOK, SessionListResponse{Sessions: sessions, Count: len(sessions)})
}

// @Summary      Add a remote ICE candidate
// @Tags         webrtc
// @Accept       json
// @Param        session_id  path  string               true  "Session ID"
// @Param        request     body  ICECandidateRequest  true  "Candidate"
// @Success      204
// @Failure      404  {object}  shared.APIError
// @Router       /v1/vision/webrtc/{session_id}/candidates [post]
func (h *Handler) HandleICECandidate(c echo.Context) error {
	session, ok := h.manager.GetSession(c.Param("session_id"))
	if !ok {
		return shared.NotFound("session_not_found", "session not found")
	}

	var req ICECandidateRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "Invalid request body")
	}

	candidate := webrtc.ICECandidateInit{
		Candidate:     req.Candidate,
		SDPMid:        req.SDPMid,
		SDPMLineIndex: req.SDPMLineIndex,
	}
	if err := session.peer.AddICECandidate(candidate); err != nil {
		h.log.Debug("failed to add ICE candidate", "session_id", session.ID, "error", err)
		return shared.BadRequest("invalid_candidate", "failed to add candidate")
	}
	return c.NoContent(http.StatusNoContent)
}

// @Summary      Stream local ICE candidates
// @Tags         webrtc
// @Produce      text/event-stream
// @Param        session_id  path  string  true  "Session ID"
// @Success      200
// @Failure      404  {object}  shared.APIError
// @Router       /v1/vision/webrtc/{session_id}/candidates [get]
func (h *Handler) HandleICEStream(c echo.Context) error {
	session, ok := h.manager.GetSession(c.Param("session_id"))
	if !ok {
		return shared.NotFound("session_not_found", "session not found")
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-session.Done():
			return nil
		case candidate, ok := <-session.ICECandidates():
			if !ok {
				return nil
			}
			data, err := json.Marshal(candidate)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Response(), "event: ice-candidate\ndata: %s\n\n", data)
			c.Response().Flush()
		}
	}
}

// @Summary      Close a WebRTC ingest session
// @Tags         webrtc
// @Param        session_id  path  string  true  "Session ID"
// @Success      204
// @Failure      404  {object}  shared.APIError
// @Router       /v1/vision/webrtc/{session_id} [delete]
func (h *Handler) CloseSession(c echo.Context) error {
	if !h.manager.RemoveSession(c.Param("session_id")) {
		return shared.NotFound("session_not_found", "session not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// @Summary      ICE servers for WebRTC clients
// @Tags         webrtc
// @Produce      json
// @Success      200  {object}  ICEServersResponse
// @Router       /v1/vision/ice-servers [get]
func (h *Handler) HandleICEServers(c echo.Context) error {
	return c.JSON(http.StatusOK, ICEServersResponse{ICEServers: h.iceServersResponse()})
}

func (h *Handler) maxSDPSize() int64 {
	maxSize := h.manager.Config().MaxSDPSize
	if maxSize <= 0 {
		maxSize = defaultMaxSDPSize
	}
	return int64(maxSize)
}

func (h *Handler) iceServersResponse() []ICEServer {
	cfgServers := h.manager.ICEServers()
	servers := make([]ICEServer, 0, len(cfgServers))
	for _, s := range cfgServers {
		servers = append(servers, ICEServer(s))
	}
	return servers
}

func (h *Handler) extractRequest(c echo.Context) (OfferRequest, error) {
	contentType := c.Request().Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, h.maxSDPSize()))
	if err != nil {
		return OfferRequest{}, fmt.Errorf("failed to read request body: %w", err)
	}

	switch mediaType {
	case "application/sdp":
		return OfferRequest{SDP: string(body)}, nil
	case "application/json", "":
		var req OfferRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return OfferRequest{}, fmt.Errorf("invalid JSON body: %w", err)
		}
		return req, nil
	default:
		return OfferRequest{}, fmt.Errorf("unsupported content type: %s", contentType)
	}
}
