package health

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven-am/perception-backend/internal/framecache"
	"github.com/eleven-am/perception-backend/internal/processor"
	"github.com/eleven-am/perception-backend/internal/router"
	"github.com/labstack/echo/v4"
	"github.com/qdrant/go-client/qdrant"
	"github.com/redis/go-redis/v9"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type ComponentStatus struct {
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type RuntimeStats struct {
	Goroutines         int    `json:"goroutines"`
	MemoryAllocMB      uint64 `json:"memory_alloc_mb"`
	MemoryTotalAllocMB uint64 `json:"memory_total_alloc_mb"`
	MemorySysMB        uint64 `json:"memory_sys_mb"`
	NumGC              uint32 `json:"num_gc"`
}

type StreamStats struct {
	Active   int `json:"active"`
	Watching int `json:"watching"`
}

type RequestStats struct {
	TotalRequests     uint64 `json:"total_requests"`
	ActiveConnections int64  `json:"active_connections"`
}

type Stats struct {
	Streams  StreamStats        `json:"streams"`
	Cache    *framecache.Stats  `json:"cache,omitempty"`
	Events   processor.BusStats `json:"events"`
	Requests RequestStats       `json:"requests"`
	Runtime  RuntimeStats       `json:"runtime"`
}

type HealthResponse struct {
	Status        Status                     `json:"status"`
	Timestamp     time.Time                  `json:"timestamp"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Stats         Stats                      `json:"stats"`
	Components    map[string]ComponentStatus `json:"components"`
}

type ProviderDetail struct {
	ID           string   `json:"id"`
	Capabilities []string `json:"capabilities"`
	Healthy      bool     `json:"healthy"`
	LatencyMs    int64    `json:"latency_ms"`
	Failures     int      `json:"failures"`
}

type ProvidersResponse struct {
	Total     int              `json:"total"`
	Available int              `json:"available"`
	Providers []ProviderDetail `json:"providers"`
}

type StreamsResponse struct {
	Total   int                      `json:"total"`
	Streams []processor.StreamStatus `json:"streams"`
}

// ProviderSet is the view of the analysis providers the health checks need.
type ProviderSet interface {
	IsAvailable(ctx context.Context) bool
	Health() map[string]router.HealthMetrics
	ProviderCapabilities(id string) []string
}

type Handler struct {
	db        *gorm.DB
	redis     *redis.Client
	qdrant    *qdrant.Client
	providers ProviderSet
	service   *processor.Service
	grpc      *grpchealth.Server
	version   string
	startTime time.Time
	logger    *slog.Logger

	totalRequests     uint64
	activeConnections int64
}

func NewHandler(
	db *gorm.DB,
	redis *redis.Client,
	qdrant *qdrant.Client,
	providers ProviderSet,
	service *processor.Service,
	grpcHealth *grpchealth.Server,
	version string,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		db:        db,
		redis:     redis,
		qdrant:    qdrant,
		providers: providers,
		service:   service,
		grpc:      grpcHealth,
		version:   version,
		startTime: time.Now(),
		logger:    logger.With("component", "health"),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Liveness)
	e.GET("/health/ready", h.Readiness)
	e.GET("/health/providers", h.Providers)
	e.GET("/health/streams", h.Streams)
}

func (h *Handler) IncrementRequests() {
	atomic.AddUint64(&h.totalRequests, 1)
}

func (h *Handler) IncrementConnections() {
	atomic.AddInt64(&h.activeConnections, 1)
}

func (h *Handler) DecrementConnections() {
	atomic.AddInt64(&h.activeConnections, -1)
}

// @Summary      Liveness probe
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// @Summary      Readiness probe with component checks
// @Tags         health
// @Produce      json
// @Success      200  {object}  HealthResponse
// @Failure      503  {object}  HealthResponse
// @Router       /health/ready [get]
func (h *Handler) Readiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	resp := h.Check(ctx)

	statusCode := http.StatusOK
	if resp.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	return c.JSON(statusCode, resp)
}

// Check runs every component check concurrently and mirrors the overall
// status onto the gRPC health server.
func (h *Handler) Check(ctx context.Context) HealthResponse {
	components := make(map[string]ComponentStatus)
	var mu sync.Mutex
	var wg sync.WaitGroup

	checks := []struct {
		name  string
		check func(context.Context) ComponentStatus
	}{
		{"database", h.checkDatabase},
		{"redis", h.checkRedis},
		{"qdrant", h.checkQdrant},
		{"vision", h.checkProviders},
	}

	wg.Add(len(checks))
	for _, check := range checks {
		go func(name string, fn func(context.Context) ComponentStatus) {
			defer wg.Done()
			status := fn(ctx)
			mu.Lock()
			components[name] = status
			mu.Unlock()
		}(check.name, check.check)
	}
	wg.Wait()

	overallStatus := h.computeOverallStatus(components)
	h.setServing(overallStatus)

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return HealthResponse{
		Status:        overallStatus,
		Timestamp:     time.Now().UTC(),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Stats: Stats{
			Streams: h.streamStats(),
			Cache:   h.cacheStats(ctx),
			Events:  h.busStats(),
			Requests: RequestStats{
				TotalRequests:     atomic.LoadUint64(&h.totalRequests),
				ActiveConnections: atomic.LoadInt64(&h.activeConnections),
			},
			Runtime: RuntimeStats{
				Goroutines:         runtime.NumGoroutine(),
				MemoryAllocMB:      memStats.Alloc / 1024 / 1024,
				MemoryTotalAllocMB: memStats.TotalAlloc / 1024 / 1024,
				MemorySysMB:        memStats.Sys / 1024 / 1024,
				NumGC:              memStats.NumGC,
			},
		},
		Components: components,
	}
}

// Watch re-runs Check every interval so gRPC health watchers see changes
// without an HTTP readiness probe.
func (h *Handler) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			resp := h.Check(checkCtx)
			cancel()
			if resp.Status != StatusHealthy {
				h.logger.Warn("readiness degraded", "status", resp.Status)
			}
		}
	}
}

// @Summary      Analysis provider health
// @Tags         health
// @Produce      json
// @Success      200  {object}  ProvidersResponse
// @Router       /health/providers [get]
func (h *Handler) Providers(c echo.Context) error {
	if h.providers == nil {
		return c.JSON(http.StatusOK, ProvidersResponse{Providers: []ProviderDetail{}})
	}

	metrics := h.providers.Health()
	details := make([]ProviderDetail, 0, len(metrics))
	available := 0
	for id, m := range metrics {
		if m.Healthy {
			available++
		}
		details = append(details, ProviderDetail{
			ID:           id,
			Capabilities: h.providers.ProviderCapabilities(id),
			Healthy:      m.Healthy,
			LatencyMs:    m.LatencyMs,
			Failures:     m.Failures,
		})
	}
	sort.Slice(details, func(i, j int) bool { return details[i].ID < details[j].ID })

	return c.JSON(http.StatusOK, ProvidersResponse{
		Total:     len(details),
		Available: available,
		Providers: details,
	})
}

// @Summary      Active stream states
// @Tags         health
// @Produce      json
// @Success      200  {object}  StreamsResponse
// @Router       /health/streams [get]
func (h *Handler) Streams(c echo.Context) error {
	streams := []processor.StreamStatus{}
	if h.service != nil {
		streams = h.service.Streams()
	}
	return c.JSON(http.StatusOK, StreamsResponse{
		Total:   len(streams),
		Streams: streams,
	})
}

func (h *Handler) streamStats() StreamStats {
	var s StreamStats
	if h.service == nil {
		return s
	}
	for _, st := range h.service.Streams() {
		s.Active++
		if st.Watching {
			s.Watching++
		}
	}
	return s
}

func (h *Handler) cacheStats(ctx context.Context) *framecache.Stats {
	if h.service == nil {
		return nil
	}
	stats, err := h.service.Cache().Stats(ctx)
	if err != nil {
		return nil
	}
	return &stats
}

func (h *Handler) busStats() processor.BusStats {
	if h.service == nil {
		return processor.BusStats{}
	}
	return h.service.Bus().Stats()
}

func (h *Handler) setServing(status Status) {
	if h.grpc == nil {
		return
	}
	serving := healthpb.HealthCheckResponse_SERVING
	if status == StatusUnhealthy {
		serving = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.grpc.SetServingStatus("", serving)
}

func (h *Handler) checkDatabase(ctx context.Context) ComponentStatus {
	start := time.Now()
	if h.db == nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "database not configured",
		}
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "failed to get underlying db",
		}
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "ping failed",
		}
	}

	return ComponentStatus{
		Status:    h.evaluateDBStats(sqlDB.Stats()),
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

func (h *Handler) evaluateDBStats(stats sql.DBStats) Status {
	if stats.OpenConnections >= stats.MaxOpenConnections && stats.MaxOpenConnections > 0 {
		return StatusDegraded
	}
	return StatusHealthy
}

func (h *Handler) checkRedis(ctx context.Context) ComponentStatus {
	start := time.Now()
	if h.redis == nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "redis not configured",
		}
	}

	if err := h.redis.Ping(ctx).Err(); err != nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "ping failed",
		}
	}

	return ComponentStatus{
		Status:    StatusHealthy,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

func (h *Handler) checkQdrant(ctx context.Context) ComponentStatus {
	start := time.Now()
	if h.qdrant == nil {
		return ComponentStatus{
			Status:    StatusDegraded,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "qdrant not configured",
		}
	}

	if _, err := h.qdrant.ListCollections(ctx); err != nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "list collections failed",
		}
	}

	return ComponentStatus{
		Status:    StatusHealthy,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

func (h *Handler) checkProviders(ctx context.Context) ComponentStatus {
	start := time.Now()
	if h.providers == nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "no vision providers configured",
		}
	}

	if !h.providers.IsAvailable(ctx) {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "no provider reachable",
		}
	}

	return ComponentStatus{
		Status:    StatusHealthy,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

func (h *Handler) computeOverallStatus(components map[string]ComponentStatus) Status {
	criticalComponents := []string{"database", "redis"}

	for _, name := range criticalComponents {
		if status, ok := components[name]; ok && status.Status == StatusUnhealthy {
			return StatusUnhealthy
		}
	}

	hasUnhealthy := false
	hasDegraded := false
	for _, status := range components {
		if status.Status == StatusUnhealthy {
			hasUnhealthy = true
		}
		if status.Status == StatusDegraded {
			hasDegraded = true
		}
	}

	if hasUnhealthy || hasDegraded {
		return StatusDegraded
	}

	return StatusHealthy
}
