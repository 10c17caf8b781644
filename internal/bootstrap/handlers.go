package bootstrap

import (
	"log/slog"
	"os"

	"github.com/eleven-am/perception-backend/internal/featureindex"
	"github.com/eleven-am/perception-backend/internal/framecache"
	"github.com/eleven-am/perception-backend/internal/processor"
	"github.com/eleven-am/perception-backend/internal/profilestore"
	"github.com/eleven-am/perception-backend/internal/realtime"
	"github.com/eleven-am/perception-backend/internal/streamstats"
	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"
	"go.uber.org/fx"
)

type HandlerParams struct {
	fx.In

	VisionHandler  *processor.Handler
	StatsHandler   *streamstats.Handler
	ProfileHandler *profilestore.Handler
	SearchHandler  *featureindex.Handler
	RTCHandler     *realtime.Handler
}

func RegisterRoutes(e *echo.Echo, params HandlerParams) {
	api := e.Group("/v1/vision")

	params.VisionHandler.RegisterRoutes(api)
	params.StatsHandler.RegisterRoutes(api)
	params.ProfileHandler.RegisterRoutes(api)
	params.SearchHandler.RegisterRoutes(api)
	params.RTCHandler.RegisterRoutes(api)

	e.GET("/swagger/*", echoSwagger.EchoWrapHandlerV3())
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ProvideLogger(cfg *Config) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)
	return logger
}

func ProvideVisionHandler(svc *processor.Service, logger *slog.Logger) *processor.Handler {
	return processor.NewHandler(svc, logger.With("handler", "vision"))
}

func ProvideStatsHandler(store *streamstats.Store, logger *slog.Logger) *streamstats.Handler {
	return streamstats.NewHandler(store, logger.With("handler", "stats"))
}

func ProvideProfileHandler(store *profilestore.Store, logger *slog.Logger) *profilestore.Handler {
	return profilestore.NewHandler(store, logger.With("handler", "profiles"))
}

func ProvideSearchHandler(index *featureindex.Index, cache framecache.Cache, logger *slog.Logger) *featureindex.Handler {
	return featureindex.NewHandler(index, cache, logger.With("handler", "search"))
}

func ProvideRTCHandler(mgr *realtime.Manager, logger *slog.Logger) *realtime.Handler {
	return realtime.NewHandler(mgr, logger.With("handler", "webrtc"))
}

var HandlersModule = fx.Options(
	fx.Provide(
		ProvideLogger,
		ProvideVisionHandler,
		ProvideStatsHandler,
		ProvideProfileHandler,
		ProvideSearchHandler,
		ProvideRTCHandler,
	),
	fx.Invoke(RegisterRoutes),
)
