package bootstrap

import (
	"context"
	"log/slog"

	"github.com/eleven-am/perception-backend/internal/health"
	"github.com/eleven-am/perception-backend/internal/processor"
	"github.com/eleven-am/perception-backend/internal/vision"
	"github.com/labstack/echo/v4"
	"github.com/qdrant/go-client/qdrant"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	grpchealth "google.golang.org/grpc/health"
	"gorm.io/gorm"
)

type healthParams struct {
	fx.In

	DB         *gorm.DB
	Redis      *redis.Client
	Qdrant     *qdrant.Client
	Gateway    *vision.Gateway
	Service    *processor.Service
	GRPCHealth *grpchealth.Server
	Logger     *slog.Logger
}

func ProvideHealthHandler(p healthParams) *health.Handler {
	return health.NewHandler(
		p.DB,
		p.Redis,
		p.Qdrant,
		p.Gateway,
		p.Service,
		p.GRPCHealth,
		version,
		p.Logger,
	)
}

func metricsMiddleware(h *health.Handler) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h.IncrementRequests()
			h.IncrementConnections()
			defer h.DecrementConnections()
			return next(c)
		}
	}
}

func RegisterHealthRoutes(e *echo.Echo, h *health.Handler) {
	e.Use(metricsMiddleware(h))
	h.RegisterRoutes(e)
}

func StartHealthWatch(lc fx.Lifecycle, h *health.Handler, cfg *Config) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if cfg.HealthWatchInterval > 0 {
				go h.Watch(ctx, cfg.HealthWatchInterval)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

var HealthModule = fx.Options(
	fx.Provide(ProvideHealthHandler),
	fx.Invoke(RegisterHealthRoutes),
	fx.Invoke(StartHealthWatch),
)
