package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eleven-am/perception-backend/internal/calibration"
	"github.com/eleven-am/perception-backend/internal/difference"
	"github.com/eleven-am/perception-backend/internal/featureindex"
	"github.com/eleven-am/perception-backend/internal/framecache"
	"github.com/eleven-am/perception-backend/internal/processor"
	"github.com/eleven-am/perception-backend/internal/realtime"
	"github.com/eleven-am/perception-backend/internal/tuning"
	"github.com/eleven-am/perception-backend/internal/vision"
	"github.com/qdrant/go-client/qdrant"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

func ProvideTuning(cfg *Config) (*tuning.Overlay, error) {
	return tuning.Load(cfg.TuningFile)
}

func ProvideVisionGateway(cfg *Config, logger *slog.Logger) *vision.Gateway {
	gw := vision.NewGateway(logger)
	for _, model := range cfg.OllamaModels {
		gw.Register(vision.NewClient(vision.Config{
			OllamaURL: cfg.OllamaURL,
			Model:     model,
			Timeout:   cfg.ProviderTimeout,
		}))
	}
	return gw
}

func ProvideCalibrator(overlay *tuning.Overlay, logger *slog.Logger) (*calibration.Calibrator, error) {
	calCfg := calibration.DefaultConfig()
	if err := overlay.ApplyCalibration(&calCfg); err != nil {
		return nil, err
	}
	return calibration.New(calCfg, logger)
}

func ProvideFrameCache(cfg *Config, redisClient *redis.Client, logger *slog.Logger) (framecache.Cache, error) {
	cacheCfg := framecache.Config{
		CacheID:      cfg.CacheID,
		MaxSizeItems: cfg.CacheMaxItems,
		TTL:          cfg.CacheTTL,
		LogActivity:  cfg.CacheLogging,
	}
	switch cfg.CacheBackend {
	case "redis":
		return framecache.NewRedisCache(redisClient, cacheCfg, logger)
	case "memory":
		return framecache.NewMemoryCache(cacheCfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown cache backend %q", framecache.ErrInvalidConfig, cfg.CacheBackend)
	}
}

func ProvideFeatureIndex(client *qdrant.Client, cfg *Config, logger *slog.Logger) *featureindex.Index {
	return featureindex.New(client, cfg.QdrantCollection, logger)
}

func ProvideProcessorConfig(cfg *Config, overlay *tuning.Overlay) (processor.Config, error) {
	pcfg := processor.DefaultConfig()
	pcfg.DefaultIsWatching = cfg.DefaultWatching
	pcfg.DefaultDifferenceEngine = cfg.DifferenceEngine
	pcfg.ReferenceUpdateStrategy = processor.ReferenceStrategy(cfg.ReferenceStrategy)
	pcfg.MinTimeBetweenFullAnalyses = cfg.MinAnalysisGap
	pcfg.MaxStreamStateHistory = cfg.MaxStreams
	pcfg.ProviderTimeout = cfg.ProviderTimeout
	if err := overlay.ApplyProcessor(&pcfg); err != nil {
		return processor.Config{}, err
	}
	return pcfg, nil
}

type ServiceParams struct {
	fx.In

	Config     processor.Config
	Cache      framecache.Cache
	Calibrator *calibration.Calibrator
	Gateway    *vision.Gateway
	Index      *featureindex.Index
	Logger     *slog.Logger
}

func ProvideProcessorService(p ServiceParams) (*processor.Service, error) {
	return processor.NewService(p.Config, processor.Deps{
		Cache:      p.Cache,
		Calibrator: p.Calibrator,
		Engines:    difference.DefaultRegistry(),
		Provider:   p.Gateway,
		Index:      p.Index,
		Logger:     p.Logger,
	})
}

func ProvideRTCManager(cfg *Config, svc *processor.Service, logger *slog.Logger) (*realtime.Manager, error) {
	iceServers := make([]realtime.ICEServerConfig, 0, len(cfg.RTCICEServers))
	for _, s := range cfg.RTCICEServers {
		iceServers = append(iceServers, realtime.ICEServerConfig(s))
	}
	return realtime.NewManager(realtime.Config{
		ICEServers: iceServers,
		PortRange: realtime.PortRange{
			Min: cfg.RTCPortMin,
			Max: cfg.RTCPortMax,
		},
		CaptureInterval: cfg.CaptureInterval,
	}, svc, logger)
}

type lifecycleParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *Config
	Service   *processor.Service
	Gateway   *vision.Gateway
	Index     *featureindex.Index
	RTC       *realtime.Manager
	Logger    *slog.Logger
}

func StartProcessor(p lifecycleParams) {
	ctx, cancel := context.WithCancel(context.Background())
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if err := p.Index.EnsureCollection(startCtx); err != nil {
				p.Logger.Warn("feature index unavailable, similarity search disabled until it recovers", "error", err)
			}
			p.Gateway.CheckHealth(startCtx)
			if p.Config.ProviderCheckInterval > 0 {
				go p.Gateway.RunHealthChecks(ctx, p.Config.ProviderCheckInterval)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			p.RTC.Close()
			p.Service.Shutdown()
			return nil
		},
	})
}

var ProcessorModule = fx.Options(
	fx.Provide(
		ProvideTuning,
		ProvideVisionGateway,
		ProvideCalibrator,
		ProvideFrameCache,
		ProvideFeatureIndex,
		ProvideProcessorConfig,
		ProvideProcessorService,
		ProvideRTCManager,
	),
	fx.Invoke(StartProcessor),
)
