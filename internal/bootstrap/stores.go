package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/eleven-am/perception-backend/internal/calibration"
	"github.com/eleven-am/perception-backend/internal/processor"
	"github.com/eleven-am/perception-backend/internal/profilestore"
	"github.com/eleven-am/perception-backend/internal/streamstats"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideStreamStatsStore(redisClient *redis.Client, logger *slog.Logger) *streamstats.Store {
	return streamstats.NewStore(redisClient, logger)
}

func ProvideProfileStore(db *gorm.DB, logger *slog.Logger) *profilestore.Store {
	return profilestore.NewStore(db, logger)
}

func RunMigrations(profileStore *profilestore.Store) error {
	return profileStore.Migrate()
}

// StartRecorders subscribes the stats and profile archives to the pipeline.
func StartRecorders(lc fx.Lifecycle, svc *processor.Service, cal *calibration.Calibrator, stats *streamstats.Store, profiles *profilestore.Store, logger *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	var (
		wg     sync.WaitGroup
		detach func()
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			detach = profiles.Attach(cal)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := stats.Run(ctx, svc.Bus()); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("stream stats recorder stopped", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			wg.Wait()
			if detach != nil {
				detach()
			}
			return nil
		},
	})
}

var StoresModule = fx.Options(
	fx.Provide(
		ProvideStreamStatsStore,
		ProvideProfileStore,
	),
	fx.Invoke(RunMigrations),
	fx.Invoke(StartRecorders),
)
