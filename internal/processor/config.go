package processor

import (
	"errors"
	"fmt"
	"time"

	"github.com/eleven-am/perception-backend/internal/difference"
	"github.com/eleven-am/perception-backend/internal/vision"
)

var ErrInvalidConfig = errors.New("invalid processor config")

type ReferenceStrategy string

const (
	OnSignificantChange ReferenceStrategy = "on-significant-change"
	Periodic            ReferenceStrategy = "periodic"
	EveryFrame          ReferenceStrategy = "every-frame"
)

type Config struct {
	DefaultIsWatching               bool
	DefaultDifferenceEngine         string
	ReferenceUpdateStrategy         ReferenceStrategy
	PeriodicReferenceUpdateInterval time.Duration
	MinTimeBetweenFullAnalyses      time.Duration
	DefaultTasks                    []vision.Task
	MaxStreamStateHistory           int
	EventBuffer                     int
	ProviderTimeout                 time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultIsWatching:               true,
		DefaultDifferenceEngine:         difference.TypeFeature,
		ReferenceUpdateStrategy:         OnSignificantChange,
		PeriodicReferenceUpdateInterval: 30 * time.Second,
		MinTimeBetweenFullAnalyses:      2 * time.Second,
		DefaultTasks:                    []vision.Task{vision.TaskDescribe},
		MaxStreamStateHistory:           64,
		EventBuffer:                     8,
		ProviderTimeout:                 60 * time.Second,
	}
}

func (c Config) validate(engines *difference.Registry) error {
	if _, err := engines.Get(c.DefaultDifferenceEngine); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	switch c.ReferenceUpdateStrategy {
	case OnSignificantChange, EveryFrame:
	case Periodic:
		if c.PeriodicReferenceUpdateInterval <= 0 {
			return fmt.Errorf("%w: periodic strategy needs a positive interval", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown reference update strategy %q", ErrInvalidConfig, c.ReferenceUpdateStrategy)
	}
	if c.MinTimeBetweenFullAnalyses < 0 {
		return fmt.Errorf("%w: min time between analyses must not be negative", ErrInvalidConfig)
	}
	if c.MaxStreamStateHistory <= 0 {
		return fmt.Errorf("%w: max stream state history must be positive", ErrInvalidConfig)
	}
	if len(c.DefaultTasks) == 0 {
		return fmt.Errorf("%w: at least one default task is required", ErrInvalidConfig)
	}
	for _, t := range c.DefaultTasks {
		if !t.Valid() {
			return fmt.Errorf("%w: unknown task %q", ErrInvalidConfig, t)
		}
	}
	return nil
}
