// Package tuning loads an optional YAML file that overrides calibration and
// pipeline defaults. Keys absent from the file keep their configured values.
package tuning

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/eleven-am/perception-backend/internal/calibration"
	"github.com/eleven-am/perception-backend/internal/processor"
	"github.com/eleven-am/perception-backend/internal/vision"
	"gopkg.in/yaml.v3"
)

var ErrUnknownEnvironment = errors.New("unknown environment type")

// Overlay holds the raw sections of a tuning file until they are applied.
type Overlay struct {
	Calibration yaml.Node `yaml:"calibration"`
	Processor   yaml.Node `yaml:"processor"`
}

type calibrationView struct {
	MinFramesForInitialProfile          int                                       `yaml:"min_frames_for_initial_profile"`
	InitialCalibrationDuration          time.Duration                             `yaml:"initial_calibration_duration"`
	ProfileUpdateInterval               time.Duration                             `yaml:"profile_update_interval"`
	MetricsBufferSize                   int                                       `yaml:"metrics_buffer_size"`
	ProfileConfidenceThresholdForUpdate float64                                   `yaml:"profile_confidence_threshold"`
	ConfidenceMargin                    float64                                   `yaml:"confidence_margin"`
	SmoothingFactor                     float64                                   `yaml:"smoothing_factor"`
	HistorySize                         int                                       `yaml:"history_size"`
	Classification                      calibration.ClassificationThresholds      `yaml:"classification"`
	Thresholds                          map[calibration.EnvironmentType]yaml.Node `yaml:"thresholds"`
}

type processorView struct {
	DefaultIsWatching               bool                        `yaml:"default_watching"`
	DefaultDifferenceEngine         string                      `yaml:"difference_engine"`
	ReferenceUpdateStrategy         processor.ReferenceStrategy `yaml:"reference_strategy"`
	PeriodicReferenceUpdateInterval time.Duration               `yaml:"periodic_reference_interval"`
	MinTimeBetweenFullAnalyses      time.Duration               `yaml:"min_time_between_analyses"`
	DefaultTasks                    []vision.Task               `yaml:"default_tasks"`
	MaxStreamStateHistory           int                         `yaml:"max_streams"`
	ProviderTimeout                 time.Duration               `yaml:"provider_timeout"`
}

// Load reads path. An empty path yields an empty overlay.
func Load(path string) (*Overlay, error) {
	if path == "" {
		return &Overlay{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tuning file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Overlay, error) {
	var o Overlay
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&o); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse tuning file: %w", err)
	}
	return &o, nil
}

// ApplyCalibration overlays the calibration section onto cfg and validates
// the result. Threshold entries may be partial.
func (o *Overlay) ApplyCalibration(cfg *calibration.Config) error {
	if o.Calibration.IsZero() {
		return nil
	}
	view := calibrationView{
		MinFramesForInitialProfile:          cfg.MinFramesForInitialProfile,
		InitialCalibrationDuration:          cfg.InitialCalibrationDuration,
		ProfileUpdateInterval:               cfg.ProfileUpdateInterval,
		MetricsBufferSize:                   cfg.MetricsBufferSize,
		ProfileConfidenceThresholdForUpdate: cfg.ProfileConfidenceThresholdForUpdate,
		ConfidenceMargin:                    cfg.ConfidenceMargin,
		SmoothingFactor:                     cfg.SmoothingFactor,
		HistorySize:                         cfg.HistorySize,
		Classification:                      cfg.Classification,
	}
	if err := o.Calibration.Decode(&view); err != nil {
		return fmt.Errorf("calibration section: %w", err)
	}

	table := make(map[calibration.EnvironmentType]calibration.Thresholds, len(cfg.Thresholds))
	for k, v := range cfg.Thresholds {
		table[k] = v
	}
	for env, node := range view.Thresholds {
		if !env.Valid() {
			return fmt.Errorf("%w: %s", ErrUnknownEnvironment, env)
		}
		th := cfg.ThresholdsFor(env)
		if err := node.Decode(&th); err != nil {
			return fmt.Errorf("thresholds for %s: %w", env, err)
		}
		table[env] = th
	}

	next := *cfg
	next.MinFramesForInitialProfile = view.MinFramesForInitialProfile
	next.InitialCalibrationDuration = view.InitialCalibrationDuration
	next.ProfileUpdateInterval = view.ProfileUpdateInterval
	next.MetricsBufferSize = view.MetricsBufferSize
	next.ProfileConfidenceThresholdForUpdate = view.ProfileConfidenceThresholdForUpdate
	next.ConfidenceMargin = view.ConfidenceMargin
	next.SmoothingFactor = view.SmoothingFactor
	next.HistorySize = view.HistorySize
	next.Classification = view.Classification
	next.Thresholds = table
	if err := next.Validate(); err != nil {
		return err
	}
	*cfg = next
	return nil
}

// ApplyProcessor overlays the processor section onto cfg. Validation happens
// when the service is built.
func (o *Overlay) ApplyProcessor(cfg *processor.Config) error {
	if o.Processor.IsZero() {
		return nil
	}
	view := processorView{
		DefaultIsWatching:               cfg.DefaultIsWatching,
		DefaultDifferenceEngine:         cfg.DefaultDifferenceEngine,
		ReferenceUpdateStrategy:         cfg.ReferenceUpdateStrategy,
		PeriodicReferenceUpdateInterval: cfg.PeriodicReferenceUpdateInterval,
		MinTimeBetweenFullAnalyses:      cfg.MinTimeBetweenFullAnalyses,
		DefaultTasks:                    cfg.DefaultTasks,
		MaxStreamStateHistory:           cfg.MaxStreamStateHistory,
		ProviderTimeout:                 cfg.ProviderTimeout,
	}
	if err := o.Processor.Decode(&view); err != nil {
		return fmt.Errorf("processor section: %w", err)
	}
	for _, t := range view.DefaultTasks {
		if !t.Valid() {
			return fmt.Errorf("processor section: unknown task %q", t)
		}
	}

	cfg.DefaultIsWatching = view.DefaultIsWatching
	cfg.DefaultDifferenceEngine = view.DefaultDifferenceEngine
	cfg.ReferenceUpdateStrategy = view.ReferenceUpdateStrategy
	cfg.PeriodicReferenceUpdateInterval = view.PeriodicReferenceUpdateInterval
	cfg.MinTimeBetweenFullAnalyses = view.MinTimeBetweenFullAnalyses
	cfg.DefaultTasks = view.DefaultTasks
	cfg.MaxStreamStateHistory = view.MaxStreamStateHistory
	cfg.ProviderTimeout = view.ProviderTimeout
	return nil
}
