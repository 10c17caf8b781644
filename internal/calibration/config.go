package calibration

import (
	"fmt"
	"time"
)

// ClassificationThresholds drive the ordered classification rules. Scores are
// compared against the smoothed metrics.
type ClassificationThresholds struct {
	ClarityFloor     float64 `yaml:"clarity_floor"`
	TextFloor        float64 `yaml:"text_floor"`
	FaceFloor        float64 `yaml:"face_floor"`
	LowMotion        float64 `yaml:"low_motion"`
	LowBrightness    float64 `yaml:"low_brightness"`
	MidMotion        float64 `yaml:"mid_motion"`
	HighMotion       float64 `yaml:"high_motion"`
	HighComplexity   float64 `yaml:"high_complexity"`
	VariabilityFloor float64 `yaml:"variability_floor"`
}

type Config struct {
	MinFramesForInitialProfile          int
	InitialCalibrationDuration          time.Duration
	ProfileUpdateInterval               time.Duration
	MetricsBufferSize                   int
	ProfileConfidenceThresholdForUpdate float64
	ConfidenceMargin                    float64
	SmoothingFactor                     float64
	HistorySize                         int
	Classification                      ClassificationThresholds
	Thresholds                          map[EnvironmentType]Thresholds
}

func DefaultClassificationThresholds() ClassificationThresholds {
	return ClassificationThresholds{
		ClarityFloor:     0.3,
		TextFloor:        0.6,
		FaceFloor:        0.6,
		LowMotion:        0.1,
		LowBrightness:    0.35,
		MidMotion:        0.4,
		HighMotion:       0.5,
		HighComplexity:   0.7,
		VariabilityFloor: 0.4,
	}
}

// DefaultThresholds is the per-environment adaptive threshold table. Static,
// text and face scenes get tighter change thresholds than dynamic ones.
func DefaultThresholds() map[EnvironmentType]Thresholds {
	return map[EnvironmentType]Thresholds{
		StableStaticClear:   {SignificantChange: 0.08, FeatureSensitivity: 1.3, ObjectMinConfidence: 0.5, MotionFrameSkip: 4, UpdateFrequencyFactor: 0.5},
		StableLowActivity:   {SignificantChange: 0.12, FeatureSensitivity: 1.2, ObjectMinConfidence: 0.5, MotionFrameSkip: 3, UpdateFrequencyFactor: 0.75},
		ModeratePredictable: {SignificantChange: 0.2, FeatureSensitivity: 1.0, ObjectMinConfidence: 0.55, MotionFrameSkip: 2, UpdateFrequencyFactor: 1.0},
		DynamicComplex:      {SignificantChange: 0.35, FeatureSensitivity: 0.8, ObjectMinConfidence: 0.6, MotionFrameSkip: 1, UpdateFrequencyFactor: 1.5},
		PoorVisibility:      {SignificantChange: 0.3, FeatureSensitivity: 0.7, ObjectMinConfidence: 0.65, MotionFrameSkip: 2, UpdateFrequencyFactor: 1.25},
		TextDominant:        {SignificantChange: 0.06, FeatureSensitivity: 1.5, ObjectMinConfidence: 0.5, MotionFrameSkip: 3, UpdateFrequencyFactor: 0.75},
		FacesDominant:       {SignificantChange: 0.1, FeatureSensitivity: 1.3, ObjectMinConfidence: 0.55, MotionFrameSkip: 2, UpdateFrequencyFactor: 1.0},
		HighlyVariable:      {SignificantChange: 0.4, FeatureSensitivity: 0.75, ObjectMinConfidence: 0.6, MotionFrameSkip: 1, UpdateFrequencyFactor: 1.5},
		Unknown:             {SignificantChange: 0.15, FeatureSensitivity: 1.0, ObjectMinConfidence: 0.5, MotionFrameSkip: 1, UpdateFrequencyFactor: 1.0},
	}
}

func DefaultConfig() Config {
	return Config{
		MinFramesForInitialProfile:          30,
		InitialCalibrationDuration:          10 * time.Second,
		ProfileUpdateInterval:               2 * time.Second,
		MetricsBufferSize:                   60,
		ProfileConfidenceThresholdForUpdate: 0.7,
		ConfidenceMargin:                    0.1,
		SmoothingFactor:                     0.2,
		HistorySize:                         50,
		Classification:                      DefaultClassificationThresholds(),
		Thresholds:                          DefaultThresholds(),
	}
}

func (c Config) Validate() error {
	switch {
	case c.MinFramesForInitialProfile <= 0:
		return fmt.Errorf("%w: min frames for initial profile must be positive", ErrInvalidConfig)
	case c.MetricsBufferSize <= 0:
		return fmt.Errorf("%w: metrics buffer size must be positive", ErrInvalidConfig)
	case c.HistorySize <= 0:
		return fmt.Errorf("%w: history size must be positive", ErrInvalidConfig)
	case c.SmoothingFactor <= 0 || c.SmoothingFactor > 1:
		return fmt.Errorf("%w: smoothing factor must be in (0,1]", ErrInvalidConfig)
	case c.ProfileConfidenceThresholdForUpdate < 0 || c.ProfileConfidenceThresholdForUpdate > 1:
		return fmt.Errorf("%w: confidence threshold must be in [0,1]", ErrInvalidConfig)
	case c.ConfidenceMargin < 0:
		return fmt.Errorf("%w: confidence margin must not be negative", ErrInvalidConfig)
	case c.InitialCalibrationDuration < 0 || c.ProfileUpdateInterval < 0:
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	if _, ok := c.Thresholds[Unknown]; !ok {
		return fmt.Errorf("%w: threshold table has no %s entry", ErrInvalidConfig, Unknown)
	}
	return nil
}

// ThresholdsFor returns the table entry for t, falling back to the
// unknown-uncalibrated entry.
func (c Config) ThresholdsFor(t EnvironmentType) Thresholds {
	if th, ok := c.Thresholds[t]; ok {
		return th
	}
	return c.Thresholds[Unknown]
}
