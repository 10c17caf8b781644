package calibration

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/eleven-am/perception-backend/internal/shared"
)

var (
	ErrInvalidMetrics = errors.New("invalid metrics")
	ErrInvalidConfig  = errors.New("invalid calibration config")
)

type EnvironmentType string

const (
	StableStaticClear   EnvironmentType = "stable-static-clear"
	StableLowActivity   EnvironmentType = "stable-low-activity"
	ModeratePredictable EnvironmentType = "moderate-predictable-activity"
	DynamicComplex      EnvironmentType = "dynamic-complex-variable"
	PoorVisibility      EnvironmentType = "poor-visibility"
	TextDominant        EnvironmentType = "text-dominant"
	FacesDominant       EnvironmentType = "faces-dominant"
	HighlyVariable      EnvironmentType = "highly-variable"
	Unknown             EnvironmentType = "unknown-uncalibrated"
)

var EnvironmentTypes = []EnvironmentType{
	StableStaticClear, StableLowActivity, ModeratePredictable, DynamicComplex,
	PoorVisibility, TextDominant, FacesDominant, HighlyVariable, Unknown,
}

func (t EnvironmentType) Valid() bool {
	return slices.Contains(EnvironmentTypes, t)
}

// Metrics are normalized per-frame scores. All fields are in [0,1].
type Metrics struct {
	Brightness float64 `json:"brightness"`
	Motion     float64 `json:"motion"`
	Complexity float64 `json:"complexity"`
	Clarity    float64 `json:"clarity"`
	TextScore  float64 `json:"text_score"`
	FaceScore  float64 `json:"face_score"`
	Stability  float64 `json:"stability"`
}

func (m Metrics) values() []float64 {
	return []float64{m.Brightness, m.Motion, m.Complexity, m.Clarity, m.TextScore, m.FaceScore, m.Stability}
}

func (m Metrics) Validate() error {
	for _, v := range m.values() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value", ErrInvalidMetrics)
		}
	}
	return nil
}

func (m Metrics) Clamp() Metrics {
	return Metrics{
		Brightness: shared.Clamp01(m.Brightness),
		Motion:     shared.Clamp01(m.Motion),
		Complexity: shared.Clamp01(m.Complexity),
		Clarity:    shared.Clamp01(m.Clarity),
		TextScore:  shared.Clamp01(m.TextScore),
		FaceScore:  shared.Clamp01(m.FaceScore),
		Stability:  shared.Clamp01(m.Stability),
	}
}

// blend returns alpha*m + (1-alpha)*prev field by field.
func (m Metrics) blend(prev Metrics, alpha float64) Metrics {
	mix := func(sample, old float64) float64 {
		return shared.Clamp01(alpha*sample + (1-alpha)*old)
	}
	return Metrics{
		Brightness: mix(m.Brightness, prev.Brightness),
		Motion:     mix(m.Motion, prev.Motion),
		Complexity: mix(m.Complexity, prev.Complexity),
		Clarity:    mix(m.Clarity, prev.Clarity),
		TextScore:  mix(m.TextScore, prev.TextScore),
		FaceScore:  mix(m.FaceScore, prev.FaceScore),
		Stability:  mix(m.Stability, prev.Stability),
	}
}

type Thresholds struct {
	SignificantChange     float64 `json:"significant_change" yaml:"significant_change"`
	FeatureSensitivity    float64 `json:"feature_sensitivity" yaml:"feature_sensitivity"`
	ObjectMinConfidence   float64 `json:"object_min_confidence" yaml:"object_min_confidence"`
	MotionFrameSkip       int     `json:"motion_frame_skip" yaml:"motion_frame_skip"`
	UpdateFrequencyFactor float64 `json:"update_frequency_factor" yaml:"update_frequency_factor"`
}

type HistoryEntry struct {
	Type       EnvironmentType `json:"type"`
	Confidence float64         `json:"confidence"`
	At         time.Time       `json:"at"`
}

type Profile struct {
	ID          string          `json:"id"`
	Type        EnvironmentType `json:"type"`
	Metrics     Metrics         `json:"metrics"`
	Confidence  float64         `json:"confidence"`
	Thresholds  Thresholds      `json:"thresholds"`
	Calibrated  bool            `json:"calibrated"`
	SampleCount int             `json:"sample_count"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	History     []HistoryEntry  `json:"history"`
}

func (p Profile) Clone() Profile {
	p.History = slices.Clone(p.History)
	return p
}
