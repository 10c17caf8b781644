package calibration

import (
	"math"
	"testing"
)

func TestClassify_Precedence(t *testing.T) {
	th := DefaultClassificationThresholds()
	tests := []struct {
		name      string
		m         Metrics
		stability float64
		want      EnvironmentType
	}{
		{"blurry beats text", Metrics{Clarity: 0.1, TextScore: 0.9}, 1, PoorVisibility},
		{"text beats faces", Metrics{Clarity: 0.8, TextScore: 0.9, FaceScore: 0.9}, 1, TextDominant},
		{"faces", Metrics{Clarity: 0.8, FaceScore: 0.9, Motion: 0.6}, 1, FacesDominant},
		{"dark and still", Metrics{Clarity: 0.8, Brightness: 0.2, Motion: 0.05}, 1, StableStaticClear},
		{"bright and still", Metrics{Clarity: 0.8, Brightness: 0.7, Motion: 0.05}, 1, StableLowActivity},
		{"mid motion", Metrics{Clarity: 0.8, Brightness: 0.5, Motion: 0.25, Complexity: 0.4}, 1, ModeratePredictable},
		{"high motion", Metrics{Clarity: 0.8, Motion: 0.7}, 1, DynamicComplex},
		{"cluttered", Metrics{Clarity: 0.8, Motion: 0.2, Complexity: 0.9}, 1, DynamicComplex},
		{"in-between and erratic", Metrics{Clarity: 0.8, Motion: 0.45, Complexity: 0.3}, 0.2, HighlyVariable},
		{"in-between and steady", Metrics{Clarity: 0.8, Motion: 0.45, Complexity: 0.3}, 0.9, Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.m, tt.stability, th); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestWindowStability(t *testing.T) {
	steady := Metrics{Brightness: 0.5, Clarity: 0.5, Stability: 1}
	if got := windowStability([]Metrics{steady, steady, steady}, steady); got != 1 {
		t.Errorf("expected 1 for identical samples, got %v", got)
	}
	if got := windowStability(nil, steady); got != 0 {
		t.Errorf("expected 0 for empty window, got %v", got)
	}

	noisy := []Metrics{
		{Brightness: 0, Motion: 1, Stability: 0},
		{Brightness: 1, Motion: 0, Stability: 0},
	}
	if got := windowStability(noisy, Metrics{Brightness: 0.5, Motion: 0.5}); got >= 0.5 {
		t.Errorf("expected low stability for noisy window, got %v", got)
	}
}

func TestConfidence(t *testing.T) {
	if got := confidence(0, 30, 0); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
	if got := confidence(30, 30, 1); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
	if got := confidence(15, 30, 0.5); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("expected 0.5, got %v", got)
	}
}
