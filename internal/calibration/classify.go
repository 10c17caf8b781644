package calibration

import "github.com/eleven-am/perception-backend/internal/shared"

// Classify applies the ordered rules to smoothed metrics. stability is the
// averaged stability score of the sample window.
func Classify(m Metrics, stability float64, t ClassificationThresholds) EnvironmentType {
	switch {
	case m.Clarity < t.ClarityFloor:
		return PoorVisibility
	case m.TextScore > t.TextFloor:
		return TextDominant
	case m.FaceScore > t.FaceFloor:
		return FacesDominant
	case m.Motion < t.LowMotion && m.Brightness < t.LowBrightness:
		return StableStaticClear
	case m.Motion < t.LowMotion:
		return StableLowActivity
	case m.Motion < t.MidMotion && m.Complexity <= t.HighComplexity:
		return ModeratePredictable
	case m.Motion >= t.HighMotion || m.Complexity > t.HighComplexity:
		return DynamicComplex
	case stability < t.VariabilityFloor:
		return HighlyVariable
	default:
		return Unknown
	}
}

// windowStability blends the mean per-sample stability with how closely the
// window tracks the smoothed metrics.
func windowStability(samples []Metrics, smoothed Metrics) float64 {
	if len(samples) == 0 {
		return 0
	}
	var stab, dev float64
	ref := smoothed.values()
	for _, s := range samples {
		stab += s.Stability
		vals := s.values()
		var d float64
		for i := range vals {
			diff := vals[i] - ref[i]
			if diff < 0 {
				diff = -diff
			}
			d += diff
		}
		dev += d / float64(len(vals))
	}
	n := float64(len(samples))
	consistency := shared.Clamp01(1 - 2*dev/n)
	return shared.Clamp01(0.5*(stab/n) + 0.5*consistency)
}

func confidence(samples, minFrames int, stability float64) float64 {
	ratio := 1.0
	if minFrames > 0 && samples < minFrames {
		ratio = float64(samples) / float64(minFrames)
	}
	return shared.Clamp01(0.6*ratio + 0.4*stability)
}
