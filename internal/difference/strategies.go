package difference

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/eleven-am/perception-backend/internal/calibration"
	"github.com/eleven-am/perception-backend/internal/framecache"
	"github.com/eleven-am/perception-backend/internal/shared"
)

// DigestEngine scores 0 for identical digests and 1 otherwise.
type DigestEngine struct{}

func (DigestEngine) Type() string { return TypeDigest }

func (DigestEngine) Calculate(candidate, reference *framecache.Record, profile calibration.Profile) (Score, error) {
	if candidate == nil || reference == nil || candidate.Digest == "" || reference.Digest == "" {
		return Score{}, fmt.Errorf("%s: %w: missing digest", TypeDigest, ErrCannotCompare)
	}
	value := 1.0
	if candidate.Digest == reference.Digest {
		value = 0
	}
	return verdict(TypeDigest, value, profile, nil), nil
}

// PerceptualEngine scores the Hamming distance between 64-bit average hashes.
type PerceptualEngine struct{}

func (PerceptualEngine) Type() string { return TypePerceptual }

func (PerceptualEngine) Calculate(candidate, reference *framecache.Record, profile calibration.Profile) (Score, error) {
	if candidate == nil || reference == nil || candidate.Features == nil || reference.Features == nil {
		return Score{}, fmt.Errorf("%s: %w: missing perceptual hash", TypePerceptual, ErrCannotCompare)
	}
	distance := bits.OnesCount64(candidate.Features.PerceptualHash ^ reference.Features.PerceptualHash)
	value := shared.Clamp01(float64(distance) / 64 * sensitivity(profile))
	return verdict(TypePerceptual, value, profile, map[string]float64{"hamming": float64(distance)}), nil
}

// FeatureEngine scores 1 - cosine similarity of feature vectors, scaled by
// the profile's feature sensitivity.
type FeatureEngine struct{}

func (FeatureEngine) Type() string { return TypeFeature }

func (FeatureEngine) Calculate(candidate, reference *framecache.Record, profile calibration.Profile) (Score, error) {
	if candidate == nil || reference == nil || candidate.Features == nil || reference.Features == nil {
		return Score{}, fmt.Errorf("%s: %w: missing features", TypeFeature, ErrCannotCompare)
	}
	a, b := candidate.Features.Vector, reference.Features.Vector
	if len(a) == 0 || len(a) != len(b) {
		return Score{}, fmt.Errorf("%s: %w: vector lengths %d and %d", TypeFeature, ErrCannotCompare, len(a), len(b))
	}

	similarity := cosine(a, b)
	value := shared.Clamp01((1 - similarity) * sensitivity(profile))
	return verdict(TypeFeature, value, profile, map[string]float64{"cosine": similarity}), nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	switch {
	case na == 0 && nb == 0:
		return 1
	case na == 0 || nb == 0:
		return 0
	}
	return math.Max(-1, math.Min(1, dot/(math.Sqrt(na)*math.Sqrt(nb))))
}
