package difference

import (
	"errors"
	"fmt"
	"sort"

	"github.com/eleven-am/perception-backend/internal/calibration"
	"github.com/eleven-am/perception-backend/internal/framecache"
)

var (
	// ErrCannotCompare means a strategy lacks the inputs it needs. Callers
	// treat the comparison as significant.
	ErrCannotCompare = errors.New("frames cannot be compared")
	ErrUnknownEngine = errors.New("unknown difference engine")
)

const (
	TypeDigest     = "digest"
	TypePerceptual = "perceptual"
	TypeFeature    = "feature"
)

// Score is one comparison verdict. Value is in [0,1]; Significant is
// Value > profile significant-change threshold.
type Score struct {
	Value       float64            `json:"value"`
	Significant bool               `json:"significant"`
	Strategy    string             `json:"strategy"`
	Detail      map[string]float64 `json:"detail,omitempty"`
}

// Engine compares a candidate frame with a reference frame. Implementations
// must be deterministic.
type Engine interface {
	Type() string
	Calculate(candidate, reference *framecache.Record, profile calibration.Profile) (Score, error)
}

func verdict(strategy string, value float64, profile calibration.Profile, detail map[string]float64) Score {
	return Score{
		Value:       value,
		Significant: value > profile.Thresholds.SignificantChange,
		Strategy:    strategy,
		Detail:      detail,
	}
}

func sensitivity(profile calibration.Profile) float64 {
	if s := profile.Thresholds.FeatureSensitivity; s > 0 {
		return s
	}
	return 1
}

type Registry struct {
	engines map[string]Engine
}

func NewRegistry(engines ...Engine) *Registry {
	r := &Registry{engines: make(map[string]Engine, len(engines))}
	for _, e := range engines {
		r.engines[e.Type()] = e
	}
	return r
}

func DefaultRegistry() *Registry {
	return NewRegistry(DigestEngine{}, PerceptualEngine{}, FeatureEngine{})
}

func (r *Registry) Get(typ string) (Engine, error) {
	e, ok := r.engines[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, typ)
	}
	return e, nil
}

func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.engines))
	for t := range r.engines {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
