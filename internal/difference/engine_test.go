package difference

import (
	"errors"
	"math"
	"testing"

	"github.com/eleven-am/perception-backend/internal/calibration"
	"github.com/eleven-am/perception-backend/internal/framecache"
	"github.com/eleven-am/perception-backend/internal/vision"
)

func profileWith(threshold, sensitivity float64) calibration.Profile {
	return calibration.Profile{
		Type:       calibration.Unknown,
		Thresholds: calibration.Thresholds{SignificantChange: threshold, FeatureSensitivity: sensitivity},
	}
}

func withFeatures(digest string, hash uint64, vector ...float32) *framecache.Record {
	return &framecache.Record{
		Digest:   digest,
		Features: &vision.Features{PerceptualHash: hash, Vector: vector},
	}
}

func TestDigestEngine(t *testing.T) {
	e := DigestEngine{}
	p := profileWith(0.5, 1)

	same, err := e.Calculate(&framecache.Record{Digest: "a"}, &framecache.Record{Digest: "a"}, p)
	if err != nil {
		t.Fatal(err)
	}
	if same.Value != 0 || same.Significant {
		t.Errorf("identical digests should be insignificant: %+v", same)
	}

	diff, _ := e.Calculate(&framecache.Record{Digest: "a"}, &framecache.Record{Digest: "b"}, p)
	if diff.Value != 1 || !diff.Significant || diff.Strategy != TypeDigest {
		t.Errorf("different digests should be significant: %+v", diff)
	}

	if _, err := e.Calculate(&framecache.Record{}, &framecache.Record{Digest: "b"}, p); !errors.Is(err, ErrCannotCompare) {
		t.Errorf("expected ErrCannotCompare, got %v", err)
	}
	if _, err := e.Calculate(&framecache.Record{Digest: "a"}, nil, p); !errors.Is(err, ErrCannotCompare) {
		t.Errorf("expected ErrCannotCompare for nil reference, got %v", err)
	}
}

func TestPerceptualEngine(t *testing.T) {
	e := PerceptualEngine{}

	s, err := e.Calculate(withFeatures("a", 0xFF), withFeatures("b", 0x0F), profileWith(0.1, 1))
	if err != nil {
		t.Fatal(err)
	}
	if s.Detail["hamming"] != 4 {
		t.Errorf("expected hamming 4, got %v", s.Detail["hamming"])
	}
	if s.Value != 4.0/64 {
		t.Errorf("expected 4/64, got %v", s.Value)
	}
	if s.Significant {
		t.Error("4 bits should be below a 0.1 threshold")
	}

	sensitive, _ := e.Calculate(withFeatures("a", 0xFF), withFeatures("b", 0x0F), profileWith(0.1, 2))
	if !sensitive.Significant {
		t.Errorf("doubling sensitivity should cross the threshold: %+v", sensitive)
	}

	if _, err := e.Calculate(&framecache.Record{Digest: "a"}, withFeatures("b", 0), profileWith(0.1, 1)); !errors.Is(err, ErrCannotCompare) {
		t.Errorf("expected ErrCannotCompare, got %v", err)
	}
}

func TestFeatureEngine(t *testing.T) {
	e := FeatureEngine{}
	p := profileWith(0.2, 1)

	same, err := e.Calculate(withFeatures("a", 0, 1, 2, 3), withFeatures("b", 0, 2, 4, 6), p)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(same.Value) > 1e-9 || same.Significant {
		t.Errorf("parallel vectors should not differ: %+v", same)
	}

	orthogonal, _ := e.Calculate(withFeatures("a", 0, 1, 0), withFeatures("b", 0, 0, 1), p)
	if orthogonal.Value != 1 || !orthogonal.Significant {
		t.Errorf("orthogonal vectors should differ fully: %+v", orthogonal)
	}

	opposite, _ := e.Calculate(withFeatures("a", 0, 1, 1), withFeatures("b", 0, -1, -1), p)
	if opposite.Value != 1 {
		t.Errorf("opposite vectors should clip to 1, got %v", opposite.Value)
	}

	zeros, _ := e.Calculate(withFeatures("a", 0, 0, 0), withFeatures("b", 0, 0, 0), p)
	if zeros.Value != 0 {
		t.Errorf("two zero vectors should be equal, got %v", zeros.Value)
	}

	if _, err := e.Calculate(withFeatures("a", 0, 1, 2), withFeatures("b", 0, 1), p); !errors.Is(err, ErrCannotCompare) {
		t.Errorf("expected ErrCannotCompare for mismatched lengths, got %v", err)
	}
	if _, err := e.Calculate(withFeatures("a", 0), withFeatures("b", 0), p); !errors.Is(err, ErrCannotCompare) {
		t.Errorf("expected ErrCannotCompare for empty vectors, got %v", err)
	}
}

func TestEngines_Deterministic(t *testing.T) {
	a := withFeatures("a", 0xF0F0, 0.1, 0.7, 0.2)
	b := withFeatures("b", 0x0F0F, 0.3, 0.1, 0.9)
	p := profileWith(0.3, 1.2)

	for _, e := range []Engine{DigestEngine{}, PerceptualEngine{}, FeatureEngine{}} {
		first, err := e.Calculate(a, b, p)
		if err != nil {
			t.Fatalf("%s: %v", e.Type(), err)
		}
		for i := 0; i < 10; i++ {
			again, _ := e.Calculate(a, b, p)
			if again.Value != first.Value || again.Significant != first.Significant {
				t.Errorf("%s not deterministic: %+v vs %+v", e.Type(), again, first)
			}
		}
		if first.Value < 0 || first.Value > 1 {
			t.Errorf("%s value out of range: %v", e.Type(), first.Value)
		}
	}
}

func TestSignificance_ThresholdIsStrict(t *testing.T) {
	s, _ := DigestEngine{}.Calculate(&framecache.Record{Digest: "a"}, &framecache.Record{Digest: "b"}, profileWith(1, 1))
	if s.Significant {
		t.Error("a score equal to the threshold should not be significant")
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()

	for _, typ := range []string{TypeDigest, TypePerceptual, TypeFeature} {
		e, err := r.Get(typ)
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", typ, err)
		}
		if e.Type() != typ {
			t.Errorf("expected %s, got %s", typ, e.Type())
		}
	}

	if _, err := r.Get("pixel"); !errors.Is(err, ErrUnknownEngine) {
		t.Errorf("expected ErrUnknownEngine, got %v", err)
	}

	types := r.Types()
	if len(types) != 3 || types[0] != TypeDigest {
		t.Errorf("expected sorted types, got %v", types)
	}
}
