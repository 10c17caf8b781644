package router

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewCapabilityRouter(t *testing.T) {
	r := NewCapabilityRouter()
	if r == nil {
		t.Fatal("expected non-nil router")
	}
	if r.health == nil {
		t.Error("health map should be initialized")
	}
}

func TestCapabilityRouter_Route_Empty(t *testing.T) {
	r := NewCapabilityRouter()
	if result := r.Route(context.Background(), []string{"describe"}, nil); result != nil {
		t.Errorf("expected nil for no providers, got %v", result)
	}
}

func TestCapabilityRouter_Route_ExcludesPartialCoverage(t *testing.T) {
	r := NewCapabilityRouter()
	providers := []ProviderInfo{
		{ID: "describe_only", Capabilities: []string{"describe"}},
		{ID: "full", Capabilities: []string{"describe", "read-text"}},
	}

	result := r.Route(context.Background(), []string{"describe", "read-text"}, providers)
	if len(result) != 1 || result[0] != "full" {
		t.Errorf("expected [full], got %v", result)
	}

	if result := r.Route(context.Background(), []string{"detect-faces"}, providers); result != nil {
		t.Errorf("expected nil when nothing covers the request, got %v", result)
	}
}

func TestCapabilityRouter_Route_NoRequirements(t *testing.T) {
	r := NewCapabilityRouter()
	providers := []ProviderInfo{{ID: "a"}, {ID: "b"}}
	result := r.Route(context.Background(), nil, providers)
	if len(result) != 2 || result[0] != "a" || result[1] != "b" {
		t.Errorf("expected declaration order without health data, got %v", result)
	}
}

func TestCapabilityRouter_Route_HealthOrdering(t *testing.T) {
	r := NewCapabilityRouter()
	r.SetHealth(map[string]HealthMetrics{
		"slow": {LatencyMs: 900, Healthy: true},
		"fast": {LatencyMs: 100, Healthy: true},
		"down": {LatencyMs: 10, Healthy: false},
	})
	providers := []ProviderInfo{
		{ID: "down", Capabilities: []string{"describe"}},
		{ID: "unknown", Capabilities: []string{"describe"}},
		{ID: "slow", Capabilities: []string{"describe"}},
		{ID: "fast", Capabilities: []string{"describe"}},
	}

	result := r.Route(context.Background(), []string{"describe"}, providers)
	want := []string{"fast", "slow", "unknown", "down"}
	if len(result) != len(want) {
		t.Fatalf("expected %v, got %v", want, result)
	}
	for i := range want {
		if result[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], result[i])
		}
	}
}

func TestCapabilityRouter_Observe(t *testing.T) {
	r := NewCapabilityRouter()

	r.Observe("p", 100*time.Millisecond, nil)
	h := r.Health()["p"]
	if !h.Healthy || h.LatencyMs != 100 {
		t.Errorf("expected healthy with 100ms, got %+v", h)
	}

	r.Observe("p", 200*time.Millisecond, nil)
	if got := r.Health()["p"].LatencyMs; got != 130 {
		t.Errorf("expected smoothed latency 130, got %d", got)
	}

	r.Observe("p", 0, errors.New("boom"))
	h = r.Health()["p"]
	if h.Healthy || h.Failures != 1 {
		t.Errorf("expected unhealthy with 1 failure, got %+v", h)
	}

	r.Observe("p", 50*time.Millisecond, nil)
	h = r.Health()["p"]
	if !h.Healthy || h.Failures != 0 {
		t.Errorf("expected recovery after success, got %+v", h)
	}
}

func TestCapabilityRouter_HealthReturnsCopy(t *testing.T) {
	r := NewCapabilityRouter()
	r.Observe("p", time.Millisecond, nil)

	h := r.Health()
	h["p"] = HealthMetrics{Healthy: false}

	if !r.Health()["p"].Healthy {
		t.Error("mutating the returned map should not affect the router")
	}
}

func TestCovers(t *testing.T) {
	p := ProviderInfo{ID: "p", Capabilities: []string{"a", "b"}}
	if !covers(p, []string{"a"}) {
		t.Error("expected a to be covered")
	}
	if !covers(p, nil) {
		t.Error("expected empty requirement to be covered")
	}
	if covers(p, []string{"a", "c"}) {
		t.Error("expected c to be missing")
	}
}
