package router

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// latencySmoothing weights the newest observation in the latency average.
const latencySmoothing = 0.3

type CapabilityRouter struct {
	mu     sync.RWMutex
	health map[string]HealthMetrics
	now    func() time.Time
}

func NewCapabilityRouter() *CapabilityRouter {
	return &CapabilityRouter{
		health: make(map[string]HealthMetrics),
		now:    time.Now,
	}
}

func (r *CapabilityRouter) SetHealth(h map[string]HealthMetrics) {
	r.mu.Lock()
	r.health = h
	r.mu.Unlock()
}

func (r *CapabilityRouter) Health() map[string]HealthMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]HealthMetrics, len(r.health))
	for k, v := range r.health {
		out[k] = v
	}
	return out
}

// Observe records the outcome of one call to provider id.
func (r *CapabilityRouter) Observe(id string, latency time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.health[id]
	if err != nil {
		h.Failures++
		h.Healthy = false
	} else {
		ms := latency.Milliseconds()
		if ok && h.LatencyMs > 0 {
			ms = int64(math.Round(latencySmoothing*float64(ms) + (1-latencySmoothing)*float64(h.LatencyMs)))
		}
		h.LatencyMs = ms
		h.Failures = 0
		h.Healthy = true
	}
	h.UpdatedAt = r.now()
	r.health[id] = h
}

// Route returns the ids of providers covering every required capability.
// Healthy providers come first ordered by latency, then providers with no
// health data, then unhealthy ones.
func (r *CapabilityRouter) Route(_ context.Context, required []string, providers []ProviderInfo) []string {
	capable := make([]ProviderInfo, 0, len(providers))
	for _, p := range providers {
		if covers(p, required) {
			capable = append(capable, p)
		}
	}
	if len(capable) == 0 {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	sort.SliceStable(capable, func(i, j int) bool {
		return r.compareHealthLocked(capable[i].ID, capable[j].ID)
	})

	result := make([]string, len(capable))
	for i, p := range capable {
		result[i] = p.ID
	}
	return result
}

func (r *CapabilityRouter) rankLocked(id string) int {
	h, ok := r.health[id]
	switch {
	case !ok:
		return 1
	case h.Healthy:
		return 0
	default:
		return 2
	}
}

func (r *CapabilityRouter) compareHealthLocked(a, b string) bool {
	ra, rb := r.rankLocked(a), r.rankLocked(b)
	if ra != rb {
		return ra < rb
	}
	if ra != 0 {
		return false
	}
	return r.health[a].LatencyMs < r.health[b].LatencyMs
}
