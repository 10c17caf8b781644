package router

import (
	"context"
	"time"
)

type Router interface {
	Route(ctx context.Context, required []string, providers []ProviderInfo) []string
}

type HealthAwareRouter interface {
	SetHealth(map[string]HealthMetrics)
	Observe(id string, latency time.Duration, err error)
}

type ProviderInfo struct {
	ID           string
	Capabilities []string
}

type HealthMetrics struct {
	LatencyMs int64
	Failures  int
	Healthy   bool
	UpdatedAt time.Time
}

func covers(p ProviderInfo, required []string) bool {
	for _, r := range required {
		found := false
		for _, c := range p.Capabilities {
			if c == r {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
