package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/eleven-am/perception-backend/internal/router"
)

var (
	ErrNoCapableProvider = errors.New("no capable vision provider")
	ErrProviderFailed    = errors.New("vision provider failed")
)

// Provider performs full image analysis for a set of tasks. Tasks missing
// from the result's CompletedTasks are treated as not done.
type Provider interface {
	ID() string
	Capabilities() []Task
	Analyze(ctx context.Context, data []byte, opts AnalyzeOptions) (*AnalysisResult, error)
	IsAvailable(ctx context.Context) bool
}

// Gateway routes each analysis to a provider covering the requested tasks
// and falls through to the next candidate when a call fails.
type Gateway struct {
	router *router.CapabilityRouter
	logger *slog.Logger

	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

func NewGateway(logger *slog.Logger, providers ...Provider) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		router:    router.NewCapabilityRouter(),
		logger:    logger.With("component", "vision-gateway"),
		providers: make(map[string]Provider),
	}
	for _, p := range providers {
		g.Register(p)
	}
	return g
}

func (g *Gateway) Register(p Provider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.providers[p.ID()]; !ok {
		g.order = append(g.order, p.ID())
	}
	g.providers[p.ID()] = p
}

func (g *Gateway) Providers() []Provider {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Provider, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.providers[id])
	}
	return out
}

// ProviderCapabilities lists the tasks provider id advertises.
func (g *Gateway) ProviderCapabilities(id string) []string {
	g.mu.RLock()
	p, ok := g.providers[id]
	g.mu.RUnlock()
	if !ok {
		return nil
	}
	return taskStrings(p.Capabilities())
}

func (g *Gateway) Health() map[string]router.HealthMetrics {
	return g.router.Health()
}

func (g *Gateway) ID() string { return "gateway" }

func (g *Gateway) Capabilities() []Task {
	var out []Task
	for _, p := range g.Providers() {
		for _, t := range p.Capabilities() {
			if !slices.Contains(out, t) {
				out = append(out, t)
			}
		}
	}
	return out
}

func (g *Gateway) Analyze(ctx context.Context, data []byte, opts AnalyzeOptions) (*AnalysisResult, error) {
	providers := g.Providers()
	infos := make([]router.ProviderInfo, 0, len(providers))
	byID := make(map[string]Provider, len(providers))
	for _, p := range providers {
		infos = append(infos, router.ProviderInfo{ID: p.ID(), Capabilities: taskStrings(p.Capabilities())})
		byID[p.ID()] = p
	}

	candidates := g.router.Route(ctx, taskStrings(opts.Tasks), infos)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w for tasks %v", ErrNoCapableProvider, opts.Tasks)
	}

	var lastErr error
	for _, id := range candidates {
		start := time.Now()
		result, err := byID[id].Analyze(ctx, data, opts)
		g.router.Observe(id, time.Since(start), err)
		if err == nil {
			return result, nil
		}
		lastErr = err
		g.logger.Warn("provider analysis failed", "provider", id, "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrProviderFailed, lastErr)
}

func (g *Gateway) IsAvailable(ctx context.Context) bool {
	for _, p := range g.Providers() {
		if p.IsAvailable(ctx) {
			return true
		}
	}
	return false
}

// CheckHealth probes every provider and feeds the results into routing.
func (g *Gateway) CheckHealth(ctx context.Context) map[string]bool {
	out := make(map[string]bool)
	for _, p := range g.Providers() {
		start := time.Now()
		ok := p.IsAvailable(ctx)
		var err error
		if !ok {
			err = errors.New("unavailable")
		}
		g.router.Observe(p.ID(), time.Since(start), err)
		out[p.ID()] = ok
	}
	return out
}

// RunHealthChecks probes providers every interval until ctx is done.
func (g *Gateway) RunHealthChecks(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.CheckHealth(ctx)
		}
	}
}

func taskStrings(tasks []Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = string(t)
	}
	return out
}
