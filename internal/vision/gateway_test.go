package vision

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	id        string
	caps      []Task
	err       error
	available bool
	calls     int
}

func (f *fakeProvider) ID() string           { return f.id }
func (f *fakeProvider) Capabilities() []Task { return f.caps }
func (f *fakeProvider) IsAvailable(context.Context) bool {
	return f.available
}

func (f *fakeProvider) Analyze(_ context.Context, _ []byte, opts AnalyzeOptions) (*AnalysisResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &AnalysisResult{CompletedTasks: opts.Tasks, Model: f.id}, nil
}

func TestGateway_RoutesToCapableProvider(t *testing.T) {
	textOnly := &fakeProvider{id: "ocr", caps: []Task{TaskReadText}}
	full := &fakeProvider{id: "full", caps: AllTasks}
	g := NewGateway(nil, textOnly, full)

	result, err := g.Analyze(context.Background(), []byte("x"), AnalyzeOptions{Tasks: []Task{TaskDescribe, TaskReadText}})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if result.Model != "full" {
		t.Errorf("expected full provider, got %s", result.Model)
	}
	if textOnly.calls != 0 {
		t.Error("provider lacking describe should not be called")
	}
}

func TestGateway_NoCapableProvider(t *testing.T) {
	g := NewGateway(nil, &fakeProvider{id: "ocr", caps: []Task{TaskReadText}})

	_, err := g.Analyze(context.Background(), []byte("x"), AnalyzeOptions{Tasks: []Task{TaskDetectFaces}})
	if !errors.Is(err, ErrNoCapableProvider) {
		t.Errorf("expected ErrNoCapableProvider, got %v", err)
	}

	_, err = NewGateway(nil).Analyze(context.Background(), []byte("x"), AnalyzeOptions{})
	if !errors.Is(err, ErrNoCapableProvider) {
		t.Errorf("expected ErrNoCapableProvider with no providers, got %v", err)
	}
}

func TestGateway_FallsThroughOnFailure(t *testing.T) {
	boom := errors.New("boom")
	broken := &fakeProvider{id: "broken", caps: AllTasks, err: boom}
	backup := &fakeProvider{id: "backup", caps: AllTasks}
	g := NewGateway(nil, broken, backup)

	result, err := g.Analyze(context.Background(), []byte("x"), AnalyzeOptions{Tasks: []Task{TaskDescribe}})
	if err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	if result.Model != "backup" {
		t.Errorf("expected backup provider, got %s", result.Model)
	}

	if _, err := g.Analyze(context.Background(), []byte("x"), AnalyzeOptions{Tasks: []Task{TaskDescribe}}); err != nil {
		t.Fatal(err)
	}
	if broken.calls != 1 {
		t.Errorf("unhealthy provider should be tried after healthy ones, got %d calls", broken.calls)
	}
}

func TestGateway_AllProvidersFail(t *testing.T) {
	boom := errors.New("boom")
	g := NewGateway(nil, &fakeProvider{id: "a", caps: AllTasks, err: boom})

	_, err := g.Analyze(context.Background(), []byte("x"), AnalyzeOptions{})
	if !errors.Is(err, ErrProviderFailed) || !errors.Is(err, boom) {
		t.Errorf("expected wrapped provider failure, got %v", err)
	}
}

func TestGateway_CheckHealth(t *testing.T) {
	up := &fakeProvider{id: "up", caps: AllTasks, available: true}
	down := &fakeProvider{id: "down", caps: AllTasks}
	g := NewGateway(nil, down, up)

	status := g.CheckHealth(context.Background())
	if !status["up"] || status["down"] {
		t.Errorf("unexpected status %v", status)
	}
	if !g.IsAvailable(context.Background()) {
		t.Error("gateway should be available when any provider is")
	}

	result, err := g.Analyze(context.Background(), []byte("x"), AnalyzeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Model != "up" {
		t.Errorf("expected healthy provider first, got %s", result.Model)
	}
}

func TestGateway_RegisterReplaces(t *testing.T) {
	g := NewGateway(nil, &fakeProvider{id: "p", caps: []Task{TaskDescribe}})
	g.Register(&fakeProvider{id: "p", caps: AllTasks})

	if n := len(g.Providers()); n != 1 {
		t.Errorf("expected 1 provider, got %d", n)
	}
	if n := len(g.Capabilities()); n != len(AllTasks) {
		t.Errorf("expected replaced capabilities, got %d", n)
	}
}
