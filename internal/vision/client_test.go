package vision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewClient_Defaults(t *testing.T) {
	cfg := Config{
		OllamaURL: "http://localhost:11434/",
		Model:     "qwen2.5vl",
	}
	client := NewClient(cfg)
	if client == nil {
		t.Fatal("NewClient should not return nil")
	}
	if client.baseURL != "http://localhost:11434" {
		t.Errorf("expected trailing slash trimmed, got %s", client.baseURL)
	}
	if client.model != cfg.Model {
		t.Errorf("expected model %s, got %s", cfg.Model, client.model)
	}
	if client.httpClient.Timeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", client.httpClient.Timeout)
	}
	if client.ID() != "ollama:qwen2.5vl" {
		t.Errorf("unexpected id %s", client.ID())
	}
	if len(client.Capabilities()) != len(AllTasks) {
		t.Errorf("expected all tasks supported, got %v", client.Capabilities())
	}
}

func TestNewClient_CustomTimeout(t *testing.T) {
	client := NewClient(Config{OllamaURL: "http://localhost:11434", Model: "m", Timeout: 10 * time.Second})
	if client.httpClient.Timeout != 10*time.Second {
		t.Errorf("expected timeout 10s, got %v", client.httpClient.Timeout)
	}
}

func TestClient_Analyze_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/generate" {
			t.Errorf("expected /api/generate, got %s", r.URL.Path)
		}

		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("expected model 'test-model', got %s", req.Model)
		}
		if len(req.Images) != 1 {
			t.Errorf("expected 1 image, got %d", len(req.Images))
		}
		if req.Format != "json" {
			t.Errorf("expected json format, got %q", req.Format)
		}
		if req.Stream {
			t.Error("stream should be false")
		}
		if !strings.Contains(req.Prompt, `"text"`) || !strings.Contains(req.Prompt, `"description"`) {
			t.Errorf("prompt should mention requested keys: %s", req.Prompt)
		}

		json.NewEncoder(w).Encode(ollamaResponse{
			Response: `{"description":"a desk","text":"hello"}`,
			Done:     true,
		})
	}))
	defer server.Close()

	client := NewClient(Config{OllamaURL: server.URL, Model: "test-model"})
	result, err := client.Analyze(context.Background(), []byte("img"), AnalyzeOptions{
		Tasks:              []Task{TaskDescribe, TaskReadText},
		IncludeRawResponse: true,
	})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if result.Description != "a desk" || result.Text != "hello" {
		t.Errorf("unexpected result: %+v", result)
	}
	if !result.Covers([]Task{TaskDescribe, TaskReadText}) {
		t.Errorf("expected both tasks completed, got %v", result.CompletedTasks)
	}
	if result.Model != "test-model" {
		t.Errorf("expected model recorded, got %s", result.Model)
	}
	if result.Raw == "" {
		t.Error("expected raw response when requested")
	}
}

func TestClient_Analyze_ModelOverride(t *testing.T) {
	var model string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		json.NewDecoder(r.Body).Decode(&req)
		model = req.Model
		json.NewEncoder(w).Encode(ollamaResponse{Response: `{"description":"x"}`, Done: true})
	}))
	defer server.Close()

	client := NewClient(Config{OllamaURL: server.URL, Model: "default"})
	if _, err := client.Analyze(context.Background(), []byte("x"), AnalyzeOptions{ModelID: "llava"}); err != nil {
		t.Fatal(err)
	}
	if model != "llava" {
		t.Errorf("expected model override, got %s", model)
	}
}

func TestClient_Analyze_NoFrameData(t *testing.T) {
	client := NewClient(Config{OllamaURL: "http://localhost", Model: "m"})
	if _, err := client.Analyze(context.Background(), nil, AnalyzeOptions{}); !errors.Is(err, ErrNoFrameData) {
		t.Errorf("expected ErrNoFrameData, got %v", err)
	}
}

func TestClient_Analyze_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(Config{OllamaURL: server.URL, Model: "m"})
	if _, err := client.Analyze(context.Background(), []byte("x"), AnalyzeOptions{}); err == nil {
		t.Error("expected error for server error response")
	}
}

func TestClient_Analyze_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := NewClient(Config{OllamaURL: server.URL, Model: "m"})
	if _, err := client.Analyze(context.Background(), []byte("x"), AnalyzeOptions{}); err == nil {
		t.Error("expected error for invalid JSON response")
	}
}

func TestClient_Analyze_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		json.NewEncoder(w).Encode(ollamaResponse{Response: "{}", Done: true})
	}))
	defer server.Close()

	client := NewClient(Config{OllamaURL: server.URL, Model: "m"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.Analyze(ctx, []byte("x"), AnalyzeOptions{}); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestParseTaskOutput(t *testing.T) {
	t.Run("plain text counts as description", func(t *testing.T) {
		r := parseTaskOutput("A cat on a sofa.", []Task{TaskDescribe, TaskReadText})
		if r.Description != "A cat on a sofa." {
			t.Errorf("unexpected description %q", r.Description)
		}
		if len(r.CompletedTasks) != 1 || r.CompletedTasks[0] != TaskDescribe {
			t.Errorf("expected only describe completed, got %v", r.CompletedTasks)
		}
	})

	t.Run("plain text without describe completes nothing", func(t *testing.T) {
		r := parseTaskOutput("whatever", []Task{TaskReadText})
		if len(r.CompletedTasks) != 0 {
			t.Errorf("expected nothing completed, got %v", r.CompletedTasks)
		}
	})

	t.Run("missing keys are not completed", func(t *testing.T) {
		r := parseTaskOutput(`{"objects":[{"label":"cup","confidence":0.8}]}`, []Task{TaskDetectObjects, TaskDetectFaces})
		if len(r.CompletedTasks) != 1 || r.CompletedTasks[0] != TaskDetectObjects {
			t.Errorf("expected only detect-objects, got %v", r.CompletedTasks)
		}
		if len(r.Objects) != 1 || r.Objects[0].Label != "cup" {
			t.Errorf("unexpected objects %+v", r.Objects)
		}
	})

	t.Run("zero faces still completes", func(t *testing.T) {
		r := parseTaskOutput(`{"face_count":0,"text":""}`, []Task{TaskDetectFaces, TaskReadText})
		if !r.Covers([]Task{TaskDetectFaces, TaskReadText}) {
			t.Errorf("expected both completed, got %v", r.CompletedTasks)
		}
	})
}

func TestClient_IsAvailable_True(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("expected /api/tags, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(Config{OllamaURL: server.URL, Model: "m"})
	if !client.IsAvailable(context.Background()) {
		t.Error("expected IsAvailable to return true")
	}
}

func TestClient_IsAvailable_ServerDown(t *testing.T) {
	client := NewClient(Config{OllamaURL: "http://localhost:99999", Model: "m"})
	if client.IsAvailable(context.Background()) {
		t.Error("expected IsAvailable to return false for unreachable server")
	}
}

func TestClient_IsAvailable_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(Config{OllamaURL: server.URL, Model: "m"})
	if client.IsAvailable(context.Background()) {
		t.Error("expected IsAvailable to return false for 503")
	}
}
