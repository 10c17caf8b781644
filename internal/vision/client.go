package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"
)

var ErrNoFrameData = errors.New("no frame data provided")

// Client analyzes frames with an Ollama vision model.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
	id         string
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.OllamaURL, "/"),
		model:      cfg.Model,
		id:         "ollama:" + cfg.Model,
	}
}

type ollamaRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Format string   `json:"format,omitempty"`
	Stream bool     `json:"stream"`
}

type ollamaResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type taskOutput struct {
	Description string           `json:"description"`
	Objects     []DetectedObject `json:"objects"`
	Text        string           `json:"text"`
	FaceCount   *int             `json:"face_count"`
}

func (c *Client) ID() string { return c.id }

func (c *Client) Capabilities() []Task { return slices.Clone(AllTasks) }

func (c *Client) Analyze(ctx context.Context, data []byte, opts AnalyzeOptions) (*AnalysisResult, error) {
	if len(data) == 0 {
		return nil, ErrNoFrameData
	}
	tasks := opts.Tasks
	if len(tasks) == 0 {
		tasks = []Task{TaskDescribe}
	}
	model := c.model
	if opts.ModelID != "" {
		model = opts.ModelID
	}

	body, err := json.Marshal(ollamaRequest{
		Model:  model,
		Prompt: buildPrompt(tasks),
		Images: []string{base64.StdEncoding.EncodeToString(data)},
		Format: "json",
		Stream: false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var ollamaResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	result := parseTaskOutput(ollamaResp.Response, tasks)
	result.Model = model
	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	if opts.IncludeRawResponse {
		result.Raw = ollamaResp.Response
	}
	return result, nil
}

func buildPrompt(tasks []Task) string {
	var b strings.Builder
	b.WriteString("Analyze this image and answer with a single JSON object containing only these keys:\n")
	for _, t := range tasks {
		switch t {
		case TaskDescribe:
			b.WriteString(`- "description": a concise description of the main content` + "\n")
		case TaskDetectObjects:
			b.WriteString(`- "objects": list of {"label": string, "confidence": number between 0 and 1}` + "\n")
		case TaskReadText:
			b.WriteString(`- "text": all legible text, empty string if none` + "\n")
		case TaskDetectFaces:
			b.WriteString(`- "face_count": number of human faces visible` + "\n")
		}
	}
	return b.String()
}

// parseTaskOutput marks a task completed only when its key came back. Non-JSON
// output is accepted as a plain description.
func parseTaskOutput(raw string, tasks []Task) *AnalysisResult {
	result := &AnalysisResult{}

	var out taskOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		if slices.Contains(tasks, TaskDescribe) && strings.TrimSpace(raw) != "" {
			result.Description = strings.TrimSpace(raw)
			result.CompletedTasks = []Task{TaskDescribe}
		}
		return result
	}

	var keys map[string]json.RawMessage
	_ = json.Unmarshal([]byte(raw), &keys)

	for _, t := range tasks {
		switch t {
		case TaskDescribe:
			if out.Description != "" {
				result.Description = out.Description
				result.CompletedTasks = append(result.CompletedTasks, t)
			}
		case TaskDetectObjects:
			if _, ok := keys["objects"]; ok {
				result.Objects = out.Objects
				result.CompletedTasks = append(result.CompletedTasks, t)
			}
		case TaskReadText:
			if _, ok := keys["text"]; ok {
				result.Text = out.Text
				result.CompletedTasks = append(result.CompletedTasks, t)
			}
		case TaskDetectFaces:
			if out.FaceCount != nil {
				result.FaceCount = *out.FaceCount
				result.CompletedTasks = append(result.CompletedTasks, t)
			}
		}
	}
	return result
}

func (c *Client) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
