package vision

import (
	"slices"
	"time"
)

type Config struct {
	OllamaURL string
	Model     string
	Timeout   time.Duration
}

type Task string

const (
	TaskDescribe      Task = "describe"
	TaskDetectObjects Task = "detect-objects"
	TaskReadText      Task = "read-text"
	TaskDetectFaces   Task = "detect-faces"
)

var AllTasks = []Task{TaskDescribe, TaskDetectObjects, TaskReadText, TaskDetectFaces}

func (t Task) Valid() bool {
	return slices.Contains(AllTasks, t)
}

func ParseTasks(names []string) []Task {
	tasks := make([]Task, 0, len(names))
	for _, n := range names {
		t := Task(n)
		if t.Valid() && !slices.Contains(tasks, t) {
			tasks = append(tasks, t)
		}
	}
	return tasks
}

type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Frame is the envelope delivered to the processor. Digest is computed from
// Data when empty.
type Frame struct {
	StreamID      string     `json:"stream_id,omitempty"`
	FrameID       string     `json:"frame_id,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Timestamp     int64      `json:"timestamp"`
	Resolution    Resolution `json:"resolution"`
	Digest        string     `json:"digest,omitempty"`
	Tasks         []Task     `json:"tasks,omitempty"`
	Data          []byte     `json:"-"`
}

type Features struct {
	PerceptualHash uint64    `json:"perceptual_hash"`
	Vector         []float32 `json:"vector,omitempty"`
}

func (f *Features) Clone() *Features {
	if f == nil {
		return nil
	}
	out := *f
	out.Vector = slices.Clone(f.Vector)
	return &out
}

type DetectedObject struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type AnalyzeOptions struct {
	Tasks              []Task
	ModelID            string
	IncludeRawResponse bool
}

type AnalysisResult struct {
	CompletedTasks   []Task           `json:"completed_tasks"`
	Description      string           `json:"description,omitempty"`
	Objects          []DetectedObject `json:"objects,omitempty"`
	Text             string           `json:"text,omitempty"`
	FaceCount        int              `json:"face_count,omitempty"`
	Model            string           `json:"model,omitempty"`
	ProcessingTimeMs int64            `json:"processing_time_ms"`
	Raw              string           `json:"raw,omitempty"`
}

// Covers reports whether every requested task was completed. Tasks absent
// from CompletedTasks count as missing.
func (r *AnalysisResult) Covers(tasks []Task) bool {
	if r == nil {
		return false
	}
	for _, t := range tasks {
		if !slices.Contains(r.CompletedTasks, t) {
			return false
		}
	}
	return true
}

func (r *AnalysisResult) Clone() *AnalysisResult {
	if r == nil {
		return nil
	}
	out := *r
	out.CompletedTasks = slices.Clone(r.CompletedTasks)
	out.Objects = slices.Clone(r.Objects)
	return &out
}
