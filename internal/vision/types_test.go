package vision

import "testing"

func TestParseTasks(t *testing.T) {
	tasks := ParseTasks([]string{"describe", "bogus", "read-text", "describe"})
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %v", tasks)
	}
	if tasks[0] != TaskDescribe || tasks[1] != TaskReadText {
		t.Errorf("unexpected tasks: %v", tasks)
	}
	if got := ParseTasks(nil); len(got) != 0 {
		t.Errorf("expected no tasks, got %v", got)
	}
}

func TestTask_Valid(t *testing.T) {
	for _, task := range AllTasks {
		if !task.Valid() {
			t.Errorf("expected %s to be valid", task)
		}
	}
	if Task("summarize").Valid() {
		t.Error("expected unknown task to be invalid")
	}
}

func TestAnalysisResult_Covers(t *testing.T) {
	r := &AnalysisResult{CompletedTasks: []Task{TaskDescribe, TaskReadText}}

	if !r.Covers([]Task{TaskDescribe}) {
		t.Error("expected describe to be covered")
	}
	if !r.Covers([]Task{TaskReadText, TaskDescribe}) {
		t.Error("expected both tasks to be covered")
	}
	if r.Covers([]Task{TaskDescribe, TaskDetectFaces}) {
		t.Error("expected detect-faces to be missing")
	}
	if !r.Covers(nil) {
		t.Error("expected empty request to be covered")
	}

	var nilResult *AnalysisResult
	if nilResult.Covers([]Task{TaskDescribe}) {
		t.Error("nil result should cover nothing")
	}
}

func TestAnalysisResult_Clone(t *testing.T) {
	r := &AnalysisResult{
		CompletedTasks: []Task{TaskDetectObjects},
		Objects:        []DetectedObject{{Label: "cup", Confidence: 0.9}},
	}
	c := r.Clone()
	c.Objects[0].Label = "mug"
	c.CompletedTasks[0] = TaskDescribe

	if r.Objects[0].Label != "cup" || r.CompletedTasks[0] != TaskDetectObjects {
		t.Error("clone should not share slices with the original")
	}
}

func TestFeatures_Clone(t *testing.T) {
	f := &Features{PerceptualHash: 7, Vector: []float32{1, 2}}
	c := f.Clone()
	c.Vector[0] = 9
	if f.Vector[0] != 1 {
		t.Error("clone should copy the vector")
	}
	var nilFeatures *Features
	if nilFeatures.Clone() != nil {
		t.Error("nil clone should be nil")
	}
}

func TestDigest(t *testing.T) {
	a := Digest([]byte("frame-a"))
	if len(a) != 32 {
		t.Errorf("expected 32 hex chars, got %d", len(a))
	}
	if a != Digest([]byte("frame-a")) {
		t.Error("digest should be stable")
	}
	if a == Digest([]byte("frame-b")) {
		t.Error("different content should give different digests")
	}
}
