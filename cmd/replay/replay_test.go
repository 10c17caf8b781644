package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eleven-am/perception-backend/internal/processor"
	"github.com/eleven-am/perception-backend/internal/vision"
)

func writePNG(t *testing.T, path string, shade uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetGray(x, y, color.Gray{Y: shade})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestListFrames(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "b.png"), 10)
	writePNG(t, filepath.Join(dir, "a.PNG"), 10)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.png"), 0o755); err != nil {
		t.Fatal(err)
	}

	paths, err := listFrames(dir)
	if err != nil {
		t.Fatalf("listFrames: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 frames, got %v", paths)
	}
	if filepath.Base(paths[0]) != "a.PNG" || filepath.Base(paths[1]) != "b.png" {
		t.Errorf("unexpected order: %v", paths)
	}

	if _, err := listFrames(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestRunReplay_DryRun(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "001.png"), 20)
	writePNG(t, filepath.Join(dir, "002.png"), 20)
	writePNG(t, filepath.Join(dir, "003.png"), 230)

	var out bytes.Buffer
	opts := replayOptions{
		streamID: "test",
		tasks:    []string{"describe"},
		interval: time.Second,
		dryRun:   true,
	}
	if err := runReplay(context.Background(), &out, dir, opts); err != nil {
		t.Fatalf("runReplay: %v", err)
	}

	text := out.String()
	if !strings.Contains(text, "001.png") || !strings.Contains(text, string(processor.EventAnalysisCompleted)) {
		t.Errorf("first frame should be analyzed, got:\n%s", text)
	}
	if !strings.Contains(text, "Frames replayed: 3") {
		t.Errorf("missing summary, got:\n%s", text)
	}
}

func TestRunReplay_JSON(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "001.png"), 50)

	var out bytes.Buffer
	opts := replayOptions{streamID: "json", interval: time.Second, dryRun: true, jsonOut: true}
	if err := runReplay(context.Background(), &out, dir, opts); err != nil {
		t.Fatalf("runReplay: %v", err)
	}

	dec := json.NewDecoder(&out)
	var types []processor.EventType
	for dec.More() {
		var ev processor.Event
		if err := dec.Decode(&ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev.StreamID != "json" {
			t.Errorf("stream id = %q", ev.StreamID)
		}
		types = append(types, ev.Type)
	}
	if len(types) == 0 || types[len(types)-1] != processor.EventAnalysisCompleted {
		t.Errorf("expected analysis-completed last, got %v", types)
	}
}

func TestRunReplay_Errors(t *testing.T) {
	empty := t.TempDir()
	if err := runReplay(context.Background(), &bytes.Buffer{}, empty, replayOptions{dryRun: true}); err == nil {
		t.Error("expected error for empty directory")
	}

	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "001.png"), 50)
	opts := replayOptions{dryRun: true, tasks: []string{"juggle"}}
	if err := runReplay(context.Background(), &bytes.Buffer{}, dir, opts); err == nil {
		t.Error("expected error for unknown tasks")
	}
}

func TestDryRunProvider(t *testing.T) {
	p := dryRunProvider{}
	if _, err := p.Analyze(context.Background(), nil, visionOpts()); err == nil {
		t.Error("expected error for empty data")
	}
	res, err := p.Analyze(context.Background(), []byte("frame"), visionOpts())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !res.Covers(visionOpts().Tasks) {
		t.Errorf("result should cover requested tasks: %+v", res)
	}
}

func visionOpts() vision.AnalyzeOptions {
	return vision.AnalyzeOptions{Tasks: []vision.Task{vision.TaskDescribe, vision.TaskReadText}}
}
