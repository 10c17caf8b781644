package vision

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func solid(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func checkerboard(w, h, cell int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/cell+y/cell)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func TestExtractMetrics_Undecodable(t *testing.T) {
	if _, err := ExtractMetrics(nil, nil); !errors.Is(err, ErrUndecodable) {
		t.Errorf("expected ErrUndecodable for empty data, got %v", err)
	}
	if _, err := ExtractMetrics([]byte("not an image"), nil); !errors.Is(err, ErrUndecodable) {
		t.Errorf("expected ErrUndecodable for garbage, got %v", err)
	}
}

func TestExtractMetrics_DarkFlatFrame(t *testing.T) {
	fa, err := ExtractMetrics(encodePNG(t, solid(64, 48, 20)), nil)
	if err != nil {
		t.Fatalf("ExtractMetrics failed: %v", err)
	}
	if fa.Resolution != (Resolution{Width: 64, Height: 48}) {
		t.Errorf("unexpected resolution: %+v", fa.Resolution)
	}
	m := fa.Metrics
	if m.Brightness > 0.1 {
		t.Errorf("expected dark frame, got brightness %v", m.Brightness)
	}
	if m.Complexity != 0 {
		t.Errorf("expected no edges in a flat frame, got %v", m.Complexity)
	}
	if m.Motion != 0 || m.Stability != 1 {
		t.Errorf("expected no motion without a previous thumbnail, got %+v", m)
	}
	if len(fa.Features.Vector) != histBins+hashSize*hashSize {
		t.Errorf("unexpected vector length %d", len(fa.Features.Vector))
	}
	if fa.Features.PerceptualHash != 0 {
		t.Errorf("flat frame should hash to 0, got %x", fa.Features.PerceptualHash)
	}
}

func TestAnalyzeImage_TexturedFrame(t *testing.T) {
	flat := AnalyzeImage(solid(128, 128, 128), nil)
	busy := AnalyzeImage(checkerboard(128, 128, 32), nil)

	if busy.Metrics.Complexity <= flat.Metrics.Complexity {
		t.Errorf("expected checkerboard to be more complex: %v <= %v", busy.Metrics.Complexity, flat.Metrics.Complexity)
	}
	if busy.Metrics.Clarity <= flat.Metrics.Clarity {
		t.Errorf("expected checkerboard to be clearer: %v <= %v", busy.Metrics.Clarity, flat.Metrics.Clarity)
	}
	if busy.Features.PerceptualHash == 0 {
		t.Error("expected a non-zero hash for a textured frame")
	}
}

func TestAnalyzeImage_Motion(t *testing.T) {
	first := AnalyzeImage(solid(64, 64, 10), nil)
	same := AnalyzeImage(solid(64, 64, 10), first.Thumbnail)
	if same.Metrics.Motion != 0 {
		t.Errorf("expected no motion between identical frames, got %v", same.Metrics.Motion)
	}

	changed := AnalyzeImage(solid(64, 64, 250), first.Thumbnail)
	if changed.Metrics.Motion != 1 {
		t.Errorf("expected saturated motion for a full-frame change, got %v", changed.Metrics.Motion)
	}
	if changed.Metrics.Stability != 0 {
		t.Errorf("expected zero stability, got %v", changed.Metrics.Stability)
	}
}

func TestEnrichMetrics(t *testing.T) {
	base := AnalyzeImage(solid(32, 32, 100), nil).Metrics

	if got := EnrichMetrics(base, nil, 0.5); got != base {
		t.Error("nil result should leave metrics unchanged")
	}

	r := &AnalysisResult{
		CompletedTasks: []Task{TaskReadText, TaskDetectFaces, TaskDetectObjects},
		Text:           string(bytes.Repeat([]byte("a"), 400)),
		FaceCount:      1,
		Objects: []DetectedObject{
			{Label: "cup", Confidence: 0.9},
			{Label: "ghost", Confidence: 0.1},
		},
	}
	got := EnrichMetrics(base, r, 0.5)
	if got.TextScore != 1 {
		t.Errorf("expected saturated text score, got %v", got.TextScore)
	}
	if got.FaceScore != 0.75 {
		t.Errorf("expected face score 0.75, got %v", got.FaceScore)
	}
	if got.Complexity != 0.1 {
		t.Errorf("expected complexity from one confident object, got %v", got.Complexity)
	}

	partial := &AnalysisResult{CompletedTasks: []Task{TaskDescribe}, Text: "ignored"}
	if got := EnrichMetrics(base, partial, 0.5); got.TextScore != base.TextScore {
		t.Error("text score should only change when read-text completed")
	}
}
