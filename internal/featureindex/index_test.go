package featureindex

import (
	"context"
	"errors"
	"testing"

	"github.com/eleven-am/perception-backend/internal/framecache"
	"github.com/eleven-am/perception-backend/internal/vision"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

func TestPointID(t *testing.T) {
	a := PointID("abc")
	if a != PointID("abc") {
		t.Error("point id must be stable for a digest")
	}
	if a == PointID("abd") {
		t.Error("different digests must not share a point id")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("point id is not a uuid: %v", err)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	rec := &framecache.Record{
		Digest:            "d1",
		OriginalTimestamp: 1700000000123,
		SourceStreamID:    "cam",
		Result:            &vision.AnalysisResult{Description: "a desk"},
	}

	m, ok := matchFrom(qdrant.NewValueMap(payloadFor(rec)), 0.9)
	if !ok {
		t.Fatal("expected match")
	}
	want := Match{Digest: "d1", StreamID: "cam", Timestamp: 1700000000123, Summary: "a desk", Score: 0.9}
	if m != want {
		t.Errorf("got %+v, want %+v", m, want)
	}

	if _, ok := matchFrom(map[string]*qdrant.Value{}, 1); ok {
		t.Error("payload without digest must be skipped")
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, defaultLimit},
		{-3, defaultLimit},
		{5, 5},
		{1000, maxLimit},
	}
	for _, tt := range tests {
		if got := clampLimit(tt.in); got != tt.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestIndex_NotConfigured(t *testing.T) {
	ix := New(nil, "", nil)
	ctx := context.Background()

	if ix.collection != DefaultCollection {
		t.Errorf("expected default collection, got %s", ix.collection)
	}
	if err := ix.EnsureCollection(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("EnsureCollection: expected ErrNotConfigured, got %v", err)
	}
	if err := ix.Upsert(ctx, &framecache.Record{Digest: "d"}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Upsert: expected ErrNotConfigured, got %v", err)
	}
	if _, err := ix.Search(ctx, make([]float32, vision.FeatureVectorSize), "", 3); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Search: expected ErrNotConfigured, got %v", err)
	}
}

func TestCheckDims(t *testing.T) {
	ix := New(nil, "frames", nil)
	if err := ix.checkDims(make([]float32, vision.FeatureVectorSize)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ix.checkDims([]float32{1, 2}); !errors.Is(err, ErrDimension) {
		t.Errorf("expected ErrDimension, got %v", err)
	}
}
