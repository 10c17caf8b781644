package profilestore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eleven-am/perception-backend/internal/calibration"
	"github.com/labstack/echo/v4"
)

func TestHandler_Routes(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	_, _ = s.Save(ctx, profileAt("cam", calibration.StableLowActivity, 0.5, base))
	_, _ = s.Save(ctx, profileAt("cam", calibration.FacesDominant, 0.8, base.Add(time.Second)))

	e := echo.New()
	NewHandler(s, nil).RegisterRoutes(e.Group("/v1/vision"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/vision/profiles/cam/history?limit=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var hist HistoryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &hist); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(hist.Snapshots) != 1 || hist.Snapshots[0].Type != calibration.FacesDominant {
		t.Errorf("unexpected history %+v", hist)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/vision/profiles/cam/latest", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/vision/profiles/ghost/latest", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/vision/profiles/ghost/history", nil))
	if !json.Valid(rec.Body.Bytes()) || rec.Code != http.StatusOK {
		t.Errorf("expected empty history, got %d %s", rec.Code, rec.Body.String())
	}
}
