package featureindex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/eleven-am/perception-backend/internal/framecache"
	"github.com/eleven-am/perception-backend/internal/vision"
	"github.com/labstack/echo/v4"
)

func TestHandler_Search(t *testing.T) {
	cache, err := framecache.NewMemoryCache(framecache.Config{CacheID: "test"}, nil)
	if err != nil {
		t.Fatalf("NewMemoryCache failed: %v", err)
	}
	ctx := context.Background()
	_ = cache.Set(ctx, &framecache.Record{Digest: "bare"})
	_ = cache.Set(ctx, &framecache.Record{
		Digest:   "indexed",
		Features: &vision.Features{Vector: make([]float32, vision.FeatureVectorSize)},
	})

	e := echo.New()
	NewHandler(New(nil, "", nil), cache, nil).RegisterRoutes(e.Group("/v1/vision"))

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{`, http.StatusBadRequest},
		{"empty query", `{}`, http.StatusBadRequest},
		{"unknown digest", `{"digest":"missing"}`, http.StatusNotFound},
		{"digest without features", `{"digest":"bare"}`, http.StatusBadRequest},
		{"index not configured", `{"digest":"indexed"}`, http.StatusServiceUnavailable},
		{"raw vector", `{"vector":[1,2,3]}`, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/vision/search", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}
