package featureindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/eleven-am/perception-backend/internal/framecache"
	"github.com/eleven-am/perception-backend/internal/vision"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

const (
	DefaultCollection = "frames"
	defaultLimit      = 10
	maxLimit          = 100
)

var (
	ErrNotConfigured = errors.New("feature index not configured")
	ErrDimension     = errors.New("feature vector has wrong dimension")
)

// pointNamespace derives stable point ids from frame digests so re-analysis
// of the same frame overwrites its point.
var pointNamespace = uuid.MustParse("6f1c0a3e-5b7d-4c2a-9e41-7d2f8b3c9a10")

type Match struct {
	Digest    string  `json:"digest"`
	StreamID  string  `json:"stream_id,omitempty"`
	Timestamp int64   `json:"timestamp"`
	Summary   string  `json:"summary,omitempty"`
	Score     float32 `json:"score"`
}

// Index stores frame feature vectors in a qdrant collection.
type Index struct {
	client     *qdrant.Client
	collection string
	dims       uint64
	logger     *slog.Logger
}

func New(client *qdrant.Client, collection string, logger *slog.Logger) *Index {
	if collection == "" {
		collection = DefaultCollection
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		client:     client,
		collection: collection,
		dims:       uint64(vision.FeatureVectorSize),
		logger:     logger.With("component", "feature_index"),
	}
}

func PointID(digest string) string {
	return uuid.NewSHA1(pointNamespace, []byte(digest)).String()
}

func (ix *Index) EnsureCollection(ctx context.Context) error {
	if ix.client == nil {
		return ErrNotConfigured
	}
	exists, err := ix.client.CollectionExists(ctx, ix.collection)
	if err != nil {
		return fmt.Errorf("check collection %q: %w", ix.collection, err)
	}
	if exists {
		return nil
	}

	err = ix.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: ix.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     ix.dims,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %q: %w", ix.collection, err)
	}

	keyword := qdrant.FieldType_FieldTypeKeyword
	if _, err := ix.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: ix.collection,
		FieldName:      "stream_id",
		FieldType:      &keyword,
	}); err != nil {
		return fmt.Errorf("index stream_id: %w", err)
	}

	ix.logger.Info("created collection", "collection", ix.collection, "dims", ix.dims)
	return nil
}

// Upsert indexes the feature vector of rec. Records without features are
// ignored.
func (ix *Index) Upsert(ctx context.Context, rec *framecache.Record) error {
	if ix.client == nil {
		return ErrNotConfigured
	}
	if rec == nil || rec.Features == nil || len(rec.Features.Vector) == 0 {
		return nil
	}
	if err := ix.checkDims(rec.Features.Vector); err != nil {
		return err
	}

	_, err := ix.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: ix.collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewID(PointID(rec.Digest)),
				Vectors: qdrant.NewVectors(rec.Features.Vector...),
				Payload: qdrant.NewValueMap(payloadFor(rec)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("upsert %s: %w", rec.Digest, err)
	}
	return nil
}

// Search returns the frames nearest to vector, optionally restricted to one
// stream.
func (ix *Index) Search(ctx context.Context, vector []float32, streamID string, limit int) ([]Match, error) {
	if ix.client == nil {
		return nil, ErrNotConfigured
	}
	if err := ix.checkDims(vector); err != nil {
		return nil, err
	}

	query := &qdrant.QueryPoints{
		CollectionName: ix.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(clampLimit(limit))),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if streamID != "" {
		query.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("stream_id", streamID)},
		}
	}

	scored, err := ix.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", ix.collection, err)
	}

	matches := make([]Match, 0, len(scored))
	for _, sp := range scored {
		m, ok := matchFrom(sp.GetPayload(), sp.GetScore())
		if !ok {
			continue
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (ix *Index) Delete(ctx context.Context, digest string) error {
	if ix.client == nil {
		return ErrNotConfigured
	}
	_, err := ix.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: ix.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewID(PointID(digest))),
	})
	return err
}

func (ix *Index) checkDims(vector []float32) error {
	if uint64(len(vector)) != ix.dims {
		return fmt.Errorf("%w: got %d, want %d", ErrDimension, len(vector), ix.dims)
	}
	return nil
}

func payloadFor(rec *framecache.Record) map[string]any {
	payload := map[string]any{
		"digest":    rec.Digest,
		"timestamp": rec.OriginalTimestamp,
	}
	if rec.SourceStreamID != "" {
		payload["stream_id"] = rec.SourceStreamID
	}
	if rec.Result != nil && rec.Result.Description != "" {
		payload["summary"] = rec.Result.Description
	}
	return payload
}

func matchFrom(payload map[string]*qdrant.Value, score float32) (Match, bool) {
	digest := payload["digest"].GetStringValue()
	if digest == "" {
		return Match{}, false
	}
	return Match{
		Digest:    digest,
		StreamID:  payload["stream_id"].GetStringValue(),
		Timestamp: payload["timestamp"].GetIntegerValue(),
		Summary:   payload["summary"].GetStringValue(),
		Score:     score,
	}, true
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	}
	return limit
}
