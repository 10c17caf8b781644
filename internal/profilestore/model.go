package profilestore

import (
	"time"

	"github.com/eleven-am/perception-backend/internal/calibration"
)

// ProfileSnapshot is one committed calibration profile update.
type ProfileSnapshot struct {
	ID          string                      `gorm:"primaryKey" json:"id"`
	ProfileID   string                      `gorm:"not null;index:idx_profile_recorded" json:"profile_id"`
	Type        calibration.EnvironmentType `gorm:"not null" json:"type"`
	Confidence  float64                     `json:"confidence"`
	Calibrated  bool                        `json:"calibrated"`
	SampleCount int                         `json:"sample_count"`
	Metrics     calibration.Metrics         `gorm:"serializer:json" json:"metrics"`
	Thresholds  calibration.Thresholds      `gorm:"serializer:json" json:"thresholds"`
	RecordedAt  time.Time                   `gorm:"index:idx_profile_recorded" json:"recorded_at"`
	CreatedAt   time.Time                   `json:"created_at"`
}

func snapshotFrom(p calibration.Profile) *ProfileSnapshot {
	recorded := p.UpdatedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	return &ProfileSnapshot{
		ProfileID:   p.ID,
		Type:        p.Type,
		Confidence:  p.Confidence,
		Calibrated:  p.Calibrated,
		SampleCount: p.SampleCount,
		Metrics:     p.Metrics,
		Thresholds:  p.Thresholds,
		RecordedAt:  recorded.UTC(),
	}
}

type HistoryResponse struct {
	ProfileID string             `json:"profile_id"`
	Snapshots []*ProfileSnapshot `json:"snapshots"`
}
