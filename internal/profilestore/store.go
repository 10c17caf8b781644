package profilestore

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/eleven-am/perception-backend/internal/calibration"
	"github.com/eleven-am/perception-backend/internal/shared"
	"gorm.io/gorm"
)

const defaultBuffer = 128

// Store archives calibration profile updates for trend inspection beyond the
// calibrator's in-memory history ring.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger.With("component", "profile_store")}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&ProfileSnapshot{})
}

func (s *Store) Save(ctx context.Context, p calibration.Profile) (*ProfileSnapshot, error) {
	snap := snapshotFrom(p)
	snap.ID = shared.NewID("prof_")
	if err := s.db.WithContext(ctx).Create(snap).Error; err != nil {
		return nil, err
	}
	return snap, nil
}

// History returns the newest snapshots for profileID first.
func (s *Store) History(ctx context.Context, profileID string, limit int) ([]*ProfileSnapshot, error) {
	var snaps []*ProfileSnapshot
	err := s.db.WithContext(ctx).
		Where("profile_id = ?", profileID).
		Order("recorded_at DESC").
		Limit(limit).
		Find(&snaps).Error
	return snaps, err
}

func (s *Store) Latest(ctx context.Context, profileID string) (*ProfileSnapshot, error) {
	var snap ProfileSnapshot
	err := s.db.WithContext(ctx).
		Where("profile_id = ?", profileID).
		Order("recorded_at DESC").
		First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// DeleteProfile removes every snapshot of profileID and reports how many were
// removed.
func (s *Store) DeleteProfile(ctx context.Context, profileID string) (int64, error) {
	result := s.db.WithContext(ctx).Where("profile_id = ?", profileID).Delete(&ProfileSnapshot{})
	return result.RowsAffected, result.Error
}

// Attach persists every committed update from cal on a background writer.
// Updates arriving while the writer's buffer is full are dropped and logged.
// The returned function unsubscribes and waits for queued writes.
func (s *Store) Attach(cal *calibration.Calibrator) func() {
	queue := make(chan calibration.Profile, defaultBuffer)
	var (
		mu     sync.Mutex
		closed bool
		wg     sync.WaitGroup
	)

	unsubscribe := cal.Subscribe(func(p calibration.Profile) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case queue <- p:
		default:
			s.logger.Warn("profile snapshot dropped, writer busy", "profile_id", p.ID)
		}
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for p := range queue {
			if _, err := s.Save(context.Background(), p); err != nil {
				s.logger.Error("failed to save profile snapshot", "error", err, "profile_id", p.ID)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			mu.Lock()
			closed = true
			close(queue)
			mu.Unlock()
			wg.Wait()
		})
	}
}
