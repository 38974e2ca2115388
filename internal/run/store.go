package run

import (
	"context"
	"errors"
	"time"

	"github.com/dyet92k/morph/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("run not found")

// Store persists runs and the records hanging off them.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Create(ctx context.Context, run *models.Run) error {
	return s.db.WithContext(ctx).Omit(clause.Associations).Create(run).Error
}

// Get loads a run together with its scraper.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	var run models.Run
	err := s.db.WithContext(ctx).Preload("Scraper").First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *Store) Save(ctx context.Context, run *models.Run) error {
	return s.db.WithContext(ctx).Omit(clause.Associations).Save(run).Error
}

// UpdateIPAddress writes only the ip_address column so that
// a concurrent full save of the run is not clobbered.
func (s *Store) UpdateIPAddress(ctx context.Context, id uuid.UUID, addr string) error {
	return s.db.WithContext(ctx).
		Model(&models.Run{}).
		Where("id = ?", id).
		UpdateColumn("ip_address", addr).Error
}

// Finish persists the terminal fields of run unless another
// writer already finished it, in which case it returns
// models.ErrAlreadyFinished.
func (s *Store) Finish(ctx context.Context, run *models.Run) error {
	if !run.Finished() {
		return models.ErrNotStarted
	}
	res := s.db.WithContext(ctx).
		Model(&models.Run{}).
		Where("id = ? AND finished_at IS NULL", run.ID).
		UpdateColumns(map[string]any{
			"finished_at": run.FinishedAt,
			"status_code": run.StatusCode,
			"wall_time":   run.WallTime,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrAlreadyFinished
	}
	return nil
}

// Finished reports whether the stored copy of the run has
// reached a terminal state.
func (s *Store) Finished(ctx context.Context, id uuid.UUID) (bool, error) {
	run, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return run.Finished(), nil
}

func (s *Store) List(ctx context.Context, owner string, limit int) ([]models.Run, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if owner != "" {
		q = q.Where("owner = ?", owner)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var runs []models.Run
	if err := q.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *Store) Scraper(ctx context.Context, id uuid.UUID) (*models.Scraper, error) {
	var scraper models.Scraper
	if err := s.db.WithContext(ctx).First(&scraper, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &scraper, nil
}

// FindOrCreateScraper returns the scraper named owner/name,
// creating it on first use.
func (s *Store) FindOrCreateScraper(ctx context.Context, owner, name string) (*models.Scraper, error) {
	scraper := models.Scraper{Owner: owner, Name: name}
	err := s.db.WithContext(ctx).
		Where("owner = ? AND name = ?", owner, name).
		FirstOrCreate(&scraper).Error
	if err != nil {
		return nil, err
	}
	return &scraper, nil
}

func (s *Store) SaveScraper(ctx context.Context, scraper *models.Scraper) error {
	return s.db.WithContext(ctx).Save(scraper).Error
}

// Metric returns the resource usage recorded for a run.
func (s *Store) Metric(ctx context.Context, runID uuid.UUID) (*models.Metric, error) {
	var m models.Metric
	err := s.db.WithContext(ctx).First(&m, "run_id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveMetric replaces any metric already recorded for the run.
func (s *Store) SaveMetric(ctx context.Context, m *models.Metric) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}},
		UpdateAll: true,
	}).Create(m).Error
}
