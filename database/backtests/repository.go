// Package backtests persists backtest run records and their lifecycle
// transitions.
package backtests

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	models "signalsmith/database/models_pkg"
)

// Repository handles database operations for backtest runs
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new backtests repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateRun inserts a new run record in PENDING state.
func (r *Repository) CreateRun(run *models.BacktestRun) error {
	if err := r.db.Create(run).Error; err != nil {
		return fmt.Errorf("CreateRun: %w", err)
	}
	return nil
}

// MarkRunning stamps the run as started.
func (r *Repository) MarkRunning(id string, startedAt time.Time) error {
	err := r.db.Model(&models.BacktestRun{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.BacktestStatusRunning,
			"started_at": startedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("MarkRunning: %w", err)
	}
	return nil
}

// MarkCompleted stores the serialized result and stamps completion.
func (r *Repository) MarkCompleted(id string, resultJSON string, finishedAt time.Time) error {
	err := r.db.Model(&models.BacktestRun{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      models.BacktestStatusCompleted,
			"result_json": resultJSON,
			"finished_at": finishedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("MarkCompleted: %w", err)
	}
	return nil
}

// MarkFailed records the failure reason. No partial result is stored.
func (r *Repository) MarkFailed(id string, errMsg string, finishedAt time.Time) error {
	err := r.db.Model(&models.BacktestRun{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      models.BacktestStatusFailed,
			"error":       errMsg,
			"finished_at": finishedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("MarkFailed: %w", err)
	}
	return nil
}

// GetRun returns one run, or nil when it does not exist.
func (r *Repository) GetRun(id string) (*models.BacktestRun, error) {
	var run models.BacktestRun
	err := r.db.First(&run, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetRun: %w", err)
	}
	return &run, nil
}

// ListRuns returns runs newest first, optionally filtered by owner.
func (r *Repository) ListRuns(owner string, limit int) ([]models.BacktestRun, error) {
	var runs []models.BacktestRun
	query := r.db.Order("created_at DESC")
	if owner != "" {
		query = query.Where("owner = ?", owner)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("ListRuns: %w", err)
	}
	return runs, nil
}
