// Package candles provides the candle history repository backing both the
// live analysis path and the backtest data loader.
package candles

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	models "signalsmith/database/models_pkg"
)

// Repository handles database operations for candle history
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new candles repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// SaveCandles upserts a batch of candles. Re-fetching an interval overwrites
// the stored row, so a partially formed live candle converges to its final
// values.
func (r *Repository) SaveCandles(candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "stock_symbol"}, {Name: "timeframe"}, {Name: "bucket"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
	}).CreateInBatches(candles, 500).Error
	if err != nil {
		return fmt.Errorf("SaveCandles: %w", err)
	}
	return nil
}

// GetCandles retrieves candles for a symbol/timeframe in chronological
// order. A zero since/until leaves that bound open.
func (r *Repository) GetCandles(symbol, timeframe string, since, until time.Time, limit int) ([]models.Candle, error) {
	var candles []models.Candle
	query := r.db.
		Where("stock_symbol = ? AND timeframe = ?", symbol, timeframe).
		Order("bucket ASC")
	if !since.IsZero() {
		query = query.Where("bucket >= ?", since)
	}
	if !until.IsZero() {
		query = query.Where("bucket <= ?", until)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&candles).Error; err != nil {
		return nil, fmt.Errorf("GetCandles: %w", err)
	}
	return candles, nil
}

// GetLatestCandle returns the most recent candle for a symbol/timeframe, or
// nil when none is stored.
func (r *Repository) GetLatestCandle(symbol, timeframe string) (*models.Candle, error) {
	var candle models.Candle
	err := r.db.
		Where("stock_symbol = ? AND timeframe = ?", symbol, timeframe).
		Order("bucket DESC").
		First(&candle).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetLatestCandle: %w", err)
	}
	return &candle, nil
}

// CountCandles returns the stored candle count for a symbol/timeframe.
func (r *Repository) CountCandles(symbol, timeframe string) (int64, error) {
	var n int64
	err := r.db.Model(&models.Candle{}).
		Where("stock_symbol = ? AND timeframe = ?", symbol, timeframe).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("CountCandles: %w", err)
	}
	return n, nil
}
