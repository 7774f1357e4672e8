// Package signals provides the trading-signal repository, including the
// idempotent persistence rule the live analysis path relies on.
package signals

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	models "signalsmith/database/models_pkg"
)

// DedupeWindow is how long an ACTIVE signal suppresses equivalent inserts.
const DedupeWindow = 24 * time.Hour

// Repository handles database operations for trading signals
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new signals repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// PersistSignal stores a generated signal idempotently: an equivalent ACTIVE
// signal — same symbol, timeframe, and direction generated within the last
// 24 hours — is refreshed in place instead of duplicated. Returns true when
// a new row was created.
func (r *Repository) PersistSignal(sig *models.TradingSignal, agentID *int64) (bool, error) {
	record, err := toRecord(sig, agentID)
	if err != nil {
		return false, fmt.Errorf("PersistSignal: %w", err)
	}

	var existing models.TradingSignalDB
	err = r.db.
		Where("stock_symbol = ? AND timeframe = ? AND direction = ? AND status = ? AND generated_at >= ?",
			sig.StockSymbol, sig.Timeframe, sig.Direction,
			models.SignalStatusActive, time.Now().Add(-DedupeWindow)).
		Order("generated_at DESC").
		First(&existing).Error

	switch {
	case err == gorm.ErrRecordNotFound:
		if err := r.db.Create(record).Error; err != nil {
			return false, fmt.Errorf("PersistSignal: %w", err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("PersistSignal: %w", err)
	default:
		record.ID = existing.ID
		if err := r.db.Model(&existing).Updates(map[string]interface{}{
			"strategy":        record.Strategy,
			"confidence":      record.Confidence,
			"risk":            record.Risk,
			"entry_price":     record.EntryPrice,
			"stop_loss":       record.StopLoss,
			"take_profit":     record.TakeProfit,
			"reason":          record.Reason,
			"indicators_json": record.IndicatorsJSON,
			"generated_at":    record.GeneratedAt,
		}).Error; err != nil {
			return false, fmt.Errorf("PersistSignal: %w", err)
		}
		return false, nil
	}
}

// GetSignals retrieves signals with optional filters, newest first.
func (r *Repository) GetSignals(symbol, strategy, direction, status string, startTime, endTime time.Time, limit int) ([]models.TradingSignalDB, error) {
	var signals []models.TradingSignalDB
	query := r.db.Order("generated_at DESC")

	if symbol != "" {
		query = query.Where("stock_symbol = ?", symbol)
	}
	if strategy != "" {
		query = query.Where("strategy = ?", strategy)
	}
	if direction != "" {
		query = query.Where("direction = ?", direction)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if !startTime.IsZero() {
		query = query.Where("generated_at >= ?", startTime)
	}
	if !endTime.IsZero() {
		query = query.Where("generated_at <= ?", endTime)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&signals).Error; err != nil {
		return nil, fmt.Errorf("GetSignals: %w", err)
	}
	return signals, nil
}

// GetSignalByID retrieves a specific signal by ID
func (r *Repository) GetSignalByID(id int64) (*models.TradingSignalDB, error) {
	var signal models.TradingSignalDB
	err := r.db.First(&signal, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetSignalByID: %w", err)
	}
	return &signal, nil
}

// ExpireStale flips ACTIVE signals older than the dedupe window to EXPIRED
// and returns how many were touched.
func (r *Repository) ExpireStale() (int64, error) {
	res := r.db.Model(&models.TradingSignalDB{}).
		Where("status = ? AND generated_at < ?", models.SignalStatusActive, time.Now().Add(-DedupeWindow)).
		Update("status", models.SignalStatusExpired)
	if res.Error != nil {
		return 0, fmt.Errorf("ExpireStale: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// toRecord converts an in-memory signal to its persisted shape.
func toRecord(sig *models.TradingSignal, agentID *int64) (*models.TradingSignalDB, error) {
	indicatorsJSON := ""
	if len(sig.Indicators) > 0 {
		b, err := json.Marshal(sig.Indicators)
		if err != nil {
			return nil, fmt.Errorf("marshal indicators: %w", err)
		}
		indicatorsJSON = string(b)
	}
	generatedAt := sig.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now()
	}
	return &models.TradingSignalDB{
		StockSymbol:    sig.StockSymbol,
		Timeframe:      sig.Timeframe,
		Strategy:       sig.Strategy,
		Direction:      sig.Direction,
		Confidence:     sig.Confidence,
		Risk:           sig.Risk,
		EntryPrice:     sig.EntryPrice,
		StopLoss:       sig.StopLoss,
		TakeProfit:     sig.TakeProfit,
		Reason:         sig.Reason,
		IndicatorsJSON: indicatorsJSON,
		Status:         models.SignalStatusActive,
		AgentID:        agentID,
		GeneratedAt:    generatedAt,
	}, nil
}
