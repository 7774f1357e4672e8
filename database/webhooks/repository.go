// Package webhooks stores outbound webhook targets and their delivery logs.
package webhooks

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	models "signalsmith/database/models_pkg"
)

// Repository handles database operations for signal webhooks
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new webhooks repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetActiveWebhooks returns all enabled webhook targets.
func (r *Repository) GetActiveWebhooks() ([]models.SignalWebhook, error) {
	var hooks []models.SignalWebhook
	if err := r.db.Where("is_active = ?", true).Find(&hooks).Error; err != nil {
		return nil, fmt.Errorf("GetActiveWebhooks: %w", err)
	}
	return hooks, nil
}

// CreateWebhook registers a new target.
func (r *Repository) CreateWebhook(hook *models.SignalWebhook) error {
	if hook.URL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if err := r.db.Create(hook).Error; err != nil {
		return fmt.Errorf("CreateWebhook: %w", err)
	}
	return nil
}

// ListWebhooks returns all targets.
func (r *Repository) ListWebhooks() ([]models.SignalWebhook, error) {
	var hooks []models.SignalWebhook
	if err := r.db.Order("id ASC").Find(&hooks).Error; err != nil {
		return nil, fmt.Errorf("ListWebhooks: %w", err)
	}
	return hooks, nil
}

// SetWebhookActive enables or disables a target.
func (r *Repository) SetWebhookActive(id int, active bool) error {
	err := r.db.Model(&models.SignalWebhook{}).Where("id = ?", id).
		Update("is_active", active).Error
	if err != nil {
		return fmt.Errorf("SetWebhookActive: %w", err)
	}
	return nil
}

// DeleteWebhook removes a target, keeping its delivery logs.
func (r *Repository) DeleteWebhook(id int) error {
	if err := r.db.Delete(&models.SignalWebhook{}, id).Error; err != nil {
		return fmt.Errorf("DeleteWebhook: %w", err)
	}
	return nil
}

// SaveWebhookLog appends a delivery attempt record.
func (r *Repository) SaveWebhookLog(entry *models.SignalWebhookLog) error {
	if err := r.db.Create(entry).Error; err != nil {
		return fmt.Errorf("SaveWebhookLog: %w", err)
	}
	return nil
}

// RecordDelivery updates a target's running counters after a final outcome.
func (r *Repository) RecordDelivery(id int, success bool, errMsg string, at time.Time) error {
	updates := map[string]interface{}{
		"last_triggered_at": at,
		"last_error":        errMsg,
	}
	column := "total_sent"
	if !success {
		column = "total_failed"
	}
	updates[column] = gorm.Expr(column + " + 1")

	err := r.db.Model(&models.SignalWebhook{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("RecordDelivery: %w", err)
	}
	return nil
}
