// Package notifications fans generated trading signals out to registered
// webhook targets.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"signalsmith/cache"
	models "signalsmith/database/models_pkg"
	"signalsmith/database/webhooks"
)

// WebhookManager handles webhook notifications
type WebhookManager struct {
	repo   *webhooks.Repository
	redis  *cache.RedisClient
	client *http.Client
}

// WebhookPayload represents the JSON payload sent to webhooks
type WebhookPayload struct {
	StockSymbol string             `json:"StockSymbol"`
	Timeframe   string             `json:"Timeframe"`
	Strategy    string             `json:"Strategy"`
	Direction   string             `json:"Direction"`
	Confidence  float64            `json:"Confidence"`
	Risk        string             `json:"Risk"`
	EntryPrice  float64            `json:"EntryPrice"`
	StopLoss    *float64           `json:"StopLoss,omitempty"`
	TakeProfit  *float64           `json:"TakeProfit,omitempty"`
	GeneratedAt time.Time          `json:"GeneratedAt"`
	Message     string             `json:"Message"`
	Indicators  map[string]float64 `json:"Indicators,omitempty"`
}

// NewWebhookManager creates a new webhook manager
func NewWebhookManager(repo *webhooks.Repository, redis *cache.RedisClient) *WebhookManager {
	return &WebhookManager{
		repo:  repo,
		redis: redis,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NotifySignal fans a signal out to every matching webhook. Deliveries run
// in their own goroutines; failures never propagate back to the caller.
func (wm *WebhookManager) NotifySignal(signal *models.TradingSignal, signalID int64) {
	hooks, err := wm.getActiveWebhooks()
	if err != nil {
		log.Printf("⚠️  Failed to load webhooks: %v", err)
		return
	}

	if len(hooks) == 0 {
		return
	}

	payloadBytes, err := json.Marshal(wm.CreatePayload(signal))
	if err != nil {
		log.Printf("⚠️  Failed to marshal webhook payload: %v", err)
		return
	}

	for _, hook := range hooks {
		if wm.shouldSend(hook, signal) {
			go wm.deliverWebhook(hook, signalID, payloadBytes)
		}
	}
}

func (wm *WebhookManager) getActiveWebhooks() ([]models.SignalWebhook, error) {
	// Try cache first
	cacheKey := "active_webhooks"
	if wm.redis != nil {
		var cached []models.SignalWebhook
		if err := wm.redis.Get(context.Background(), cacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	hooks, err := wm.repo.GetActiveWebhooks()
	if err != nil {
		return nil, err
	}

	// Update cache (expire 1 hour)
	if wm.redis != nil {
		_ = wm.redis.Set(context.Background(), cacheKey, hooks, 1*time.Hour)
	}

	return hooks, nil
}

// CreatePayload generates the webhook payload from a signal
func (wm *WebhookManager) CreatePayload(signal *models.TradingSignal) WebhookPayload {
	// Example: "📈 SIGNAL! BTCUSDT BUY (RSI) | Confidence: 75 | Risk: LOW | Entry: 50000.00"
	message := fmt.Sprintf("📈 SIGNAL! %s %s (%s) | Confidence: %.0f | Risk: %s | Entry: %.2f",
		signal.StockSymbol,
		signal.Direction,
		signal.Strategy,
		signal.Confidence,
		signal.Risk,
		signal.EntryPrice,
	)
	if signal.StopLoss != nil && signal.TakeProfit != nil {
		message += fmt.Sprintf(" | SL: %.2f | TP: %.2f", *signal.StopLoss, *signal.TakeProfit)
	}

	return WebhookPayload{
		StockSymbol: signal.StockSymbol,
		Timeframe:   signal.Timeframe,
		Strategy:    signal.Strategy,
		Direction:   signal.Direction,
		Confidence:  signal.Confidence,
		Risk:        signal.Risk,
		EntryPrice:  signal.EntryPrice,
		StopLoss:    signal.StopLoss,
		TakeProfit:  signal.TakeProfit,
		GeneratedAt: signal.GeneratedAt,
		Message:     message,
		Indicators:  signal.Indicators,
	}
}

func (wm *WebhookManager) shouldSend(hook models.SignalWebhook, signal *models.TradingSignal) bool {
	// Check symbol filter
	if hook.StockSymbols != "" && hook.StockSymbols != "null" {
		// Lenient check: matches if the symbol is present in the string (JSON or CSV)
		if !strings.Contains(hook.StockSymbols, signal.StockSymbol) {
			return false
		}
	}

	// Check confidence threshold
	if hook.MinConfidence != nil && signal.Confidence < *hook.MinConfidence {
		return false
	}

	return true
}

// rateLimited checks the per-minute delivery budget for a hook. Without
// Redis the limit is not enforced.
func (wm *WebhookManager) rateLimited(hook models.SignalWebhook) bool {
	if wm.redis == nil || hook.MaxPerMinute <= 0 {
		return false
	}

	key := fmt.Sprintf("webhook_rate:%d", hook.ID)
	n, err := wm.redis.IncrWithTTL(context.Background(), key, time.Minute)
	if err != nil {
		return false
	}
	return n > int64(hook.MaxPerMinute)
}

func (wm *WebhookManager) deliverWebhook(hook models.SignalWebhook, signalID int64, payload []byte) {
	if wm.rateLimited(hook) {
		log.Printf("🔹 Webhook %s rate limited, dropping delivery", hook.Name)
		wm.logDelivery(hook.ID, signalID, "RATE_LIMITED", 0, "per-minute limit reached", 0)
		return
	}

	maxRetries := hook.RetryCount
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var resp *http.Response
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		req, _ := http.NewRequest(http.MethodPost, hook.URL, bytes.NewBuffer(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Signalsmith-Webhook/1.0")

		log.Printf("🔹 Sending webhook to %s (Attempt %d/%d)", hook.URL, attempt, maxRetries)

		// Auth headers
		if hook.AuthType == "BEARER" {
			req.Header.Set("Authorization", "Bearer "+hook.AuthValue)
		} else if hook.AuthHeader != "" {
			req.Header.Set(hook.AuthHeader, hook.AuthValue)
		}

		resp, err = wm.client.Do(req)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			wm.logDelivery(hook.ID, signalID, "SUCCESS", resp.StatusCode, "", attempt)
			_ = wm.repo.RecordDelivery(hook.ID, true, "", time.Now())
			if resp.Body != nil {
				resp.Body.Close()
			}
			return
		}
		if resp != nil && resp.Body != nil && attempt < maxRetries {
			resp.Body.Close()
		}

		// Wait before retry
		if attempt < maxRetries {
			delay := hook.RetryDelaySeconds
			if delay <= 0 {
				delay = 5
			}
			time.Sleep(time.Duration(delay) * time.Second)
		}
	}

	// Failed
	errMsg := ""
	statusCode := 0
	if err != nil {
		errMsg = err.Error()
	} else if resp != nil {
		statusCode = resp.StatusCode
		errMsg = fmt.Sprintf("unexpected status %d", statusCode)
		resp.Body.Close()
	}

	wm.logDelivery(hook.ID, signalID, "FAILED", statusCode, errMsg, maxRetries)
	_ = wm.repo.RecordDelivery(hook.ID, false, errMsg, time.Now())
}

func (wm *WebhookManager) logDelivery(webhookID int, signalID int64, status string, code int, errMsg string, attempt int) {
	entry := &models.SignalWebhookLog{
		WebhookID:    webhookID,
		TriggeredAt:  time.Now(),
		Status:       status,
		RetryAttempt: attempt,
	}
	if signalID != 0 {
		entry.SignalID = &signalID
	}
	if code != 0 {
		entry.HTTPStatusCode = &code
	}
	if errMsg != "" {
		entry.ErrorMessage = errMsg
	}

	if dbErr := wm.repo.SaveWebhookLog(entry); dbErr != nil {
		log.Printf("⚠️  Failed to save webhook log: %v", dbErr)
	}
}

// RefreshCache reloads webhook configurations
func (wm *WebhookManager) RefreshCache() {
	if wm.redis != nil {
		_ = wm.redis.Delete(context.Background(), "active_webhooks")
		log.Println("🔄 Webhook cache invalidated")
	}
}
