package models

import "time"

// Signal directions, risk tiers, and lifecycle statuses shared across the
// strategy engine, the backtest simulator, and the agent scheduler.
const (
	DirectionBuy  = "BUY"
	DirectionSell = "SELL"

	RiskLow    = "LOW"
	RiskMedium = "MEDIUM"
	RiskHigh   = "HIGH"

	SignalStatusActive  = "ACTIVE"
	SignalStatusExpired = "EXPIRED"
)

// Agent job lifecycle statuses. A job is created PENDING, claimed RUNNING,
// and ends SUCCEEDED or FAILED; a retryable failure requeues it to PENDING
// with a later ScheduledFor. CANCELLED is reserved for owner-initiated aborts.
const (
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusSucceeded = "SUCCEEDED"
	JobStatusFailed    = "FAILED"
	JobStatusCancelled = "CANCELLED"
)

// Backtest run lifecycle statuses.
const (
	BacktestStatusPending   = "PENDING"
	BacktestStatusRunning   = "RUNNING"
	BacktestStatusCompleted = "COMPLETED"
	BacktestStatusFailed    = "FAILED"
)

// Candle represents one OHLCV interval for an instrument on a timeframe.
// Candles are immutable once written; a chronologically ordered sequence per
// (symbol, timeframe) is the only input every analysis component consumes.
//
// Key Fields:
//   - StockSymbol: instrument ticker (part of composite primary key)
//   - Timeframe: interval label, e.g. "1m", "15m", "1h", "1d"
//   - Bucket: interval open time (part of composite primary key)
//   - Open/High/Low/Close: OHLC prices for the interval
//   - Volume: traded volume for the interval
type Candle struct {
	StockSymbol string    `gorm:"size:20;not null;primaryKey" json:"stock_symbol"`
	Timeframe   string    `gorm:"size:10;not null;primaryKey" json:"timeframe"`
	Bucket      time.Time `gorm:"not null;primaryKey" json:"time"`
	Open        float64   `gorm:"type:decimal(20,8);not null" json:"open"`
	High        float64   `gorm:"type:decimal(20,8);not null" json:"high"`
	Low         float64   `gorm:"type:decimal(20,8);not null" json:"low"`
	Close       float64   `gorm:"type:decimal(20,8);not null" json:"close"`
	Volume      float64   `gorm:"type:decimal(24,8)" json:"volume"`
}

// TableName specifies the table name for Candle
func (Candle) TableName() string {
	return "candles"
}

// TradingSignal is a directional trading recommendation produced by the
// strategy engine. It is the in-memory shape handed to the backtester, the
// scheduler, and the notification path; TradingSignalDB is its persisted twin.
//
// Confidence is always clamped to [0,100]. Risk is either derived from
// indicator extremity (RSI strategy) or banded from confidence
// (>=75 LOW, >=50 MEDIUM, else HIGH).
type TradingSignal struct {
	StockSymbol string             `json:"stock_symbol"`
	Timeframe   string             `json:"timeframe"`
	Strategy    string             `json:"strategy"`
	Direction   string             `json:"direction"` // BUY, SELL
	Confidence  float64            `json:"confidence"`
	Risk        string             `json:"risk"` // LOW, MEDIUM, HIGH
	EntryPrice  float64            `json:"entry_price"`
	StopLoss    *float64           `json:"stop_loss,omitempty"`
	TakeProfit  *float64           `json:"take_profit,omitempty"`
	Reason      string             `json:"reason"`
	Indicators  map[string]float64 `json:"indicators,omitempty"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// TradingSignalDB represents a persisted trading signal.
//
// Idempotency: an equivalent signal — same (symbol, timeframe, direction) while
// a previous one is still ACTIVE within a 24 hour window — updates the existing
// row instead of inserting a duplicate. The signals repository owns that rule.
type TradingSignalDB struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	StockSymbol    string    `gorm:"size:20;index;not null" json:"stock_symbol"`
	Timeframe      string    `gorm:"size:10;not null" json:"timeframe"`
	Strategy       string    `gorm:"size:30;not null" json:"strategy"`
	Direction      string    `gorm:"size:10;not null" json:"direction"`
	Confidence     float64   `gorm:"type:decimal(5,2);not null" json:"confidence"`
	Risk           string    `gorm:"size:10;not null" json:"risk"`
	EntryPrice     float64   `gorm:"type:decimal(20,8);not null" json:"entry_price"`
	StopLoss       *float64  `gorm:"type:decimal(20,8)" json:"stop_loss,omitempty"`
	TakeProfit     *float64  `gorm:"type:decimal(20,8)" json:"take_profit,omitempty"`
	Reason         string    `gorm:"type:text" json:"reason"`
	IndicatorsJSON string    `gorm:"type:text" json:"indicators_json,omitempty"`
	Status         string    `gorm:"size:10;index;default:ACTIVE" json:"status"`
	AgentID        *int64    `gorm:"index" json:"agent_id,omitempty"`
	GeneratedAt    time.Time `gorm:"index;not null" json:"generated_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for TradingSignalDB
func (TradingSignalDB) TableName() string {
	return "trading_signals"
}

// Agent is a user-defined recurring analysis configuration: which instruments
// to scan, with which strategies, how often, and under what retry/runtime
// limits. Owners mutate the config fields (create/update/pause/resume/delete);
// the scheduler is the only writer of LastRunAt and NextRunAt.
type Agent struct {
	ID                int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Owner             string     `gorm:"size:100;index;not null" json:"owner"`
	Name              string     `gorm:"size:100;not null" json:"name"`
	Symbols           string     `gorm:"type:text;not null" json:"symbols"`    // JSON array
	Strategies        string     `gorm:"type:text;not null" json:"strategies"` // JSON array
	Timeframe         string     `gorm:"size:10;not null;default:1h" json:"timeframe"`
	IntervalSeconds   int        `gorm:"not null;default:3600" json:"interval_seconds"`
	MinConfidence     float64    `gorm:"type:decimal(5,2);default:60" json:"min_confidence"`
	Concurrency       int        `gorm:"default:1" json:"concurrency"`
	MaxRuntimeSeconds int        `gorm:"default:300" json:"max_runtime_seconds"`
	MaxAttempts       int        `gorm:"default:3" json:"max_attempts"`
	Active            bool       `gorm:"default:true;index" json:"active"`
	LastRunAt         *time.Time `json:"last_run_at,omitempty"`
	NextRunAt         *time.Time `gorm:"index" json:"next_run_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for Agent
func (Agent) TableName() string {
	return "agents"
}

// AgentJob is one unit of scheduled work for an agent.
//
// Invariant: at most one job in PENDING or RUNNING state per agent at any
// time. The enqueue step checks it before inserting and a partial unique
// index enforces it at the storage layer.
type AgentJob struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	AgentID      int64      `gorm:"index;not null" json:"agent_id"`
	Status       string     `gorm:"size:10;index;not null;default:PENDING" json:"status"`
	Attempts     int        `gorm:"default:0" json:"attempts"`
	ScheduledFor time.Time  `gorm:"index;not null" json:"scheduled_for"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Error        string     `gorm:"type:text" json:"error,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for AgentJob
func (AgentJob) TableName() string {
	return "agent_jobs"
}

// AgentLog is an append-only diagnostic record tied to an agent and
// optionally to one of its jobs. Write-only from the scheduler's perspective.
type AgentLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AgentID   int64     `gorm:"index;not null" json:"agent_id"`
	JobID     *int64    `gorm:"index" json:"job_id,omitempty"`
	Level     string    `gorm:"size:10;not null" json:"level"` // INFO, WARN, ERROR
	Message   string    `gorm:"type:text;not null" json:"message"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName specifies the table name for AgentLog
func (AgentLog) TableName() string {
	return "agent_logs"
}

// BacktestRun is the persisted record of one simulator run. Config and the
// aggregate result are stored as JSON; a run that produced no usable data is
// marked FAILED with a descriptive Error and records no partial results.
type BacktestRun struct {
	ID         string     `gorm:"size:36;primaryKey" json:"id"` // uuid
	Owner      string     `gorm:"size:100;index" json:"owner"`
	Status     string     `gorm:"size:10;index;not null;default:PENDING" json:"status"`
	ConfigJSON string     `gorm:"type:text;not null" json:"config_json"`
	ResultJSON string     `gorm:"type:text" json:"result_json,omitempty"`
	Error      string     `gorm:"type:text" json:"error,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// TableName specifies the table name for BacktestRun
func (BacktestRun) TableName() string {
	return "backtest_runs"
}

// SignalWebhook holds an outbound webhook registration for signal alerts.
type SignalWebhook struct {
	ID                int        `gorm:"primaryKey;autoIncrement" json:"id"`
	Name              string     `gorm:"size:100;not null" json:"name"`
	URL               string     `gorm:"not null" json:"url"`
	AuthType          string     `gorm:"size:20" json:"auth_type"`
	AuthHeader        string     `gorm:"size:100" json:"auth_header"`
	AuthValue         string     `json:"auth_value"`
	StockSymbols      string     `json:"stock_symbols"` // JSON array, empty = all
	MinConfidence     *float64   `gorm:"type:decimal(5,2)" json:"min_confidence,omitempty"`
	IsActive          bool       `gorm:"default:true" json:"is_active"`
	RetryCount        int        `gorm:"default:3" json:"retry_count"`
	RetryDelaySeconds int        `gorm:"default:5" json:"retry_delay_seconds"`
	TimeoutSeconds    int        `gorm:"default:10" json:"timeout_seconds"`
	MaxPerMinute      int        `gorm:"default:10" json:"max_per_minute"`
	LastTriggeredAt   *time.Time `json:"last_triggered_at,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	TotalSent         int        `gorm:"default:0" json:"total_sent"`
	TotalFailed       int        `gorm:"default:0" json:"total_failed"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for SignalWebhook
func (SignalWebhook) TableName() string {
	return "signal_webhooks"
}

// SignalWebhookLog holds webhook delivery logs
type SignalWebhookLog struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	WebhookID      int       `gorm:"index;not null" json:"webhook_id"`
	SignalID       *int64    `json:"signal_id,omitempty"`
	TriggeredAt    time.Time `gorm:"index;not null" json:"triggered_at"`
	Status         string    `gorm:"size:15" json:"status"` // SUCCESS, FAILED, TIMEOUT, RATE_LIMITED
	HTTPStatusCode *int      `json:"http_status_code,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	RetryAttempt   int       `gorm:"default:0" json:"retry_attempt"`
}

// TableName specifies the table name for SignalWebhookLog
func (SignalWebhookLog) TableName() string {
	return "signal_webhook_logs"
}
