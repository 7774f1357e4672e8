package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	models "signalsmith/database/models_pkg"
)

// RunStore is the persistence contract for backtest run records.
type RunStore interface {
	CreateRun(run *models.BacktestRun) error
	MarkRunning(id string, startedAt time.Time) error
	MarkCompleted(id string, resultJSON string, finishedAt time.Time) error
	MarkFailed(id string, errMsg string, finishedAt time.Time) error
}

// CandleLoader loads the full history a run needs up front; the engine then
// simulates purely in memory.
type CandleLoader interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, since time.Time) ([]models.Candle, error)
}

// Runner drives the persisted lifecycle of a backtest: pending → running →
// completed|failed. A run with zero usable instruments fails as a whole;
// partial results are never recorded.
type Runner struct {
	store  RunStore
	loader CandleLoader
}

// NewRunner creates a backtest runner.
func NewRunner(store RunStore, loader CandleLoader) *Runner {
	return &Runner{store: store, loader: loader}
}

// Create persists a new pending run for the given config.
func (r *Runner) Create(id, owner string, cfg Config) (*models.BacktestRun, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal backtest config: %w", err)
	}
	run := &models.BacktestRun{
		ID:         id,
		Owner:      owner,
		Status:     models.BacktestStatusPending,
		ConfigJSON: string(cfgJSON),
	}
	if err := r.store.CreateRun(run); err != nil {
		return nil, fmt.Errorf("create backtest run: %w", err)
	}
	return run, nil
}

// Execute loads data, runs the simulation, and records the terminal state.
// It never returns the processing error to the caller uncaught — failures
// land on the persisted run record.
func (r *Runner) Execute(ctx context.Context, run *models.BacktestRun) {
	now := time.Now()
	if err := r.store.MarkRunning(run.ID, now); err != nil {
		log.Printf("❌ Backtest %s: failed to mark running: %v", run.ID, err)
		return
	}

	var cfg Config
	if err := json.Unmarshal([]byte(run.ConfigJSON), &cfg); err != nil {
		r.fail(run.ID, fmt.Sprintf("invalid config: %v", err))
		return
	}

	data := make(map[string][]models.Candle, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		candles, err := r.loader.FetchCandles(ctx, sym, cfg.Timeframe, cfg.StartDate)
		if err != nil {
			// One instrument failing to load is skipped, not fatal.
			log.Printf("⚠️  Backtest %s: skipping %s: %v", run.ID, sym, err)
			continue
		}
		if len(candles) > 0 {
			data[sym] = candles
		}
	}

	result, err := Run(data, cfg)
	if err != nil {
		r.fail(run.ID, err.Error())
		return
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		r.fail(run.ID, fmt.Sprintf("marshal result: %v", err))
		return
	}
	if err := r.store.MarkCompleted(run.ID, string(resultJSON), time.Now()); err != nil {
		log.Printf("❌ Backtest %s: failed to mark completed: %v", run.ID, err)
		return
	}
	log.Printf("✅ Backtest %s completed: %d trades, final balance %.2f",
		run.ID, result.TotalTrades, result.FinalBalance)
}

func (r *Runner) fail(id, msg string) {
	log.Printf("❌ Backtest %s failed: %s", id, msg)
	if err := r.store.MarkFailed(id, msg, time.Now()); err != nil {
		log.Printf("❌ Backtest %s: failed to record failure: %v", id, err)
	}
}
