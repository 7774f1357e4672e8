// Package database provides database connection management for the signalsmith
// trading analysis system.
//
// This package includes:
//   - GORM connection management over PostgreSQL
//   - A parallel raw database/sql pool (lib/pq) for the exclusive job-claim
//     query and schema bootstrap statements GORM does not express well
//   - Schema initialization (AutoMigrate plus hand-managed indexes)
//
// Key Concepts:
//   - The agent_jobs table is the only shared mutable resource in the system;
//     every status transition is compare-and-set against the expected prior
//     status, and claiming uses FOR UPDATE SKIP LOCKED so a pending job is
//     never handed to two concurrent workers.
//   - A partial unique index on agent_jobs (agent_id, live statuses) backs the
//     one-live-job-per-agent invariant at the storage layer.
//
// Data Models:
//
//	All data models (Candle, TradingSignalDB, Agent, AgentJob, ...) are defined
//	in the models_pkg package to avoid circular import dependencies.
package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	models "signalsmith/database/models_pkg"
)

// Database holds the GORM database connection and provides access to the
// underlying DB instance. It serves as the central connection point for all
// repository packages.
type Database struct {
	db *gorm.DB
}

// DB returns the underlying GORM database instance for direct access when needed.
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Connect establishes database connection using GORM
func Connect(host string, port int, dbname, user, password string) (*Database, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		host, port, dbname, user, password)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // Silent logging for production
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InitSchema performs auto-migration and creates the indexes the scheduler
// relies on. Safe to run on every startup.
func (d *Database) InitSchema() error {
	err := d.db.AutoMigrate(
		&models.Candle{},
		&models.TradingSignalDB{},
		&models.Agent{},
		&models.AgentJob{},
		&models.AgentLog{},
		&models.BacktestRun{},
		&models.SignalWebhook{},
		&models.SignalWebhookLog{},
	)
	if err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}

	// One live job per agent, enforced below the application layer as well.
	stmts := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_agent_jobs_one_live
			ON agent_jobs (agent_id)
			WHERE status IN ('PENDING', 'RUNNING')`,
		`CREATE INDEX IF NOT EXISTS idx_agent_jobs_claimable
			ON agent_jobs (scheduled_for)
			WHERE status = 'PENDING'`,
		`CREATE INDEX IF NOT EXISTS idx_signals_idempotency
			ON trading_signals (stock_symbol, timeframe, direction, generated_at)
			WHERE status = 'ACTIVE'`,
	}
	for _, stmt := range stmts {
		if err := d.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("index creation failed: %w", err)
		}
	}
	return nil
}

// ============================================================================
// Backward Compatibility Type Aliases
// ============================================================================

// These type aliases let callers import the domain types from the database
// package directly without pulling in models_pkg.

type Candle = models.Candle
type TradingSignal = models.TradingSignal
type TradingSignalDB = models.TradingSignalDB
type Agent = models.Agent
type AgentJob = models.AgentJob
type AgentLog = models.AgentLog
type BacktestRun = models.BacktestRun
type SignalWebhook = models.SignalWebhook
type SignalWebhookLog = models.SignalWebhookLog
