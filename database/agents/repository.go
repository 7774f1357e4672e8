// Package agents provides the agent, job, and log repositories, including
// the atomic job-claim primitive the worker step depends on.
package agents

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	models "signalsmith/database/models_pkg"
)

// Repository handles database operations for agents and their jobs. Model
// reads and compare-and-set transitions go through GORM; the claim query
// runs over the raw pool so it can use FOR UPDATE SKIP LOCKED in a single
// statement.
type Repository struct {
	db  *gorm.DB
	raw *sql.DB
}

// NewRepository creates a new agents repository
func NewRepository(db *gorm.DB, raw *sql.DB) *Repository {
	return &Repository{db: db, raw: raw}
}

// ---------------------------------------------------------------------------
// Agent CRUD (owner-facing)
// ---------------------------------------------------------------------------

// CreateAgent validates and inserts a new agent. NextRunAt starts near now
// so the first enqueue pass picks it up.
func (r *Repository) CreateAgent(agent *models.Agent) error {
	if err := validateAgent(agent); err != nil {
		return fmt.Errorf("CreateAgent: %w", err)
	}
	if agent.NextRunAt == nil {
		next := time.Now()
		agent.NextRunAt = &next
	}
	if err := r.db.Create(agent).Error; err != nil {
		return fmt.Errorf("CreateAgent: %w", err)
	}
	return nil
}

// GetAgent returns one agent, or nil when it does not exist.
func (r *Repository) GetAgent(id int64) (*models.Agent, error) {
	var agent models.Agent
	err := r.db.First(&agent, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetAgent: %w", err)
	}
	return &agent, nil
}

// ListAgents returns agents, optionally filtered by owner.
func (r *Repository) ListAgents(owner string, limit int) ([]models.Agent, error) {
	var agents []models.Agent
	query := r.db.Order("id ASC")
	if owner != "" {
		query = query.Where("owner = ?", owner)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&agents).Error; err != nil {
		return nil, fmt.Errorf("ListAgents: %w", err)
	}
	return agents, nil
}

// UpdateAgent persists owner-editable config fields. The scheduler-owned
// run-time fields are deliberately not written here.
func (r *Repository) UpdateAgent(agent *models.Agent) error {
	if err := validateAgent(agent); err != nil {
		return fmt.Errorf("UpdateAgent: %w", err)
	}
	err := r.db.Model(&models.Agent{}).Where("id = ?", agent.ID).Updates(map[string]interface{}{
		"name":                agent.Name,
		"symbols":             agent.Symbols,
		"strategies":          agent.Strategies,
		"timeframe":           agent.Timeframe,
		"interval_seconds":    agent.IntervalSeconds,
		"min_confidence":      agent.MinConfidence,
		"concurrency":         agent.Concurrency,
		"max_runtime_seconds": agent.MaxRuntimeSeconds,
		"max_attempts":        agent.MaxAttempts,
	}).Error
	if err != nil {
		return fmt.Errorf("UpdateAgent: %w", err)
	}
	return nil
}

// SetActive pauses or resumes an agent. Resuming resets NextRunAt to a
// near-future time so the agent runs soon rather than catching up on a
// stale schedule.
func (r *Repository) SetActive(id int64, active bool) error {
	updates := map[string]interface{}{"active": active}
	if active {
		updates["next_run_at"] = time.Now().Add(5 * time.Second)
	}
	err := r.db.Model(&models.Agent{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("SetActive: %w", err)
	}
	return nil
}

// DeleteAgent removes an agent and its jobs and logs.
func (r *Repository) DeleteAgent(id int64) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("agent_id = ?", id).Delete(&models.AgentJob{}).Error; err != nil {
			return fmt.Errorf("DeleteAgent jobs: %w", err)
		}
		if err := tx.Where("agent_id = ?", id).Delete(&models.AgentLog{}).Error; err != nil {
			return fmt.Errorf("DeleteAgent logs: %w", err)
		}
		if err := tx.Delete(&models.Agent{}, id).Error; err != nil {
			return fmt.Errorf("DeleteAgent: %w", err)
		}
		return nil
	})
}

func validateAgent(agent *models.Agent) error {
	var symbols []string
	if err := json.Unmarshal([]byte(agent.Symbols), &symbols); err != nil || len(symbols) == 0 {
		return fmt.Errorf("symbols must be a non-empty JSON array")
	}
	if agent.IntervalSeconds < 60 {
		return fmt.Errorf("interval must be at least 60 seconds")
	}
	if agent.MaxAttempts <= 0 {
		agent.MaxAttempts = 3
	}
	if agent.Concurrency <= 0 {
		agent.Concurrency = 1
	}
	if agent.MaxRuntimeSeconds <= 0 {
		agent.MaxRuntimeSeconds = 300
	}
	return nil
}

// ---------------------------------------------------------------------------
// Scheduler: agent run-time fields
// ---------------------------------------------------------------------------

// DueAgents returns active agents whose NextRunAt has passed.
func (r *Repository) DueAgents(now time.Time) ([]models.Agent, error) {
	var agents []models.Agent
	err := r.db.
		Where("active = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", true, now).
		Order("id ASC").
		Find(&agents).Error
	if err != nil {
		return nil, fmt.Errorf("DueAgents: %w", err)
	}
	return agents, nil
}

// SetNextRun stamps the next scheduled run time.
func (r *Repository) SetNextRun(agentID int64, next time.Time) error {
	err := r.db.Model(&models.Agent{}).Where("id = ?", agentID).
		Update("next_run_at", next).Error
	if err != nil {
		return fmt.Errorf("SetNextRun: %w", err)
	}
	return nil
}

// SetLastRun stamps the last successful run time.
func (r *Repository) SetLastRun(agentID int64, last time.Time) error {
	err := r.db.Model(&models.Agent{}).Where("id = ?", agentID).
		Update("last_run_at", last).Error
	if err != nil {
		return fmt.Errorf("SetLastRun: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Scheduler: job table
// ---------------------------------------------------------------------------

// HasLiveJob reports whether the agent already has a PENDING or RUNNING job.
func (r *Repository) HasLiveJob(agentID int64) (bool, error) {
	var n int64
	err := r.db.Model(&models.AgentJob{}).
		Where("agent_id = ? AND status IN ?", agentID,
			[]string{models.JobStatusPending, models.JobStatusRunning}).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("HasLiveJob: %w", err)
	}
	return n > 0, nil
}

// CreateJob inserts a new pending job. The partial unique index on
// agent_jobs makes this fail if a live job slipped in concurrently, which
// the enqueue step treats as "already enqueued".
func (r *Repository) CreateJob(job *models.AgentJob) error {
	if err := r.db.Create(job).Error; err != nil {
		return fmt.Errorf("CreateJob: %w", err)
	}
	return nil
}

// ClaimPendingJobs atomically claims up to limit due pending jobs:
// PENDING -> RUNNING, attempts incremented, StartedAt stamped. SKIP LOCKED
// guarantees a row claimed by one worker is invisible to a concurrent claim,
// so no job is ever processed twice at the same time.
func (r *Repository) ClaimPendingJobs(limit int, now time.Time) ([]models.AgentJob, error) {
	rows, err := r.raw.Query(`
		UPDATE agent_jobs
		SET status = $1, attempts = attempts + 1, started_at = $2, updated_at = $2
		WHERE id IN (
			SELECT id FROM agent_jobs
			WHERE status = $3 AND scheduled_for <= $2
			ORDER BY scheduled_for, id
			FOR UPDATE SKIP LOCKED
			LIMIT $4
		)
		RETURNING id, agent_id, status, attempts, scheduled_for, started_at, COALESCE(error, '')`,
		models.JobStatusRunning, now, models.JobStatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ClaimPendingJobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.AgentJob
	for rows.Next() {
		var job models.AgentJob
		var started sql.NullTime
		if err := rows.Scan(&job.ID, &job.AgentID, &job.Status, &job.Attempts,
			&job.ScheduledFor, &started, &job.Error); err != nil {
			return nil, fmt.Errorf("ClaimPendingJobs scan: %w", err)
		}
		if started.Valid {
			job.StartedAt = &started.Time
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ClaimPendingJobs rows: %w", err)
	}
	return jobs, nil
}

// MarkSucceeded transitions RUNNING -> SUCCEEDED. Returns false when the job
// was no longer in RUNNING state.
func (r *Repository) MarkSucceeded(jobID int64, finishedAt time.Time) (bool, error) {
	return r.casTransition(jobID, models.JobStatusRunning, map[string]interface{}{
		"status":      models.JobStatusSucceeded,
		"finished_at": finishedAt,
	})
}

// Requeue transitions RUNNING -> PENDING for a retryable failure, with the
// backoff-delayed ScheduledFor and FinishedAt cleared.
func (r *Repository) Requeue(jobID int64, scheduledFor time.Time, errMsg string) (bool, error) {
	return r.casTransition(jobID, models.JobStatusRunning, map[string]interface{}{
		"status":        models.JobStatusPending,
		"scheduled_for": scheduledFor,
		"finished_at":   nil,
		"error":         errMsg,
	})
}

// MarkFailed transitions RUNNING -> FAILED terminally, recording the error
// text for operator visibility.
func (r *Repository) MarkFailed(jobID int64, errMsg string, finishedAt time.Time) (bool, error) {
	return r.casTransition(jobID, models.JobStatusRunning, map[string]interface{}{
		"status":      models.JobStatusFailed,
		"error":       errMsg,
		"finished_at": finishedAt,
	})
}

// casTransition applies updates only while the job still holds the expected
// status, reporting whether the compare-and-set won.
func (r *Repository) casTransition(jobID int64, expected string, updates map[string]interface{}) (bool, error) {
	res := r.db.Model(&models.AgentJob{}).
		Where("id = ? AND status = ?", jobID, expected).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("job transition: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ListJobs returns an agent's jobs, newest first.
func (r *Repository) ListJobs(agentID int64, limit int) ([]models.AgentJob, error) {
	var jobs []models.AgentJob
	query := r.db.Where("agent_id = ?", agentID).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("ListJobs: %w", err)
	}
	return jobs, nil
}

// ---------------------------------------------------------------------------
// Agent logs
// ---------------------------------------------------------------------------

// EmitAgentLog appends one diagnostic record.
func (r *Repository) EmitAgentLog(agentID int64, jobID *int64, level, message string) error {
	entry := &models.AgentLog{
		AgentID: agentID,
		JobID:   jobID,
		Level:   level,
		Message: message,
	}
	if err := r.db.Create(entry).Error; err != nil {
		return fmt.Errorf("EmitAgentLog: %w", err)
	}
	return nil
}

// ListLogs returns an agent's log entries, newest first.
func (r *Repository) ListLogs(agentID int64, limit int) ([]models.AgentLog, error) {
	var logs []models.AgentLog
	query := r.db.Where("agent_id = ?", agentID).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("ListLogs: %w", err)
	}
	return logs, nil
}
