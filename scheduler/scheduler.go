// Package scheduler implements the agent job pipeline: a batch/poll state
// machine driven by two externally triggered steps. The enqueue step turns
// due agent configurations into pending jobs; the worker step exclusively
// claims pending jobs, runs each agent's instrument/strategy matrix through
// the signal generator, and manages retry, backoff, and terminal failure.
//
// Both steps are idempotent and safe to run concurrently as long as the job
// store's claim primitive is atomic: a job claimed by one worker is never
// returned to a second concurrent claim attempt, and every status transition
// is compare-and-set against the expected prior status.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	models "signalsmith/database/models_pkg"
	"signalsmith/strategy"
)

// MaxBackoff caps the exponential retry delay.
const MaxBackoff = 60 * time.Second

// Clock abstracts the time source so backoff and scheduling decisions are
// testable without real sleeps.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock returns the wall-clock time source used in production.
func RealClock() Clock { return realClock{} }

// AgentStore is the agent-config side of the persistence contract. The
// scheduler only ever writes the run-time fields (LastRunAt/NextRunAt);
// everything else belongs to the owner.
type AgentStore interface {
	DueAgents(now time.Time) ([]models.Agent, error)
	GetAgent(id int64) (*models.Agent, error)
	SetNextRun(agentID int64, next time.Time) error
	SetLastRun(agentID int64, last time.Time) error
}

// JobStore is the job-table side of the persistence contract. All transition
// methods are compare-and-set: they only apply when the job is still in the
// expected prior status, and report whether they did.
type JobStore interface {
	// HasLiveJob reports whether the agent already has a PENDING or RUNNING job.
	HasLiveJob(agentID int64) (bool, error)
	CreateJob(job *models.AgentJob) error
	// ClaimPendingJobs atomically claims up to limit PENDING jobs whose
	// ScheduledFor <= now, transitioning each to RUNNING, incrementing
	// Attempts, and stamping StartedAt. The claim is exclusive across
	// concurrent callers.
	ClaimPendingJobs(limit int, now time.Time) ([]models.AgentJob, error)
	// MarkSucceeded transitions RUNNING -> SUCCEEDED.
	MarkSucceeded(jobID int64, finishedAt time.Time) (bool, error)
	// Requeue transitions RUNNING -> PENDING with a later ScheduledFor,
	// clearing FinishedAt.
	Requeue(jobID int64, scheduledFor time.Time, errMsg string) (bool, error)
	// MarkFailed transitions RUNNING -> FAILED terminally.
	MarkFailed(jobID int64, errMsg string, finishedAt time.Time) (bool, error)
}

// LogStore is the append-only diagnostic sink.
type LogStore interface {
	EmitAgentLog(agentID int64, jobID *int64, level, message string) error
}

// SignalSink persists and announces generated signals. Persist is
// idempotent; Notify is fire-and-forget and must never fail the caller.
type SignalSink interface {
	PersistSignal(signal *models.TradingSignal, agentID int64) error
	NotifySignal(signal *models.TradingSignal)
}

// Scheduler wires the two pipeline steps over the injected collaborators.
type Scheduler struct {
	clock    Clock
	agents   AgentStore
	jobs     JobStore
	logs     LogStore
	provider strategy.CandleProvider
	sink     SignalSink

	// workerConcurrency bounds how many claimed jobs one worker step
	// processes in parallel; per-agent concurrency bounds the symbol matrix
	// inside a single job.
	workerConcurrency int
}

// New creates a scheduler. A nil clock falls back to the wall clock.
func New(clock Clock, agents AgentStore, jobs JobStore, logs LogStore, provider strategy.CandleProvider, sink SignalSink, workerConcurrency int) *Scheduler {
	if clock == nil {
		clock = RealClock()
	}
	if workerConcurrency <= 0 {
		workerConcurrency = 4
	}
	return &Scheduler{
		clock:             clock,
		agents:            agents,
		jobs:              jobs,
		logs:              logs,
		provider:          provider,
		sink:              sink,
		workerConcurrency: workerConcurrency,
	}
}

// EnqueueDueAgents inserts one pending job for every active agent whose
// NextRunAt has passed. An agent that already holds a live job is skipped,
// so re-running the step is a no-op. Returns the number of jobs created.
func (s *Scheduler) EnqueueDueAgents(ctx context.Context) (int, error) {
	now := s.clock.Now()
	due, err := s.agents.DueAgents(now)
	if err != nil {
		return 0, fmt.Errorf("enqueue: list due agents: %w", err)
	}

	created := 0
	for _, agent := range due {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		live, err := s.jobs.HasLiveJob(agent.ID)
		if err != nil {
			log.Printf("⚠️  Enqueue: live-job check for agent %d: %v", agent.ID, err)
			continue
		}
		if live {
			continue
		}
		job := &models.AgentJob{
			AgentID:      agent.ID,
			Status:       models.JobStatusPending,
			ScheduledFor: now,
		}
		if err := s.jobs.CreateJob(job); err != nil {
			// A concurrent enqueue may have won the unique index race.
			log.Printf("⚠️  Enqueue: create job for agent %d: %v", agent.ID, err)
			continue
		}
		next := now.Add(time.Duration(agent.IntervalSeconds) * time.Second)
		if err := s.agents.SetNextRun(agent.ID, next); err != nil {
			log.Printf("⚠️  Enqueue: set next run for agent %d: %v", agent.ID, err)
		}
		created++
	}
	return created, nil
}

// RunWorker claims up to limit due pending jobs and processes them in a
// bounded pool. Returns the number of jobs claimed.
func (s *Scheduler) RunWorker(ctx context.Context, limit int) (int, error) {
	now := s.clock.Now()
	claimed, err := s.jobs.ClaimPendingJobs(limit, now)
	if err != nil {
		return 0, fmt.Errorf("worker: claim jobs: %w", err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workerConcurrency)
	for _, job := range claimed {
		g.Go(func() error {
			s.processJob(gctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return len(claimed), nil
}

// processJob runs one claimed job to a terminal or requeued state. No error
// escapes: failures are recorded on the job row and in the agent log.
func (s *Scheduler) processJob(ctx context.Context, job models.AgentJob) {
	agent, err := s.agents.GetAgent(job.AgentID)
	if err != nil || agent == nil {
		s.failJob(job, nil, fmt.Sprintf("agent %d not found: %v", job.AgentID, err))
		return
	}

	runtime := time.Duration(agent.MaxRuntimeSeconds) * time.Second
	if runtime <= 0 {
		runtime = 5 * time.Minute
	}
	jobCtx, cancel := context.WithTimeout(ctx, runtime)
	defer cancel()

	if err := s.runMatrix(jobCtx, agent, job); err != nil {
		s.failJob(job, agent, err.Error())
		return
	}

	finished := s.clock.Now()
	if ok, err := s.jobs.MarkSucceeded(job.ID, finished); err != nil || !ok {
		log.Printf("⚠️  Job %d: succeed transition rejected (ok=%v err=%v)", job.ID, ok, err)
		return
	}
	if err := s.agents.SetLastRun(agent.ID, finished); err != nil {
		log.Printf("⚠️  Job %d: set last run: %v", job.ID, err)
	}
	s.emitLog(agent.ID, job.ID, "INFO", fmt.Sprintf("job %d succeeded on attempt %d", job.ID, job.Attempts))
}

// runMatrix executes the agent's symbol x strategy matrix. A single symbol
// failing to fetch is logged and skipped; the job only fails when nothing at
// all could be analyzed or the deadline expires.
func (s *Scheduler) runMatrix(ctx context.Context, agent *models.Agent, job models.AgentJob) error {
	symbols, err := decodeList(agent.Symbols)
	if err != nil || len(symbols) == 0 {
		return fmt.Errorf("agent %d has no valid symbols: %v", agent.ID, err)
	}
	kinds, err := parseKinds(agent.Strategies)
	if err != nil {
		return fmt.Errorf("agent %d strategies: %w", agent.ID, err)
	}

	conc := agent.Concurrency
	if conc <= 0 {
		conc = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(conc)

	fetchFailures := make([]error, len(symbols))
	for i, symbol := range symbols {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			candles, err := s.provider.FetchCandles(gctx, symbol, agent.Timeframe, time.Time{})
			if err != nil {
				// Upstream data failure: skip the symbol, keep the job alive.
				fetchFailures[i] = err
				s.emitLog(agent.ID, job.ID, "WARN", fmt.Sprintf("fetch %s %s: %v", symbol, agent.Timeframe, err))
				return nil
			}
			if len(candles) == 0 {
				return nil
			}
			for _, kind := range kinds {
				sig := strategy.Generate(candles, kind, agent.MinConfidence)
				if sig == nil {
					continue
				}
				if err := s.sink.PersistSignal(sig, agent.ID); err != nil {
					return fmt.Errorf("persist signal %s/%s: %w", symbol, kind, err)
				}
				s.sink.NotifySignal(sig)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("job exceeded max runtime of %ds", agent.MaxRuntimeSeconds)
		}
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("job exceeded max runtime of %ds", agent.MaxRuntimeSeconds)
	}

	failed := 0
	for _, ferr := range fetchFailures {
		if ferr != nil {
			failed++
		}
	}
	if failed == len(symbols) {
		return fmt.Errorf("all %d instruments failed to fetch", failed)
	}
	return nil
}

// failJob applies the retry/backoff branch: requeue while attempts remain,
// terminal FAILED otherwise. Always writes an agent log entry.
func (s *Scheduler) failJob(job models.AgentJob, agent *models.Agent, msg string) {
	maxAttempts := 3
	agentID := job.AgentID
	if agent != nil {
		if agent.MaxAttempts > 0 {
			maxAttempts = agent.MaxAttempts
		}
		agentID = agent.ID
	}
	s.emitLog(agentID, job.ID, "ERROR", fmt.Sprintf("attempt %d failed: %s", job.Attempts, msg))

	now := s.clock.Now()
	if job.Attempts < maxAttempts {
		delay := Backoff(job.Attempts)
		if ok, err := s.jobs.Requeue(job.ID, now.Add(delay), msg); err != nil || !ok {
			log.Printf("⚠️  Job %d: requeue rejected (ok=%v err=%v)", job.ID, ok, err)
		}
		return
	}
	if ok, err := s.jobs.MarkFailed(job.ID, msg, now); err != nil || !ok {
		log.Printf("⚠️  Job %d: fail transition rejected (ok=%v err=%v)", job.ID, ok, err)
	}
}

// Backoff returns the retry delay after the given attempt count:
// 2^attempts seconds capped at MaxBackoff.
func Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 6 {
		return MaxBackoff
	}
	d := time.Duration(1<<uint(attempts)) * time.Second
	if d > MaxBackoff {
		return MaxBackoff
	}
	return d
}

func (s *Scheduler) emitLog(agentID, jobID int64, level, message string) {
	if s.logs == nil {
		return
	}
	id := jobID
	if err := s.logs.EmitAgentLog(agentID, &id, level, message); err != nil {
		log.Printf("⚠️  Agent %d: emit log: %v", agentID, err)
	}
}

// decodeList parses a JSON string array from an agent config column.
func decodeList(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// parseKinds validates the agent's strategy list; an empty list means AUTO.
func parseKinds(raw string) ([]strategy.Kind, error) {
	names, err := decodeList(raw)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return []strategy.Kind{strategy.KindAuto}, nil
	}
	kinds := make([]strategy.Kind, 0, len(names))
	for _, n := range names {
		k, err := strategy.ParseKind(n)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
