package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	models "signalsmith/database/models_pkg"
)

// ---- fakes ----

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memStore is an in-memory AgentStore + JobStore + LogStore with the same
// transactional guarantees the SQL implementation provides.
type memStore struct {
	mu      sync.Mutex
	agents  map[int64]*models.Agent
	jobs    map[int64]*models.AgentJob
	logs    []models.AgentLog
	history map[int64][]string // per-job status transition log
	nextID  int64
}

func newMemStore() *memStore {
	return &memStore{
		agents:  make(map[int64]*models.Agent),
		jobs:    make(map[int64]*models.AgentJob),
		history: make(map[int64][]string),
	}
}

func (m *memStore) addAgent(a *models.Agent) *models.Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	a.ID = m.nextID
	m.agents[a.ID] = a
	return a
}

func (m *memStore) DueAgents(now time.Time) ([]models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []models.Agent
	for _, a := range m.agents {
		if !a.Active {
			continue
		}
		if a.NextRunAt == nil || !a.NextRunAt.After(now) {
			due = append(due, *a)
		}
	}
	return due, nil
}

func (m *memStore) GetAgent(id int64) (*models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) SetNextRun(agentID int64, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[agentID].NextRunAt = &next
	return nil
}

func (m *memStore) SetLastRun(agentID int64, last time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[agentID].LastRunAt = &last
	return nil
}

func (m *memStore) HasLiveJob(agentID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.AgentID == agentID &&
			(j.Status == models.JobStatusPending || j.Status == models.JobStatusRunning) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) CreateJob(job *models.AgentJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.AgentID == job.AgentID &&
			(j.Status == models.JobStatusPending || j.Status == models.JobStatusRunning) {
			return errors.New("unique violation: live job exists")
		}
	}
	m.nextID++
	job.ID = m.nextID
	cp := *job
	m.jobs[job.ID] = &cp
	m.history[job.ID] = append(m.history[job.ID], job.Status)
	return nil
}

func (m *memStore) ClaimPendingJobs(limit int, now time.Time) ([]models.AgentJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var claimed []models.AgentJob
	for id := int64(1); id <= m.nextID && len(claimed) < limit; id++ {
		j, ok := m.jobs[id]
		if !ok || j.Status != models.JobStatusPending || j.ScheduledFor.After(now) {
			continue
		}
		j.Status = models.JobStatusRunning
		j.Attempts++
		started := now
		j.StartedAt = &started
		m.history[id] = append(m.history[id], j.Status)
		claimed = append(claimed, *j)
	}
	return claimed, nil
}

func (m *memStore) transition(jobID int64, from, to string, mut func(*models.AgentJob)) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status != from {
		return false, nil
	}
	j.Status = to
	mut(j)
	m.history[jobID] = append(m.history[jobID], to)
	return true, nil
}

func (m *memStore) MarkSucceeded(jobID int64, finishedAt time.Time) (bool, error) {
	return m.transition(jobID, models.JobStatusRunning, models.JobStatusSucceeded, func(j *models.AgentJob) {
		j.FinishedAt = &finishedAt
	})
}

func (m *memStore) Requeue(jobID int64, scheduledFor time.Time, errMsg string) (bool, error) {
	return m.transition(jobID, models.JobStatusRunning, models.JobStatusPending, func(j *models.AgentJob) {
		j.ScheduledFor = scheduledFor
		j.FinishedAt = nil
		j.Error = errMsg
	})
}

func (m *memStore) MarkFailed(jobID int64, errMsg string, finishedAt time.Time) (bool, error) {
	return m.transition(jobID, models.JobStatusRunning, models.JobStatusFailed, func(j *models.AgentJob) {
		j.Error = errMsg
		j.FinishedAt = &finishedAt
	})
}

func (m *memStore) EmitAgentLog(agentID int64, jobID *int64, level, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, models.AgentLog{AgentID: agentID, JobID: jobID, Level: level, Message: message})
	return nil
}

func (m *memStore) liveJobCount(agentID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.AgentID == agentID &&
			(j.Status == models.JobStatusPending || j.Status == models.JobStatusRunning) {
			n++
		}
	}
	return n
}

func (m *memStore) jobFor(agentID int64) *models.AgentJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.AgentID == agentID {
			cp := *j
			return &cp
		}
	}
	return nil
}

type fakeProvider struct {
	mu      sync.Mutex
	candles map[string][]models.Candle
	err     error
	block   bool // wait for ctx cancellation before returning
	calls   int
}

func (p *fakeProvider) FetchCandles(ctx context.Context, symbol, _ string, _ time.Time) ([]models.Candle, error) {
	p.mu.Lock()
	p.calls++
	block, err, candles := p.block, p.err, p.candles[symbol]
	p.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return candles, nil
}

type fakeSink struct {
	mu         sync.Mutex
	persisted  []*models.TradingSignal
	notified   int
	persistErr error
}

func (s *fakeSink) PersistSignal(sig *models.TradingSignal, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persistErr != nil {
		return s.persistErr
	}
	s.persisted = append(s.persisted, sig)
	return nil
}

func (s *fakeSink) NotifySignal(_ *models.TradingSignal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notified++
}

func downtrendCandles(symbol string, n int) []models.Candle {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, n)
	price := 100.0
	for i := 0; i < n; i++ {
		out[i] = models.Candle{
			StockSymbol: symbol, Timeframe: "1h",
			Bucket: base.Add(time.Duration(i) * time.Hour),
			Open:   price, High: price, Low: price, Close: price, Volume: 1000,
		}
		price *= 0.99
	}
	return out
}

func testAgent(symbols string) *models.Agent {
	return &models.Agent{
		Owner:             "alice",
		Name:              "scanner",
		Symbols:           symbols,
		Strategies:        `["RSI"]`,
		Timeframe:         "1h",
		IntervalSeconds:   3600,
		MinConfidence:     0,
		Concurrency:       2,
		MaxRuntimeSeconds: 60,
		MaxAttempts:       3,
		Active:            true,
	}
}

// ---- tests ----

func TestEnqueueIsIdempotent(t *testing.T) {
	store := newMemStore()
	clock := newFakeClock()
	agent := store.addAgent(testAgent(`["AAA"]`))
	sched := New(clock, store, store, store, &fakeProvider{}, &fakeSink{}, 2)

	created, err := sched.EnqueueDueAgents(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if created != 1 {
		t.Fatalf("first enqueue created %d jobs, want 1", created)
	}

	// The agent now holds a live job: re-running the step must be a no-op,
	// even though NextRunAt moved forward.
	store.agents[agent.ID].NextRunAt = &clock.now
	created, err = sched.EnqueueDueAgents(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if created != 0 {
		t.Errorf("second enqueue created %d jobs, want 0", created)
	}
	if n := store.liveJobCount(agent.ID); n != 1 {
		t.Errorf("live jobs = %d, invariant requires <= 1", n)
	}
}

func TestInactiveAgentNotEnqueued(t *testing.T) {
	store := newMemStore()
	agent := testAgent(`["AAA"]`)
	agent.Active = false
	store.addAgent(agent)
	sched := New(newFakeClock(), store, store, store, &fakeProvider{}, &fakeSink{}, 2)

	created, err := sched.EnqueueDueAgents(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if created != 0 {
		t.Errorf("paused agent was enqueued")
	}
}

func TestWorkerProcessesJobToSuccess(t *testing.T) {
	store := newMemStore()
	clock := newFakeClock()
	agent := store.addAgent(testAgent(`["AAA"]`))
	provider := &fakeProvider{candles: map[string][]models.Candle{
		"AAA": downtrendCandles("AAA", 300),
	}}
	sink := &fakeSink{}
	sched := New(clock, store, store, store, provider, sink, 2)

	if _, err := sched.EnqueueDueAgents(context.Background()); err != nil {
		t.Fatal(err)
	}
	claimed, err := sched.RunWorker(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if claimed != 1 {
		t.Fatalf("claimed %d jobs, want 1", claimed)
	}

	job := store.jobFor(agent.ID)
	if job.Status != models.JobStatusSucceeded {
		t.Fatalf("job status = %s (error %q), want SUCCEEDED", job.Status, job.Error)
	}
	if job.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", job.Attempts)
	}
	if job.StartedAt == nil || job.FinishedAt == nil {
		t.Error("started/finished timestamps must be stamped")
	}
	if len(sink.persisted) == 0 {
		t.Error("expected a persisted signal from the oversold downtrend")
	}
	if sink.notified != len(sink.persisted) {
		t.Errorf("notified %d != persisted %d", sink.notified, len(sink.persisted))
	}
	if store.agents[agent.ID].LastRunAt == nil {
		t.Error("scheduler must stamp LastRunAt on success")
	}
}

func TestRetrySequenceToTerminalFailure(t *testing.T) {
	store := newMemStore()
	clock := newFakeClock()
	agent := store.addAgent(testAgent(`["AAA"]`))
	provider := &fakeProvider{err: errors.New("feed down")}
	sched := New(clock, store, store, store, provider, &fakeSink{}, 2)

	if _, err := sched.EnqueueDueAgents(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Three processing attempts: two requeues with exponential backoff,
	// then terminal failure.
	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := sched.RunWorker(context.Background(), 10)
		if err != nil {
			t.Fatal(err)
		}
		if claimed != 1 {
			t.Fatalf("attempt %d: claimed %d, want 1", attempt, claimed)
		}
		job := store.jobFor(agent.ID)
		if job.Attempts != attempt {
			t.Errorf("attempt %d: attempts = %d", attempt, job.Attempts)
		}
		if attempt < 3 {
			if job.Status != models.JobStatusPending {
				t.Fatalf("attempt %d: status = %s, want requeued PENDING", attempt, job.Status)
			}
			if job.FinishedAt != nil {
				t.Error("requeued job must have FinishedAt cleared")
			}
			wantDelay := Backoff(attempt)
			gotDelay := job.ScheduledFor.Sub(clock.Now())
			if gotDelay != wantDelay {
				t.Errorf("attempt %d: backoff = %v, want %v", attempt, gotDelay, wantDelay)
			}
			// A claim before the backoff elapses finds nothing.
			if n, _ := sched.RunWorker(context.Background(), 10); n != 0 {
				t.Errorf("claimed a job before its backoff elapsed")
			}
			clock.Advance(wantDelay)
		}
	}

	job := store.jobFor(agent.ID)
	if job.Status != models.JobStatusFailed {
		t.Fatalf("final status = %s, want FAILED", job.Status)
	}
	if job.Attempts != agent.MaxAttempts {
		t.Errorf("final attempts = %d, want %d", job.Attempts, agent.MaxAttempts)
	}
	if job.Error == "" {
		t.Error("terminal failure must record the error text")
	}
	if job.FinishedAt == nil {
		t.Error("terminal failure must stamp FinishedAt")
	}

	want := []string{"PENDING", "RUNNING", "PENDING", "RUNNING", "PENDING", "RUNNING", "FAILED"}
	got := store.history[job.ID]
	if len(got) != len(want) {
		t.Fatalf("transition history = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transition history = %v, want %v", got, want)
		}
	}

	errorLogs := 0
	for _, l := range store.logs {
		if l.Level == "ERROR" {
			errorLogs++
		}
	}
	if errorLogs != 3 {
		t.Errorf("error log entries = %d, want one per failed attempt", errorLogs)
	}
}

func TestBackoffSchedule(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{6, MaxBackoff},  // 64s capped
		{20, MaxBackoff}, // stays capped, no overflow
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempts); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestClaimIsExclusiveAcrossConcurrentWorkers(t *testing.T) {
	store := newMemStore()
	clock := newFakeClock()
	for i := 0; i < 10; i++ {
		store.addAgent(testAgent(fmt.Sprintf(`["SYM%d"]`, i)))
	}
	provider := &fakeProvider{candles: map[string][]models.Candle{}}
	sched := New(clock, store, store, store, provider, &fakeSink{}, 4)

	if created, _ := sched.EnqueueDueAgents(context.Background()); created != 10 {
		t.Fatalf("expected 10 jobs enqueued, got %d", created)
	}

	var wg sync.WaitGroup
	totals := make([]int, 2)
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				n, err := sched.RunWorker(context.Background(), 3)
				if err != nil || n == 0 {
					return
				}
				store.mu.Lock()
				totals[w] += n
				store.mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if totals[0]+totals[1] != 10 {
		t.Errorf("workers claimed %d jobs total, want exactly 10", totals[0]+totals[1])
	}
	// Every job ran exactly once: one PENDING -> RUNNING pair per job.
	store.mu.Lock()
	defer store.mu.Unlock()
	for id, hist := range store.history {
		running := 0
		for _, s := range hist {
			if s == "RUNNING" {
				running++
			}
		}
		if running != 1 {
			t.Errorf("job %d claimed %d times: %v", id, running, hist)
		}
	}
}

func TestPartialFetchFailureContinuesJob(t *testing.T) {
	store := newMemStore()
	clock := newFakeClock()
	agent := store.addAgent(testAgent(`["GOOD","BAD"]`))
	provider := &fakeProvider{candles: map[string][]models.Candle{
		"GOOD": downtrendCandles("GOOD", 300),
		// BAD has no entry: zero candles, but no error either.
	}}
	sink := &fakeSink{}
	sched := New(clock, store, store, store, provider, sink, 2)

	if _, err := sched.EnqueueDueAgents(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := sched.RunWorker(context.Background(), 10); err != nil {
		t.Fatal(err)
	}

	job := store.jobFor(agent.ID)
	if job.Status != models.JobStatusSucceeded {
		t.Fatalf("job status = %s, want SUCCEEDED despite one empty instrument", job.Status)
	}
	if len(sink.persisted) == 0 {
		t.Error("the good instrument should still have produced a signal")
	}
}

func TestMaxRuntimeAbortsJob(t *testing.T) {
	store := newMemStore()
	clock := newFakeClock()
	agent := testAgent(`["AAA"]`)
	agent.MaxRuntimeSeconds = 1
	agent.MaxAttempts = 1
	store.addAgent(agent)
	provider := &fakeProvider{block: true}
	sched := New(clock, store, store, store, provider, &fakeSink{}, 2)

	if _, err := sched.EnqueueDueAgents(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := sched.RunWorker(context.Background(), 10); err != nil {
			t.Errorf("worker error: %v", err)
		}
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("worker hung past the job's max runtime")
	}

	job := store.jobFor(agent.ID)
	if job.Status != models.JobStatusFailed {
		t.Fatalf("job status = %s, want FAILED after deadline", job.Status)
	}
	if job.Error == "" {
		t.Error("deadline abort must record an error")
	}
}
