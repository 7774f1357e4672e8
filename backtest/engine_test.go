package backtest

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	models "signalsmith/database/models_pkg"
	"signalsmith/strategy"
)

func seriesCandles(symbol string, n int, start, stepPct float64) []models.Candle {
	base := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, n)
	price := start
	for i := 0; i < n; i++ {
		out[i] = models.Candle{
			StockSymbol: symbol,
			Timeframe:   "1h",
			Bucket:      base.Add(time.Duration(i) * time.Hour),
			Open:        price,
			High:        price * 1.001,
			Low:         price * 0.999,
			Close:       price,
			Volume:      1000,
		}
		price *= 1 + stepPct/100
	}
	return out
}

func baseConfig(symbols ...string) Config {
	return Config{
		Symbols:            symbols,
		Strategies:         []strategy.Kind{strategy.KindTrend},
		Timeframe:          "1h",
		InitialBalance:     10000,
		MaxPositionSizePct: 10,
		StopLossPercent:    50,
		TakeProfitPercent:  4,
		MinConfidence:      0,
	}
}

func TestRunNoData(t *testing.T) {
	_, err := Run(map[string][]models.Candle{}, baseConfig("AAA"))
	if err == nil {
		t.Fatal("expected an error with zero usable symbols")
	}
}

func TestRunBalanceIdentity(t *testing.T) {
	data := map[string][]models.Candle{
		"AAA": seriesCandles("AAA", 300, 100, 1),
	}
	res, err := Run(data, baseConfig("AAA"))
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalTrades == 0 {
		t.Fatal("expected the trend strategy to trade on a monotonic uptrend")
	}

	sum := 0.0
	for _, tr := range res.Trades {
		sum += tr.PnL
	}
	if diff := math.Abs(res.FinalBalance - (res.StartBalance + sum)); diff > 1e-6 {
		t.Errorf("finalBalance %f != startBalance %f + pnl %f (diff %g)",
			res.FinalBalance, res.StartBalance, sum, diff)
	}
	if math.Abs(res.TotalPnL-sum) > 1e-9 {
		t.Errorf("TotalPnL %f != trade sum %f", res.TotalPnL, sum)
	}
}

func TestRisingSeriesExitsViaTakeProfit(t *testing.T) {
	data := map[string][]models.Candle{
		"AAA": seriesCandles("AAA", 300, 100, 1),
	}
	res, err := Run(data, baseConfig("AAA"))
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalTrades == 0 {
		t.Fatal("expected trades")
	}
	for i, tr := range res.Trades {
		if tr.ExitReason == ExitStopLoss {
			t.Errorf("trade %d exited via stop_loss on a monotonic rise: %+v", i, tr)
		}
		if tr.ExitReason == ExitTimeLimit && i != len(res.Trades)-1 {
			t.Errorf("only the final still-open position may exit via time_limit, trade %d did", i)
		}
		if tr.ExitReason == ExitTakeProfit && !tr.IsWin {
			t.Errorf("take_profit exit must be a win: %+v", tr)
		}
	}
}

func TestNoOverlappingPositionsPerSymbol(t *testing.T) {
	data := map[string][]models.Candle{
		"AAA": seriesCandles("AAA", 300, 100, 1),
		"BBB": seriesCandles("BBB", 300, 50, 1),
	}
	res, err := Run(data, baseConfig("AAA", "BBB"))
	if err != nil {
		t.Fatal(err)
	}

	bySymbol := make(map[string][]Trade)
	for _, tr := range res.Trades {
		bySymbol[tr.Symbol] = append(bySymbol[tr.Symbol], tr)
	}
	for sym, trs := range bySymbol {
		for i := 0; i < len(trs); i++ {
			for j := i + 1; j < len(trs); j++ {
				a, b := trs[i], trs[j]
				// Overlap of [entry, exit) intervals.
				if a.EntryTime.Before(b.ExitTime) && b.EntryTime.Before(a.ExitTime) {
					t.Errorf("%s has overlapping trades: [%v,%v) and [%v,%v)",
						sym, a.EntryTime, a.ExitTime, b.EntryTime, b.ExitTime)
				}
			}
		}
	}
}

func TestRunIsDeterministic(t *testing.T) {
	data := map[string][]models.Candle{
		"AAA": seriesCandles("AAA", 300, 100, 1),
		"BBB": seriesCandles("BBB", 300, 50, -1),
	}
	cfg := baseConfig("AAA", "BBB")
	cfg.Strategies = []strategy.Kind{strategy.KindAuto}

	first, err := Run(data, cfg)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Run(data, cfg)
	if err != nil {
		t.Fatal(err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Error("identical config and data produced different results")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"no symbols", func(c *Config) { c.Symbols = nil }, true},
		{"unknown strategy", func(c *Config) { c.Strategies = []strategy.Kind{"ASTROLOGY"} }, true},
		{"inverted range", func(c *Config) {
			c.StartDate = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
			c.EndDate = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig("AAA")
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMetricsEdgeCases(t *testing.T) {
	// No losses: profit factor stays 0 per the documented convention.
	res := buildResult([]Trade{
		{PnL: 10, IsWin: true},
		{PnL: 20, IsWin: true},
	}, []float64{100, 110, 130}, 100, 130)
	if res.ProfitFactor != 0 {
		t.Errorf("profit factor with no losses = %f, want 0", res.ProfitFactor)
	}
	if res.WinRate != 100 {
		t.Errorf("win rate = %f, want 100", res.WinRate)
	}

	// Flat curve: zero stdev, Sharpe 0.
	if s := sharpe([]float64{100, 100, 100}); s != 0 {
		t.Errorf("sharpe of flat curve = %f, want 0", s)
	}

	// Drawdown: 100 → 120 → 90 is a 25% peak-to-trough decline.
	if dd := maxDrawdown([]float64{100, 120, 90, 110}); math.Abs(dd-25) > 1e-9 {
		t.Errorf("max drawdown = %f, want 25", dd)
	}
}

// ---- Runner lifecycle ----

type fakeRunStore struct {
	runs map[string]*models.BacktestRun
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: make(map[string]*models.BacktestRun)}
}

func (s *fakeRunStore) CreateRun(run *models.BacktestRun) error {
	s.runs[run.ID] = run
	return nil
}

func (s *fakeRunStore) MarkRunning(id string, startedAt time.Time) error {
	s.runs[id].Status = models.BacktestStatusRunning
	s.runs[id].StartedAt = &startedAt
	return nil
}

func (s *fakeRunStore) MarkCompleted(id string, resultJSON string, finishedAt time.Time) error {
	s.runs[id].Status = models.BacktestStatusCompleted
	s.runs[id].ResultJSON = resultJSON
	s.runs[id].FinishedAt = &finishedAt
	return nil
}

func (s *fakeRunStore) MarkFailed(id string, errMsg string, finishedAt time.Time) error {
	s.runs[id].Status = models.BacktestStatusFailed
	s.runs[id].Error = errMsg
	s.runs[id].FinishedAt = &finishedAt
	return nil
}

type fakeLoader struct {
	data map[string][]models.Candle
}

func (l *fakeLoader) FetchCandles(_ context.Context, symbol, _ string, _ time.Time) ([]models.Candle, error) {
	return l.data[symbol], nil
}

func TestRunnerCompletes(t *testing.T) {
	store := newFakeRunStore()
	loader := &fakeLoader{data: map[string][]models.Candle{
		"AAA": seriesCandles("AAA", 300, 100, 1),
	}}
	runner := NewRunner(store, loader)

	run, err := runner.Create("run-1", "alice", baseConfig("AAA"))
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != models.BacktestStatusPending {
		t.Fatalf("new run status = %s, want PENDING", run.Status)
	}

	runner.Execute(context.Background(), run)

	got := store.runs["run-1"]
	if got.Status != models.BacktestStatusCompleted {
		t.Fatalf("run status = %s (error %q), want COMPLETED", got.Status, got.Error)
	}
	var res Result
	if err := json.Unmarshal([]byte(got.ResultJSON), &res); err != nil {
		t.Fatalf("result JSON invalid: %v", err)
	}
	if res.TotalTrades == 0 {
		t.Error("expected recorded trades in the persisted result")
	}
}

func TestRunnerFailsWithNoUsableData(t *testing.T) {
	store := newFakeRunStore()
	runner := NewRunner(store, &fakeLoader{data: map[string][]models.Candle{}})

	run, err := runner.Create("run-2", "alice", baseConfig("AAA"))
	if err != nil {
		t.Fatal(err)
	}
	runner.Execute(context.Background(), run)

	got := store.runs["run-2"]
	if got.Status != models.BacktestStatusFailed {
		t.Fatalf("run status = %s, want FAILED", got.Status)
	}
	if got.Error == "" {
		t.Error("failed run must carry a descriptive error")
	}
	if got.ResultJSON != "" {
		t.Error("failed run must not record partial results")
	}
}
