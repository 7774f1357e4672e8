// Package backtest implements the strategy replay simulator: a chronological
// multi-instrument walk over historical candles that feeds the signal
// generator at every step, tracks simulated positions, and rolls the closed
// trades up into performance statistics. The engine performs no I/O and holds
// no clock — identical (data, config) always produces an identical result.
package backtest

import (
	"fmt"
	"sort"
	"time"

	models "signalsmith/database/models_pkg"
	"signalsmith/strategy"
)

// MinPositionNotional is the smallest position the simulator will open.
const MinPositionNotional = 10.0

// Exit reasons recorded on closed trades.
const (
	ExitTakeProfit = "take_profit"
	ExitStopLoss   = "stop_loss"
	ExitTimeLimit  = "time_limit"
)

// Config is the immutable description of one backtest run.
type Config struct {
	Symbols            []string        `json:"symbols"`
	Strategies         []strategy.Kind `json:"strategies"`
	Timeframe          string          `json:"timeframe"`
	StartDate          time.Time       `json:"start_date"`
	EndDate            time.Time       `json:"end_date"`
	InitialBalance     float64         `json:"initial_balance"`
	MaxPositionSizePct float64         `json:"max_position_size_pct"` // % of balance per position
	StopLossPercent    float64         `json:"stop_loss_percent"`
	TakeProfitPercent  float64         `json:"take_profit_percent"`
	MinConfidence      float64         `json:"min_confidence"`
}

// Validate fills defaults and rejects configs the engine cannot run.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("backtest config: at least one symbol required")
	}
	if len(c.Strategies) == 0 {
		c.Strategies = []strategy.Kind{strategy.KindAuto}
	}
	for _, k := range c.Strategies {
		if _, err := strategy.ParseKind(string(k)); err != nil {
			return fmt.Errorf("backtest config: %w", err)
		}
	}
	if c.InitialBalance <= 0 {
		c.InitialBalance = 10000
	}
	if c.MaxPositionSizePct <= 0 || c.MaxPositionSizePct > 100 {
		c.MaxPositionSizePct = 10
	}
	if c.StopLossPercent <= 0 {
		c.StopLossPercent = 5
	}
	if c.TakeProfitPercent <= 0 {
		c.TakeProfitPercent = 10
	}
	if !c.EndDate.IsZero() && !c.StartDate.IsZero() && !c.EndDate.After(c.StartDate) {
		return fmt.Errorf("backtest config: end date must be after start date")
	}
	return nil
}

// Position is one open simulated trade. At most one position per symbol is
// open at a time within a run.
type Position struct {
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"`
	Strategy   string    `json:"strategy"`
	EntryTime  time.Time `json:"entry_time"`
	EntryPrice float64   `json:"entry_price"`
	Size       float64   `json:"size"`
	Confidence float64   `json:"confidence"`
}

// Trade is a closed position — the append-only result record.
type Trade struct {
	Position
	ExitTime   time.Time `json:"exit_time"`
	ExitPrice  float64   `json:"exit_price"`
	ExitReason string    `json:"exit_reason"` // take_profit, stop_loss, time_limit
	PnL        float64   `json:"pnl"`
	PnLPercent float64   `json:"pnl_percent"`
	IsWin      bool      `json:"is_win"`
}

// Result aggregates all trades of a completed run. Derived once, never
// mutated afterwards.
type Result struct {
	TotalTrades   int     `json:"total_trades"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`
	ProfitFactor  float64 `json:"profit_factor"`
	SharpeRatio   float64 `json:"sharpe_ratio"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	FinalBalance  float64 `json:"final_balance"`
	StartBalance  float64 `json:"start_balance"`
	Trades        []Trade `json:"trades"`
	StepsSimulated int    `json:"steps_simulated"`
}

// Run replays the given per-symbol candle histories under cfg. The data map
// must hold chronologically sorted candles per symbol; symbols without data
// are skipped, and a run with zero usable symbols is an error the caller
// records as a failed run.
func Run(data map[string][]models.Candle, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Deterministic symbol order regardless of map iteration.
	symbols := make([]string, 0, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		if len(data[sym]) > 0 {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no candle data for any configured symbol")
	}

	// Merge all symbols' timestamps into one sorted distinct sequence.
	seen := make(map[int64]struct{})
	var stamps []time.Time
	for _, sym := range symbols {
		for _, c := range data[sym] {
			if !cfg.StartDate.IsZero() && c.Bucket.Before(cfg.StartDate) {
				continue
			}
			if !cfg.EndDate.IsZero() && c.Bucket.After(cfg.EndDate) {
				continue
			}
			key := c.Bucket.UnixNano()
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				stamps = append(stamps, c.Bucket)
			}
		}
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
	if len(stamps) == 0 {
		return nil, fmt.Errorf("no candles inside the configured date range")
	}

	// Cursor per symbol: index of the next candle not yet reached. The
	// decision slice for "now" is always data[sym][:cursor], so one symbol's
	// future can never leak into another's past.
	cursor := make(map[string]int, len(symbols))
	lastPrice := make(map[string]float64, len(symbols))

	balance := cfg.InitialBalance
	open := make(map[string]*Position)
	var trades []Trade
	var equityCurve []float64

	for _, ts := range stamps {
		// Advance cursors and capture the current price per symbol.
		for _, sym := range symbols {
			series := data[sym]
			i := cursor[sym]
			for i < len(series) && !series[i].Bucket.After(ts) {
				lastPrice[sym] = series[i].Close
				i++
			}
			cursor[sym] = i
		}

		// 1. Close positions whose take-profit or stop-loss level was hit.
		for _, sym := range symbols {
			pos := open[sym]
			if pos == nil {
				continue
			}
			price, ok := lastPrice[sym]
			if !ok {
				continue
			}
			movePct := (price - pos.EntryPrice) / pos.EntryPrice * 100
			if pos.Direction == models.DirectionSell {
				movePct = -movePct
			}
			var reason string
			switch {
			case movePct >= cfg.TakeProfitPercent:
				reason = ExitTakeProfit
			case movePct <= -cfg.StopLossPercent:
				reason = ExitStopLoss
			default:
				continue
			}
			balance += closePosition(pos, ts, price, reason, &trades)
			delete(open, sym)
		}

		// 2. Attempt new entries with history cut strictly at "now".
		for _, sym := range symbols {
			if open[sym] != nil || cursor[sym] == 0 {
				continue
			}
			history := data[sym][:cursor[sym]]
			for _, kind := range cfg.Strategies {
				sig := strategy.Generate(history, kind, cfg.MinConfidence)
				if sig == nil {
					continue
				}
				size := balance * cfg.MaxPositionSizePct / 100
				if ceiling := balance * 0.95; size > ceiling {
					size = ceiling
				}
				if size < MinPositionNotional {
					break
				}
				balance -= size
				open[sym] = &Position{
					Symbol:     sym,
					Direction:  sig.Direction,
					Strategy:   sig.Strategy,
					EntryTime:  ts,
					EntryPrice: sig.EntryPrice,
					Size:       size,
					Confidence: sig.Confidence,
				}
				break
			}
		}

		// 3. Snapshot the balance curve once per processed timestamp,
		// marking open positions to the latest price.
		equity := balance
		for _, sym := range symbols {
			if pos := open[sym]; pos != nil {
				equity += pos.Size + unrealizedPnL(pos, lastPrice[sym])
			}
		}
		equityCurve = append(equityCurve, equity)
	}

	// 4. Force-close whatever is still open at the last available price.
	for _, sym := range symbols {
		pos := open[sym]
		if pos == nil {
			continue
		}
		balance += closePosition(pos, stamps[len(stamps)-1], lastPrice[sym], ExitTimeLimit, &trades)
		delete(open, sym)
	}

	res := buildResult(trades, equityCurve, cfg.InitialBalance, balance)
	res.StepsSimulated = len(stamps)
	return res, nil
}

// unrealizedPnL marks an open position to price.
func unrealizedPnL(pos *Position, price float64) float64 {
	if pos.EntryPrice == 0 {
		return 0
	}
	pnl := pos.Size * (price - pos.EntryPrice) / pos.EntryPrice
	if pos.Direction == models.DirectionSell {
		pnl = -pnl
	}
	return pnl
}

// closePosition records the trade and returns the proceeds (size + pnl) to
// credit back to the balance.
func closePosition(pos *Position, ts time.Time, price float64, reason string, trades *[]Trade) float64 {
	pnl := unrealizedPnL(pos, price)
	pnlPct := 0.0
	if pos.Size > 0 {
		pnlPct = pnl / pos.Size * 100
	}
	*trades = append(*trades, Trade{
		Position:   *pos,
		ExitTime:   ts,
		ExitPrice:  price,
		ExitReason: reason,
		PnL:        pnl,
		PnLPercent: pnlPct,
		IsWin:      pnl > 0,
	})
	return pos.Size + pnl
}
