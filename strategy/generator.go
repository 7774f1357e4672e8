// Package strategy implements the signal generator: it maps one candle
// series plus one named strategy to zero-or-one trading signal. Strategies
// run the indicator library over the window, apply their decision rules, and
// score confidence as a sum of independent factor contributions clamped to
// [0,100]. A window shorter than MinHistory never produces a signal and is
// not an error.
package strategy

import (
	"context"
	"fmt"
	"time"

	models "signalsmith/database/models_pkg"
	"signalsmith/indicators"
)

// MinHistory is the minimum number of candles a strategy needs before it will
// consider producing a signal.
const MinHistory = 200

// Generate runs the given strategy over a chronologically sorted candle
// window and returns at most one signal. Returns nil when the history is too
// short, when the strategy does not fire, or when the resulting confidence is
// below minConfidence.
//
// Within one evaluation the buy and sell branches are mutually exclusive by
// construction of the comparisons (an RSI cannot be both oversold and
// overbought); only the first satisfied direction is returned.
func Generate(candles []models.Candle, kind Kind, minConfidence float64) *models.TradingSignal {
	if len(candles) < MinHistory {
		return nil
	}

	if kind == KindAuto {
		for _, k := range autoOrder {
			if sig := Generate(candles, k, minConfidence); sig != nil {
				return sig
			}
		}
		return nil
	}

	eval, ok := registry[kind]
	if !ok {
		return nil
	}

	sig := eval(candles)
	if sig == nil {
		return nil
	}

	sig.Confidence = indicators.Clamp(sig.Confidence, 0, 100)
	if sig.Confidence < minConfidence {
		return nil
	}

	last := candles[len(candles)-1]
	sig.StockSymbol = last.StockSymbol
	sig.Timeframe = last.Timeframe
	sig.Strategy = string(kind)
	sig.GeneratedAt = last.Bucket
	if sig.Risk == "" {
		sig.Risk = riskFromConfidence(sig.Confidence)
	}
	return sig
}

// riskFromConfidence bands risk from the final confidence score. The RSI
// strategy overrides this with extremity-derived risk.
func riskFromConfidence(confidence float64) string {
	switch {
	case confidence >= 75:
		return models.RiskLow
	case confidence >= 50:
		return models.RiskMedium
	default:
		return models.RiskHigh
	}
}

// stopTarget returns direction-aware stop-loss and take-profit levels at the
// given percentage distances from entry.
func stopTarget(direction string, entry, stopPct, targetPct float64) (*float64, *float64) {
	var stop, target float64
	if direction == models.DirectionBuy {
		stop = entry * (1 - stopPct/100)
		target = entry * (1 + targetPct/100)
	} else {
		stop = entry * (1 + stopPct/100)
		target = entry * (1 - targetPct/100)
	}
	return &stop, &target
}

// snapshot collects the indicator values a signal was derived from, for
// persistence and operator review.
func snapshot(candles []models.Candle) map[string]float64 {
	snap := make(map[string]float64, 12)
	if rsi := indicators.RSI(candles, 0); rsi != nil {
		snap["rsi"] = rsi.Value
	}
	if macd := indicators.MACD(candles, 0, 0, 0); macd != nil {
		snap["macd"] = macd.MACD
		snap["macd_signal"] = macd.Signal
		snap["macd_histogram"] = macd.Histogram
	}
	if bb := indicators.Bollinger(candles, 0, 0); bb != nil {
		snap["bb_percent_b"] = bb.PercentB
		snap["bb_bandwidth"] = bb.Bandwidth
	}
	if ema12 := indicators.EMA(candles, 12); ema12 != nil {
		snap["ema12"] = *ema12
	}
	if ema26 := indicators.EMA(candles, 26); ema26 != nil {
		snap["ema26"] = *ema26
	}
	if sma20 := indicators.SMA(candles, 20); sma20 != nil {
		snap["sma20"] = *sma20
	}
	if sma50 := indicators.SMA(candles, 50); sma50 != nil {
		snap["sma50"] = *sma50
	}
	if sma200 := indicators.SMA(candles, 200); sma200 != nil {
		snap["sma200"] = *sma200
	}
	if vol := indicators.Volume(candles, 0); vol != nil {
		snap["volume_ratio"] = vol.Ratio
	}
	return snap
}

// Service bundles signal generation against live market data for the
// scheduler and the on-demand analysis endpoint.
type Service struct {
	provider CandleProvider
}

// CandleProvider is the narrow market-data contract the generator consumes.
// "No data" is an empty slice, not an error; callers skip the instrument.
type CandleProvider interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, since time.Time) ([]models.Candle, error)
}

// NewService creates a signal generation service over a candle provider.
func NewService(provider CandleProvider) *Service {
	return &Service{provider: provider}
}

// Analyze fetches history for one instrument and runs one strategy over it.
// Returns (nil, nil) when there is no signal.
func (s *Service) Analyze(ctx context.Context, symbol, timeframe string, kind Kind, minConfidence float64) (*models.TradingSignal, error) {
	candles, err := s.provider.FetchCandles(ctx, symbol, timeframe, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("fetch candles for %s %s: %w", symbol, timeframe, err)
	}
	return Generate(candles, kind, minConfidence), nil
}
