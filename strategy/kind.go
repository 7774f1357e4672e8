package strategy

import (
	"fmt"
	"strings"

	models "signalsmith/database/models_pkg"
)

// Kind identifies one strategy in the closed catalog. Strategies are a tagged
// enumeration, not free-form strings: ParseKind is the only way external
// input becomes a Kind, and the evaluator registry is keyed by Kind so an
// unknown name can never reach evaluation.
type Kind string

const (
	KindRSI           Kind = "RSI"
	KindMACD          Kind = "MACD"
	KindBollinger     Kind = "BOLLINGER"
	KindEMACross      Kind = "EMA_CROSS"
	KindTrend         Kind = "TREND_FOLLOWING"
	KindMeanReversion Kind = "MEAN_REVERSION"

	// KindAuto tries the catalog in priority order and returns the first
	// strategy that fires.
	KindAuto Kind = "AUTO"
)

// evalFunc maps a candle window to zero-or-one raw signal. Evaluators are
// pure: no I/O, no state, nothing cached between calls.
type evalFunc func(candles []models.Candle) *models.TradingSignal

// registry maps every concrete kind to its evaluator. KindAuto is resolved
// in Generate, not here.
var registry = map[Kind]evalFunc{
	KindRSI:           evaluateRSI,
	KindMACD:          evaluateMACD,
	KindBollinger:     evaluateBollinger,
	KindEMACross:      evaluateEMACross,
	KindTrend:         evaluateTrend,
	KindMeanReversion: evaluateMeanReversion,
}

// autoOrder is the fallback priority used by KindAuto.
var autoOrder = []Kind{
	KindRSI,
	KindMACD,
	KindBollinger,
	KindEMACross,
	KindTrend,
	KindMeanReversion,
}

// Kinds returns the concrete strategy catalog (excluding AUTO) in priority
// order.
func Kinds() []Kind {
	out := make([]Kind, len(autoOrder))
	copy(out, autoOrder)
	return out
}

// ParseKind validates a strategy name from external input (agent configs,
// API requests, backtest configs). Matching is case-insensitive.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if k == KindAuto {
		return k, nil
	}
	if _, ok := registry[k]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}
