// Package indicators implements the technical indicator library: pure
// functions over a chronologically sorted candle window. Every function
// returns nil when the window is shorter than its minimum requirement —
// insufficient data is an expected condition, not an error. Nothing here
// caches or mutates; results are re-derived from the provided slice on
// every call.
package indicators

import (
	"math"

	models "signalsmith/database/models_pkg"
)

// Default periods and thresholds shared with the strategy engine.
const (
	RSIPeriod       = 14
	RSIOverbought   = 70.0
	RSIOversold     = 30.0
	MACDFastPeriod  = 12
	MACDSlowPeriod  = 26
	MACDSignal      = 9
	BollingerPeriod = 20
	BollingerStdDev = 2.0
	VolumePeriod    = 20
	HighVolumeRatio = 1.5
)

// RSIResult holds a Relative Strength Index value with its threshold flags.
// Overbought and Oversold are mutually exclusive by construction.
type RSIResult struct {
	Value      float64 `json:"value"`
	Overbought bool    `json:"overbought"`
	Oversold   bool    `json:"oversold"`
}

// MACDResult holds the MACD line, signal line, and histogram for the latest
// candle. Bullish/Bearish flag only the single step the histogram crosses
// zero, not a sustained-positive state.
type MACDResult struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
	Bullish   bool    `json:"bullish"`
	Bearish   bool    `json:"bearish"`
}

// BollingerResult holds Bollinger Band levels plus the derived PercentB and
// Bandwidth measures for the latest close.
type BollingerResult struct {
	Upper     float64 `json:"upper"`
	Middle    float64 `json:"middle"`
	Lower     float64 `json:"lower"`
	PercentB  float64 `json:"percent_b"`
	Bandwidth float64 `json:"bandwidth"`
}

// VolumeResult compares the latest volume against its rolling average.
type VolumeResult struct {
	Current    float64 `json:"current"`
	Average    float64 `json:"average"`
	Ratio      float64 `json:"ratio"`
	HighVolume bool    `json:"high_volume"`
}

// Closes extracts the close series from a candle window.
func Closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// RSI computes the Relative Strength Index over the last period+1 candles
// using Wilder smoothing. Returns nil if fewer than period+1 candles are
// provided. The value is always within [0,100].
func RSI(candles []models.Candle, period int) *RSIResult {
	if period <= 0 {
		period = RSIPeriod
	}
	if len(candles) < period+1 {
		return nil
	}

	closes := Closes(candles)

	// Seed averages from the first `period` changes.
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	// Wilder smoothing over the remainder of the window.
	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	var value float64
	if avgLoss == 0 {
		if avgGain == 0 {
			value = 50 // flat series: neutral
		} else {
			value = 100
		}
	} else {
		rs := avgGain / avgLoss
		value = 100 - 100/(1+rs)
	}

	return &RSIResult{
		Value:      value,
		Overbought: value > RSIOverbought,
		Oversold:   value < RSIOversold,
	}
}

// SMA returns the arithmetic mean of the last `period` closes, or nil with
// insufficient data.
func SMA(candles []models.Candle, period int) *float64 {
	if period <= 0 || len(candles) < period {
		return nil
	}
	var sum float64
	for _, c := range candles[len(candles)-period:] {
		sum += c.Close
	}
	v := sum / float64(period)
	return &v
}

// EMA returns the exponential moving average of the closes: seeded with the
// simple average of the first `period` closes, then the recurrence
// ema = close*k + ema*(1-k) with k = 2/(period+1). Returns nil with
// insufficient data.
func EMA(candles []models.Candle, period int) *float64 {
	series := emaSeries(Closes(candles), period)
	if series == nil {
		return nil
	}
	v := series[len(series)-1]
	return &v
}

// emaSeries computes EMA values for every index >= period-1; earlier slots
// are left at zero and must not be read. Returns nil if the input is shorter
// than period.
func emaSeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, len(values))
	var seed float64
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	out[period-1] = seed / float64(period)

	k := 2.0 / (float64(period) + 1.0)
	for i := period; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1.0-k)
	}
	return out
}

// MACD computes the Moving Average Convergence Divergence for the latest
// candle with the classic fast/slow/signal configuration. The crossover
// flags compare the latest histogram against the previous step's, so they
// are true only on the crossing candle. Returns nil when the window cannot
// support slow+signal periods.
func MACD(candles []models.Candle, fast, slow, signal int) *MACDResult {
	if fast <= 0 {
		fast = MACDFastPeriod
	}
	if slow <= 0 {
		slow = MACDSlowPeriod
	}
	if signal <= 0 {
		signal = MACDSignal
	}
	if fast >= slow || len(candles) < slow+signal {
		return nil
	}

	closes := Closes(candles)
	fastEMA := emaSeries(closes, fast)
	slowEMA := emaSeries(closes, slow)

	// macd line defined from the first index where both EMAs exist
	macdLine := make([]float64, 0, len(closes)-slow+1)
	for i := slow - 1; i < len(closes); i++ {
		macdLine = append(macdLine, fastEMA[i]-slowEMA[i])
	}

	signalLine := emaSeries(macdLine, signal)
	if signalLine == nil {
		return nil
	}

	last := len(macdLine) - 1
	histogram := macdLine[last] - signalLine[last]

	var prevHistogram float64
	hasPrev := last-1 >= signal-1
	if hasPrev {
		prevHistogram = macdLine[last-1] - signalLine[last-1]
	}

	return &MACDResult{
		MACD:      macdLine[last],
		Signal:    signalLine[last],
		Histogram: histogram,
		Bullish:   hasPrev && prevHistogram <= 0 && histogram > 0,
		Bearish:   hasPrev && prevHistogram >= 0 && histogram < 0,
	}
}

// Bollinger computes Bollinger Bands over the last `period` closes with k
// standard deviations. PercentB is 0 at the lower band and 1 at the upper
// band; Bandwidth is the band spread as a percentage of the middle band.
// Returns nil with insufficient data.
func Bollinger(candles []models.Candle, period int, k float64) *BollingerResult {
	if period <= 0 {
		period = BollingerPeriod
	}
	if k <= 0 {
		k = BollingerStdDev
	}
	if len(candles) < period {
		return nil
	}

	window := candles[len(candles)-period:]
	var sum float64
	for _, c := range window {
		sum += c.Close
	}
	middle := sum / float64(period)

	var variance float64
	for _, c := range window {
		d := c.Close - middle
		variance += d * d
	}
	stdev := math.Sqrt(variance / float64(period))

	upper := middle + k*stdev
	lower := middle - k*stdev
	price := candles[len(candles)-1].Close

	percentB := 0.0
	if upper != lower {
		percentB = (price - lower) / (upper - lower)
	}
	bandwidth := 0.0
	if middle != 0 {
		bandwidth = (upper - lower) / middle * 100
	}

	return &BollingerResult{
		Upper:     upper,
		Middle:    middle,
		Lower:     lower,
		PercentB:  percentB,
		Bandwidth: bandwidth,
	}
}

// Volume compares the latest candle's volume against the average of the last
// `period` candles. HighVolume flags a latest volume above 1.5x the average.
// Returns nil with insufficient data.
func Volume(candles []models.Candle, period int) *VolumeResult {
	if period <= 0 {
		period = VolumePeriod
	}
	if len(candles) < period {
		return nil
	}

	window := candles[len(candles)-period:]
	var sum float64
	for _, c := range window {
		sum += c.Volume
	}
	avg := sum / float64(period)
	current := candles[len(candles)-1].Volume

	ratio := 0.0
	if avg > 0 {
		ratio = current / avg
	}

	return &VolumeResult{
		Current:    current,
		Average:    avg,
		Ratio:      ratio,
		HighVolume: avg > 0 && current > HighVolumeRatio*avg,
	}
}

// Clamp bounds x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
