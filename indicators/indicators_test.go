package indicators

import (
	"math"
	"testing"
	"time"

	models "signalsmith/database/models_pkg"
)

func candlesFromCloses(closes []float64) []models.Candle {
	start := time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{
			StockSymbol: "TEST",
			Timeframe:   "1h",
			Bucket:      start.Add(time.Duration(i) * time.Hour),
			Open:        c,
			High:        c * 1.001,
			Low:         c * 0.999,
			Close:       c,
			Volume:      1000,
		}
	}
	return out
}

func flatCandles(n int, price float64) []models.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = price
	}
	return candlesFromCloses(closes)
}

func risingCandles(n int, start, stepPct float64) []models.Candle {
	closes := make([]float64, n)
	price := start
	for i := range closes {
		closes[i] = price
		price *= 1 + stepPct/100
	}
	return candlesFromCloses(closes)
}

func TestRSIInsufficientData(t *testing.T) {
	if got := RSI(flatCandles(14, 100), 14); got != nil {
		t.Errorf("expected nil for 14 candles with period 14, got %+v", got)
	}
}

func TestRSIBoundsAndFlags(t *testing.T) {
	tests := []struct {
		name           string
		candles        []models.Candle
		wantOverbought bool
		wantOversold   bool
	}{
		{"all gains", risingCandles(50, 100, 1), true, false},
		{"all losses", risingCandles(50, 100, -1), false, true},
		{"flat", flatCandles(50, 100), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := RSI(tt.candles, 14)
			if res == nil {
				t.Fatal("expected a result")
			}
			if res.Value < 0 || res.Value > 100 {
				t.Errorf("RSI out of bounds: %f", res.Value)
			}
			if res.Overbought && res.Oversold {
				t.Error("overbought and oversold must be mutually exclusive")
			}
			if res.Overbought != tt.wantOverbought || res.Oversold != tt.wantOversold {
				t.Errorf("flags = (%v,%v), want (%v,%v); value=%f",
					res.Overbought, res.Oversold, tt.wantOverbought, tt.wantOversold, res.Value)
			}
		})
	}
}

func TestRSIThresholdExactness(t *testing.T) {
	// A flat series yields RSI 50: neutral, no flags.
	res := RSI(flatCandles(300, 250), 14)
	if res == nil {
		t.Fatal("expected a result")
	}
	if res.Value != 50 {
		t.Errorf("flat series RSI = %f, want 50", res.Value)
	}
	if res.Overbought || res.Oversold {
		t.Error("flat series must not flag overbought/oversold")
	}
}

func TestSMA(t *testing.T) {
	candles := candlesFromCloses([]float64{1, 2, 3, 4, 5})
	sma := SMA(candles, 3)
	if sma == nil {
		t.Fatal("expected a result")
	}
	if *sma != 4 {
		t.Errorf("SMA(3) = %f, want 4", *sma)
	}
	if SMA(candles, 6) != nil {
		t.Error("expected nil for period > len")
	}
}

func TestEMASeedAndRecurrence(t *testing.T) {
	candles := candlesFromCloses([]float64{10, 20, 30, 40})
	ema := EMA(candles, 3)
	if ema == nil {
		t.Fatal("expected a result")
	}
	// seed = (10+20+30)/3 = 20, k = 0.5, next = 40*0.5 + 20*0.5 = 30
	if math.Abs(*ema-30) > 1e-9 {
		t.Errorf("EMA = %f, want 30", *ema)
	}
}

func TestMACDCrossoverIsOneStep(t *testing.T) {
	// Long downtrend then sharp reversal: histogram crosses zero once, and
	// the bullish flag must only be set on the crossing candle.
	closes := make([]float64, 0, 120)
	price := 200.0
	for i := 0; i < 80; i++ {
		closes = append(closes, price)
		price *= 0.995
	}
	for i := 0; i < 40; i++ {
		closes = append(closes, price)
		price *= 1.01
	}

	crossings := 0
	for i := MACDSlowPeriod + MACDSignal; i <= len(closes); i++ {
		res := MACD(candlesFromCloses(closes[:i]), 0, 0, 0)
		if res == nil {
			continue
		}
		if res.Bullish {
			crossings++
			if res.Histogram <= 0 {
				t.Errorf("bullish flag with non-positive histogram at step %d", i)
			}
		}
	}
	if crossings != 1 {
		t.Errorf("expected exactly 1 bullish crossover, got %d", crossings)
	}
}

func TestMACDFlatSeriesNeutral(t *testing.T) {
	res := MACD(flatCandles(300, 100), 0, 0, 0)
	if res == nil {
		t.Fatal("expected a result")
	}
	if res.Bullish || res.Bearish {
		t.Error("flat series must not flag a crossover")
	}
	if res.Histogram != 0 {
		t.Errorf("flat series histogram = %f, want 0", res.Histogram)
	}
}

func TestBollingerPercentBEdges(t *testing.T) {
	// 19 flat closes then one deviation gives non-degenerate bands.
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100
	}
	closes[19] = 110
	res := Bollinger(candlesFromCloses(closes), 20, 2)
	if res == nil {
		t.Fatal("expected a result")
	}

	// PercentB is exactly 0 at the lower band and 1 at the upper band.
	atLower := res
	price := atLower.Lower
	pb := (price - atLower.Lower) / (atLower.Upper - atLower.Lower)
	if pb != 0 {
		t.Errorf("percentB at lower band = %f, want 0", pb)
	}
	pb = (atLower.Upper - atLower.Lower) / (atLower.Upper - atLower.Lower)
	if pb != 1 {
		t.Errorf("percentB at upper band = %f, want 1", pb)
	}

	if res.PercentB < 0.5 {
		t.Errorf("spiked close should sit in the upper half, percentB = %f", res.PercentB)
	}
	if res.Bandwidth <= 0 {
		t.Errorf("non-degenerate window must have positive bandwidth, got %f", res.Bandwidth)
	}
}

func TestBollingerDegenerateWindow(t *testing.T) {
	res := Bollinger(flatCandles(20, 100), 20, 2)
	if res == nil {
		t.Fatal("expected a result")
	}
	if res.PercentB != 0 {
		t.Errorf("degenerate band percentB = %f, want 0", res.PercentB)
	}
	if res.Bandwidth != 0 {
		t.Errorf("degenerate band bandwidth = %f, want 0", res.Bandwidth)
	}
}

func TestVolumeHighVolumeFlag(t *testing.T) {
	candles := flatCandles(20, 100)
	candles[19].Volume = 1600 // avg ≈ 1030, 1.5x ≈ 1545
	res := Volume(candles, 20)
	if res == nil {
		t.Fatal("expected a result")
	}
	if !res.HighVolume {
		t.Errorf("expected high volume flag: current=%f avg=%f", res.Current, res.Average)
	}

	res = Volume(flatCandles(20, 100), 20)
	if res.HighVolume {
		t.Error("uniform volume must not flag high volume")
	}
}

func TestClamp(t *testing.T) {
	if Clamp(120, 0, 100) != 100 || Clamp(-5, 0, 100) != 0 || Clamp(42, 0, 100) != 42 {
		t.Error("clamp misbehaved")
	}
}
