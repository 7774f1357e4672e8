package strategy

import (
	"fmt"
	"math"

	models "signalsmith/database/models_pkg"
	"signalsmith/indicators"
)

// evaluateRSI fires a buy when RSI is oversold and a sell when overbought.
// Confidence starts from the extremity distance (how far past the 30/70
// threshold the value sits) with additive bonuses for a confirming MACD
// crossover and for high volume. Risk is derived from RSI extremity rather
// than confidence banding.
func evaluateRSI(candles []models.Candle) *models.TradingSignal {
	rsi := indicators.RSI(candles, 0)
	if rsi == nil {
		return nil
	}

	var direction string
	var extremity float64
	switch {
	case rsi.Oversold:
		direction = models.DirectionBuy
		extremity = indicators.RSIOversold - rsi.Value
	case rsi.Overbought:
		direction = models.DirectionSell
		extremity = rsi.Value - indicators.RSIOverbought
	default:
		return nil
	}

	confidence := 50 + extremity*2

	macd := indicators.MACD(candles, 0, 0, 0)
	if macd != nil {
		if (direction == models.DirectionBuy && macd.Bullish) ||
			(direction == models.DirectionSell && macd.Bearish) {
			confidence += 15
		}
	}
	vol := indicators.Volume(candles, 0)
	if vol != nil && vol.HighVolume {
		confidence += 10
	}

	entry := candles[len(candles)-1].Close
	stop, target := stopTarget(direction, entry, 5, 10)

	risk := models.RiskHigh
	switch {
	case extremity >= 10:
		risk = models.RiskLow
	case extremity >= 5:
		risk = models.RiskMedium
	}

	return &models.TradingSignal{
		Direction:  direction,
		Confidence: confidence,
		Risk:       risk,
		EntryPrice: entry,
		StopLoss:   stop,
		TakeProfit: target,
		Reason: fmt.Sprintf("RSI %.1f %s threshold by %.1f",
			rsi.Value, ternDirection(direction, "below oversold", "above overbought"), extremity),
		Indicators: snapshot(candles),
	}
}

// evaluateMACD fires on the histogram zero-crossing step only. Confidence is
// a fixed 60 base plus a capped histogram-magnitude bonus, an
// RSI-not-extreme confirmation, and a volume bonus.
func evaluateMACD(candles []models.Candle) *models.TradingSignal {
	macd := indicators.MACD(candles, 0, 0, 0)
	if macd == nil {
		return nil
	}

	var direction string
	switch {
	case macd.Bullish:
		direction = models.DirectionBuy
	case macd.Bearish:
		direction = models.DirectionSell
	default:
		return nil
	}

	entry := candles[len(candles)-1].Close
	confidence := 60.0

	// Histogram magnitude relative to price, capped at +15.
	if entry > 0 {
		confidence += math.Min(15, math.Abs(macd.Histogram)/entry*10000)
	}

	rsi := indicators.RSI(candles, 0)
	if rsi != nil && !rsi.Overbought && !rsi.Oversold {
		confidence += 10
	}
	vol := indicators.Volume(candles, 0)
	if vol != nil && vol.HighVolume {
		confidence += 10
	}

	stop, target := stopTarget(direction, entry, 4, 8)

	return &models.TradingSignal{
		Direction:  direction,
		Confidence: confidence,
		EntryPrice: entry,
		StopLoss:   stop,
		TakeProfit: target,
		Reason: fmt.Sprintf("MACD %s crossover, histogram %.4f",
			ternDirection(direction, "bullish", "bearish"), macd.Histogram),
		Indicators: snapshot(candles),
	}
}

// evaluateBollinger fires when percentB sits near a band edge: below 0.2 is
// the buy zone, above 0.8 the sell zone. Confidence scales with proximity to
// the edge plus RSI and bandwidth confirmations. The take-profit is the
// middle band; the stop sits just beyond the touched band.
func evaluateBollinger(candles []models.Candle) *models.TradingSignal {
	bb := indicators.Bollinger(candles, 0, 0)
	if bb == nil || bb.Upper == bb.Lower {
		return nil
	}

	entry := candles[len(candles)-1].Close
	rsi := indicators.RSI(candles, 0)

	var direction string
	var confidence float64
	var stop, target float64

	switch {
	case bb.PercentB < 0.2:
		direction = models.DirectionBuy
		confidence = 50 + (0.2-bb.PercentB)/0.2*25
		if rsi != nil && rsi.Oversold {
			confidence += 15
		}
		target = bb.Middle
		stop = bb.Lower * 0.99
	case bb.PercentB > 0.8:
		direction = models.DirectionSell
		confidence = 50 + (bb.PercentB-0.8)/0.2*25
		if rsi != nil && rsi.Overbought {
			confidence += 15
		}
		target = bb.Middle
		stop = bb.Upper * 1.01
	default:
		return nil
	}

	// A wide band means the touch is a real excursion, not noise.
	if bb.Bandwidth > 4 {
		confidence += 5
	}

	return &models.TradingSignal{
		Direction:  direction,
		Confidence: confidence,
		EntryPrice: entry,
		StopLoss:   &stop,
		TakeProfit: &target,
		Reason: fmt.Sprintf("Bollinger percentB %.2f in %s zone, bandwidth %.1f%%",
			bb.PercentB, ternDirection(direction, "buy", "sell"), bb.Bandwidth),
		Indicators: snapshot(candles),
	}
}

// evaluateEMACross fires only on the step where EMA12 crosses EMA26,
// comparing the current relationship against the previous candle's window.
func evaluateEMACross(candles []models.Candle) *models.TradingSignal {
	curFast := indicators.EMA(candles, 12)
	curSlow := indicators.EMA(candles, 26)
	prevFast := indicators.EMA(candles[:len(candles)-1], 12)
	prevSlow := indicators.EMA(candles[:len(candles)-1], 26)
	if curFast == nil || curSlow == nil || prevFast == nil || prevSlow == nil {
		return nil
	}

	var direction string
	switch {
	case *prevFast <= *prevSlow && *curFast > *curSlow:
		direction = models.DirectionBuy
	case *prevFast >= *prevSlow && *curFast < *curSlow:
		direction = models.DirectionSell
	default:
		return nil
	}

	confidence := 60.0
	rsi := indicators.RSI(candles, 0)
	if rsi != nil && !rsi.Overbought && !rsi.Oversold {
		confidence += 10
	}
	vol := indicators.Volume(candles, 0)
	if vol != nil && vol.HighVolume {
		confidence += 10
	}

	entry := candles[len(candles)-1].Close
	stop, target := stopTarget(direction, entry, 4, 8)

	return &models.TradingSignal{
		Direction:  direction,
		Confidence: confidence,
		EntryPrice: entry,
		StopLoss:   stop,
		TakeProfit: target,
		Reason: fmt.Sprintf("EMA12 crossed %s EMA26 (%.2f vs %.2f)",
			ternDirection(direction, "above", "below"), *curFast, *curSlow),
		Indicators: snapshot(candles),
	}
}

// evaluateTrend requires agreement across the moving-average stack
// (price > SMA50 > SMA200), the EMA pair, and MACD direction — or the full
// mirror for a sell. Coarser confidence banding; risk is fixed at MEDIUM.
func evaluateTrend(candles []models.Candle) *models.TradingSignal {
	sma50 := indicators.SMA(candles, 50)
	sma200 := indicators.SMA(candles, 200)
	ema12 := indicators.EMA(candles, 12)
	ema26 := indicators.EMA(candles, 26)
	macd := indicators.MACD(candles, 0, 0, 0)
	if sma50 == nil || sma200 == nil || ema12 == nil || ema26 == nil || macd == nil {
		return nil
	}

	price := candles[len(candles)-1].Close

	var direction string
	switch {
	case price > *sma50 && *sma50 > *sma200 && *ema12 > *ema26 && macd.Histogram > 0:
		direction = models.DirectionBuy
	case price < *sma50 && *sma50 < *sma200 && *ema12 < *ema26 && macd.Histogram < 0:
		direction = models.DirectionSell
	default:
		return nil
	}

	confidence := 70.0
	rsi := indicators.RSI(candles, 0)
	if rsi != nil {
		// Momentum room: RSI pointing with the trend but not exhausted.
		if direction == models.DirectionBuy && rsi.Value > 50 && !rsi.Overbought {
			confidence += 10
		}
		if direction == models.DirectionSell && rsi.Value < 50 && !rsi.Oversold {
			confidence += 10
		}
	}
	vol := indicators.Volume(candles, 0)
	if vol != nil && vol.HighVolume {
		confidence += 10
	}

	stop, target := stopTarget(direction, price, 5, 10)

	return &models.TradingSignal{
		Direction:  direction,
		Confidence: confidence,
		Risk:       models.RiskMedium,
		EntryPrice: price,
		StopLoss:   stop,
		TakeProfit: target,
		Reason: fmt.Sprintf("%s aligned: price/SMA50/SMA200 stacked, EMA12 %s EMA26, MACD histogram %.4f",
			ternDirection(direction, "Uptrend", "Downtrend"),
			ternDirection(direction, ">", "<"), macd.Histogram),
		Indicators: snapshot(candles),
	}
}

// evaluateMeanReversion fires when price deviates more than 5% from SMA20
// with Bollinger percentB confirming the stretch. The take-profit is the SMA
// itself — the reversion point.
func evaluateMeanReversion(candles []models.Candle) *models.TradingSignal {
	sma20 := indicators.SMA(candles, 20)
	bb := indicators.Bollinger(candles, 0, 0)
	if sma20 == nil || *sma20 == 0 || bb == nil {
		return nil
	}

	price := candles[len(candles)-1].Close
	deviation := (price - *sma20) / *sma20 * 100

	var direction string
	switch {
	case deviation < -5 && bb.PercentB < 0.2:
		direction = models.DirectionBuy
	case deviation > 5 && bb.PercentB > 0.8:
		direction = models.DirectionSell
	default:
		return nil
	}

	confidence := 50 + math.Min(25, (math.Abs(deviation)-5)*5)
	rsi := indicators.RSI(candles, 0)
	if rsi != nil {
		if (direction == models.DirectionBuy && rsi.Oversold) ||
			(direction == models.DirectionSell && rsi.Overbought) {
			confidence += 10
		}
	}

	target := *sma20
	var stop float64
	if direction == models.DirectionBuy {
		stop = price * 0.95
	} else {
		stop = price * 1.05
	}

	return &models.TradingSignal{
		Direction:  direction,
		Confidence: confidence,
		EntryPrice: price,
		StopLoss:   &stop,
		TakeProfit: &target,
		Reason: fmt.Sprintf("Price %.1f%% %s SMA20 with percentB %.2f, reversion target %.2f",
			math.Abs(deviation), ternDirection(direction, "below", "above"), bb.PercentB, target),
		Indicators: snapshot(candles),
	}
}

// ternDirection picks the buy or sell wording for reason strings.
func ternDirection(direction, buyWord, sellWord string) string {
	if direction == models.DirectionBuy {
		return buyWord
	}
	return sellWord
}
