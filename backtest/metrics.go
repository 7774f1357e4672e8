package backtest

import "math"

// buildResult rolls the trade log and balance curve up into the aggregate
// result record.
func buildResult(trades []Trade, curve []float64, startBalance, finalBalance float64) *Result {
	res := &Result{
		StartBalance: startBalance,
		FinalBalance: finalBalance,
		Trades:       trades,
	}
	if res.Trades == nil {
		res.Trades = []Trade{}
	}

	var winSum, lossSum float64
	for _, t := range trades {
		res.TotalPnL += t.PnL
		if t.IsWin {
			res.Wins++
			winSum += t.PnL
		} else {
			res.Losses++
			lossSum += -t.PnL
		}
	}
	res.TotalTrades = len(trades)
	if res.TotalTrades > 0 {
		res.WinRate = float64(res.Wins) / float64(res.TotalTrades) * 100
	}
	if res.Wins > 0 {
		res.AvgWin = winSum / float64(res.Wins)
	}
	if res.Losses > 0 {
		res.AvgLoss = lossSum / float64(res.Losses)
		if res.AvgLoss > 0 {
			res.ProfitFactor = res.AvgWin / res.AvgLoss
		}
	}

	res.SharpeRatio = sharpe(curve)
	res.MaxDrawdown = maxDrawdown(curve)
	return res
}

// sharpe computes mean step-over-step balance return divided by its standard
// deviation; 0 when the deviation is 0.
func sharpe(curve []float64) float64 {
	if len(curve) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if curve[i-1] == 0 {
			continue
		}
		returns = append(returns, (curve[i]-curve[i-1])/curve[i-1])
	}
	if len(returns) == 0 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	stdev := math.Sqrt(variance / float64(len(returns)))
	if stdev == 0 {
		return 0
	}
	return mean / stdev
}

// maxDrawdown returns the largest peak-to-trough percentage decline across
// the balance snapshots.
func maxDrawdown(curve []float64) float64 {
	var peak, maxDD float64
	for _, v := range curve {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
