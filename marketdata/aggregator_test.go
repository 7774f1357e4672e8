package marketdata

import (
	"testing"
	"time"

	models "signalsmith/database/models_pkg"
)

type captureWriter struct {
	saved []models.Candle
}

func (c *captureWriter) SaveCandles(candles []models.Candle) error {
	c.saved = append(c.saved, candles...)
	return nil
}

func tradeAt(symbol string, price, qty float64, at time.Time) *Trade {
	return &Trade{Symbol: symbol, Price: price, Quantity: qty, Time: at.UnixMilli()}
}

func TestAggregatorBuildsOHLCV(t *testing.T) {
	writer := &captureWriter{}
	agg := NewAggregator([]string{"1m"}, writer)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	agg.Apply(tradeAt("BTCUSDT", 100, 1, base.Add(1*time.Second)))
	agg.Apply(tradeAt("BTCUSDT", 110, 2, base.Add(10*time.Second)))
	agg.Apply(tradeAt("BTCUSDT", 95, 1, base.Add(30*time.Second)))
	agg.Apply(tradeAt("BTCUSDT", 105, 3, base.Add(59*time.Second)))

	open := agg.Open("BTCUSDT", "1m")
	if open == nil {
		t.Fatal("expected an open candle")
	}
	if open.Open != 100 || open.High != 110 || open.Low != 95 || open.Close != 105 {
		t.Errorf("wrong OHLC: got O=%v H=%v L=%v C=%v", open.Open, open.High, open.Low, open.Close)
	}
	if open.Volume != 7 {
		t.Errorf("expected volume 7, got %v", open.Volume)
	}
	if !open.Bucket.Equal(base) {
		t.Errorf("expected bucket %v, got %v", base, open.Bucket)
	}
	if len(writer.saved) != 0 {
		t.Errorf("open bucket should not be persisted yet, got %d saves", len(writer.saved))
	}
}

func TestAggregatorRollPersistsPreviousBucket(t *testing.T) {
	writer := &captureWriter{}
	agg := NewAggregator([]string{"1m"}, writer)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	agg.Apply(tradeAt("BTCUSDT", 100, 1, base.Add(5*time.Second)))
	agg.Apply(tradeAt("BTCUSDT", 101, 1, base.Add(65*time.Second))) // next bucket

	if len(writer.saved) != 1 {
		t.Fatalf("expected 1 persisted candle, got %d", len(writer.saved))
	}
	if !writer.saved[0].Bucket.Equal(base) {
		t.Errorf("persisted wrong bucket: %v", writer.saved[0].Bucket)
	}
	if writer.saved[0].Close != 100 {
		t.Errorf("persisted candle close = %v, want 100", writer.saved[0].Close)
	}

	open := agg.Open("BTCUSDT", "1m")
	if open == nil || !open.Bucket.Equal(base.Add(time.Minute)) {
		t.Errorf("expected the new bucket to be open")
	}
}

func TestAggregatorDropsLateTrades(t *testing.T) {
	writer := &captureWriter{}
	agg := NewAggregator([]string{"1m"}, writer)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	agg.Apply(tradeAt("BTCUSDT", 100, 1, base.Add(65*time.Second)))
	agg.Apply(tradeAt("BTCUSDT", 999, 9, base.Add(5*time.Second))) // belongs to a closed bucket

	open := agg.Open("BTCUSDT", "1m")
	if open == nil {
		t.Fatal("expected an open candle")
	}
	if open.High == 999 || open.Volume != 1 {
		t.Errorf("late trade leaked into the open bucket: %+v", open)
	}
}

func TestAggregatorFlushCompleted(t *testing.T) {
	writer := &captureWriter{}
	agg := NewAggregator([]string{"1m", "5m"}, writer)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	agg.Apply(tradeAt("ETHUSDT", 50, 2, base.Add(10*time.Second)))

	// Inside both windows: nothing flushes.
	agg.FlushCompleted(base.Add(30 * time.Second))
	if len(writer.saved) != 0 {
		t.Fatalf("expected no flush, got %d", len(writer.saved))
	}

	// Past the 1m window only.
	agg.FlushCompleted(base.Add(90 * time.Second))
	if len(writer.saved) != 1 {
		t.Fatalf("expected 1 flushed candle, got %d", len(writer.saved))
	}
	if writer.saved[0].Timeframe != "1m" {
		t.Errorf("flushed wrong timeframe: %s", writer.saved[0].Timeframe)
	}

	// Past the 5m window too.
	agg.FlushCompleted(base.Add(6 * time.Minute))
	if len(writer.saved) != 2 {
		t.Fatalf("expected 2 flushed candles, got %d", len(writer.saved))
	}
}

func TestAggregatorTracksSymbolsIndependently(t *testing.T) {
	agg := NewAggregator([]string{"1m"}, nil)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	agg.Apply(tradeAt("BTCUSDT", 100, 1, base))
	agg.Apply(tradeAt("ETHUSDT", 50, 2, base))

	btc := agg.Open("BTCUSDT", "1m")
	eth := agg.Open("ETHUSDT", "1m")
	if btc == nil || eth == nil {
		t.Fatal("expected open candles for both symbols")
	}
	if btc.Close != 100 || eth.Close != 50 {
		t.Errorf("symbols cross-contaminated: btc=%v eth=%v", btc.Close, eth.Close)
	}
}

func TestTimeframeDuration(t *testing.T) {
	tests := []struct {
		timeframe string
		want      time.Duration
	}{
		{"1m", time.Minute},
		{"15m", 15 * time.Minute},
		{"1h", time.Hour},
		{"1d", 24 * time.Hour},
		{"bogus", time.Minute},
	}

	for _, tt := range tests {
		if got := TimeframeDuration(tt.timeframe); got != tt.want {
			t.Errorf("TimeframeDuration(%q) = %v, want %v", tt.timeframe, got, tt.want)
		}
	}
}
