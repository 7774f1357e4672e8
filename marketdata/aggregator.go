package marketdata

import (
	"log"
	"sync"
	"time"

	"signalsmith/database/candles"
	models "signalsmith/database/models_pkg"
)

// CandleWriter persists finished candle buckets.
type CandleWriter interface {
	SaveCandles(candles []models.Candle) error
}

// Aggregator folds live trades into OHLCV candles, one open bucket per
// (symbol, timeframe). A bucket is persisted when a trade lands in a later
// bucket or when FlushCompleted sees its window has closed.
type Aggregator struct {
	mu         sync.Mutex
	timeframes []string
	open       map[bucketKey]*models.Candle
	writer     CandleWriter
}

type bucketKey struct {
	symbol    string
	timeframe string
}

// NewAggregator builds an aggregator producing candles at each given
// timeframe.
func NewAggregator(timeframes []string, writer CandleWriter) *Aggregator {
	if len(timeframes) == 0 {
		timeframes = []string{"1m"}
	}
	return &Aggregator{
		timeframes: timeframes,
		open:       make(map[bucketKey]*models.Candle),
		writer:     writer,
	}
}

// Apply folds one trade into every configured timeframe.
func (a *Aggregator) Apply(trade *Trade) {
	at := time.UnixMilli(trade.Time).UTC()

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, tf := range a.timeframes {
		key := bucketKey{symbol: trade.Symbol, timeframe: tf}
		bucket := at.Truncate(TimeframeDuration(tf))

		current := a.open[key]
		if current == nil || bucket.After(current.Bucket) {
			if current != nil {
				a.persist(*current)
			}
			a.open[key] = &models.Candle{
				StockSymbol: trade.Symbol,
				Timeframe:   tf,
				Bucket:      bucket,
				Open:        trade.Price,
				High:        trade.Price,
				Low:         trade.Price,
				Close:       trade.Price,
				Volume:      trade.Quantity,
			}
			continue
		}
		if bucket.Before(current.Bucket) {
			// Late trade for an already-closed bucket; drop it.
			continue
		}

		if trade.Price > current.High {
			current.High = trade.Price
		}
		if trade.Price < current.Low {
			current.Low = trade.Price
		}
		current.Close = trade.Price
		current.Volume += trade.Quantity
	}
}

// FlushCompleted persists any open bucket whose window has fully elapsed by
// `now`. Called periodically so thin markets still close their candles.
func (a *Aggregator) FlushCompleted(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for key, candle := range a.open {
		if now.Sub(candle.Bucket) >= TimeframeDuration(key.timeframe) {
			a.persist(*candle)
			delete(a.open, key)
		}
	}
}

// Open returns a copy of the currently forming candle, or nil.
func (a *Aggregator) Open(symbol, timeframe string) *models.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()

	candle := a.open[bucketKey{symbol: symbol, timeframe: timeframe}]
	if candle == nil {
		return nil
	}
	copied := *candle
	return &copied
}

func (a *Aggregator) persist(candle models.Candle) {
	if a.writer == nil {
		return
	}
	if err := a.writer.SaveCandles([]models.Candle{candle}); err != nil {
		log.Printf("⚠️  Failed to persist %s %s candle: %v", candle.StockSymbol, candle.Timeframe, err)
	}
}

// ensure the candles repository satisfies CandleWriter
var _ CandleWriter = (*candles.Repository)(nil)
