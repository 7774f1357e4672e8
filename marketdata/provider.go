// Package marketdata fetches candle history over HTTP and ingests live
// trades over WebSocket, persisting both into the candles table.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"signalsmith/cache"
	"signalsmith/database/candles"
	models "signalsmith/database/models_pkg"
)

const (
	// DefaultFetchLimit caps a single klines request.
	DefaultFetchLimit = 500

	// cacheTTL keeps recently fetched windows out of the upstream API for a
	// short while. Candle history barely changes, so staleness is bounded by
	// the current (still-forming) bucket only.
	cacheTTL = 30 * time.Second
)

// HTTPProvider fetches candles from an exchange REST API with a Redis
// cache-aside and a database write-through, so repeated analysis of the same
// window does not hammer the upstream.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cache      *cache.RedisClient
	repo       *candles.Repository
}

// NewHTTPProvider creates a provider. cache and repo may be nil; the provider
// then degrades to direct upstream fetches.
func NewHTTPProvider(baseURL, apiKey string, redisClient *cache.RedisClient, repo *candles.Repository) *HTTPProvider {
	return &HTTPProvider{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		cache:      redisClient,
		repo:       repo,
	}
}

// kline is the upstream JSON row shape.
type kline struct {
	OpenTime int64   `json:"open_time"` // unix millis
	Open     float64 `json:"open,string"`
	High     float64 `json:"high,string"`
	Low      float64 `json:"low,string"`
	Close    float64 `json:"close,string"`
	Volume   float64 `json:"volume,string"`
}

// FetchCandles returns chronological candles for the symbol from `since`
// onward. Lookup order: Redis, then database, then the upstream API. Fresh
// upstream data is persisted and cached on the way back.
func (p *HTTPProvider) FetchCandles(ctx context.Context, symbol, timeframe string, since time.Time) ([]models.Candle, error) {
	if since.IsZero() {
		// Callers that just want "enough recent history" pass a zero since.
		since = time.Now().Add(-time.Duration(DefaultFetchLimit) * TimeframeDuration(timeframe))
	}
	cacheKey := cache.CandlesKey(symbol, timeframe, int(since.Unix()))

	if p.cache != nil {
		var cached []models.Candle
		if err := p.cache.Get(ctx, cacheKey, &cached); err == nil && len(cached) > 0 {
			return cached, nil
		}
	}

	if p.repo != nil {
		stored, err := p.repo.GetCandles(symbol, timeframe, since, time.Time{}, 0)
		if err != nil {
			log.Printf("⚠️  Candle DB read failed for %s: %v", symbol, err)
		} else if fresh(stored, timeframe) {
			p.cacheResult(ctx, cacheKey, stored)
			return stored, nil
		}
	}

	fetched, err := p.fetchUpstream(ctx, symbol, timeframe, since)
	if err != nil {
		return nil, err
	}

	if p.repo != nil && len(fetched) > 0 {
		if err := p.repo.SaveCandles(fetched); err != nil {
			log.Printf("⚠️  Failed to persist candles for %s: %v", symbol, err)
		}
	}
	p.cacheResult(ctx, cacheKey, fetched)
	return fetched, nil
}

func (p *HTTPProvider) cacheResult(ctx context.Context, key string, cs []models.Candle) {
	if p.cache == nil || len(cs) == 0 {
		return
	}
	if err := p.cache.Set(ctx, key, cs, cacheTTL); err != nil {
		log.Printf("⚠️  Failed to cache candles: %v", err)
	}
}

// fresh reports whether stored history reaches into the last two buckets,
// meaning the upstream has nothing newer worth fetching yet.
func fresh(cs []models.Candle, timeframe string) bool {
	if len(cs) == 0 {
		return false
	}
	step := TimeframeDuration(timeframe)
	last := cs[len(cs)-1].Bucket
	return time.Since(last) < 2*step
}

func (p *HTTPProvider) fetchUpstream(ctx context.Context, symbol, timeframe string, since time.Time) ([]models.Candle, error) {
	endpoint := fmt.Sprintf("%s/api/v1/klines", p.baseURL)
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", timeframe)
	params.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	params.Set("limit", strconv.Itoa(DefaultFetchLimit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build klines request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("X-API-Key", p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("klines request failed for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("klines request for %s returned %d: %s", symbol, resp.StatusCode, string(body))
	}

	var rows []kline
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode klines for %s: %w", symbol, err)
	}

	out := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.Candle{
			StockSymbol: symbol,
			Timeframe:   timeframe,
			Bucket:      time.UnixMilli(row.OpenTime).UTC(),
			Open:        row.Open,
			High:        row.High,
			Low:         row.Low,
			Close:       row.Close,
			Volume:      row.Volume,
		})
	}
	return out, nil
}

// TimeframeDuration maps a timeframe label to its bucket width. Unknown
// labels fall back to one minute.
func TimeframeDuration(timeframe string) time.Duration {
	switch timeframe {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return time.Minute
	}
}
