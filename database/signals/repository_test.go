package signals

import (
	"encoding/json"
	"testing"
	"time"

	models "signalsmith/database/models_pkg"
)

func TestToRecord(t *testing.T) {
	stop := 95.0
	target := 110.0
	agentID := int64(7)
	generated := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	sig := &models.TradingSignal{
		StockSymbol: "BTCUSDT",
		Timeframe:   "1h",
		Strategy:    "MACD",
		Direction:   models.DirectionSell,
		Confidence:  68,
		Risk:        models.RiskMedium,
		EntryPrice:  100,
		StopLoss:    &stop,
		TakeProfit:  &target,
		Reason:      "MACD bearish crossover",
		Indicators:  map[string]float64{"rsi": 61.2, "macd_histogram": -0.4},
		GeneratedAt: generated,
	}

	record, err := toRecord(sig, &agentID)
	if err != nil {
		t.Fatalf("toRecord: %v", err)
	}

	if record.Status != models.SignalStatusActive {
		t.Errorf("new records must start ACTIVE, got %s", record.Status)
	}
	if record.AgentID == nil || *record.AgentID != 7 {
		t.Error("agent id not carried")
	}
	if !record.GeneratedAt.Equal(generated) {
		t.Errorf("generated_at = %v, want %v", record.GeneratedAt, generated)
	}

	var indicators map[string]float64
	if err := json.Unmarshal([]byte(record.IndicatorsJSON), &indicators); err != nil {
		t.Fatalf("indicators JSON invalid: %v", err)
	}
	if indicators["rsi"] != 61.2 {
		t.Errorf("indicators lost in conversion: %v", indicators)
	}
}

func TestToRecordDefaults(t *testing.T) {
	sig := &models.TradingSignal{
		StockSymbol: "ETHUSDT",
		Timeframe:   "4h",
		Strategy:    "RSI",
		Direction:   models.DirectionBuy,
		Confidence:  55,
		EntryPrice:  2000,
	}

	record, err := toRecord(sig, nil)
	if err != nil {
		t.Fatalf("toRecord: %v", err)
	}

	if record.IndicatorsJSON != "" {
		t.Errorf("expected empty indicators JSON, got %q", record.IndicatorsJSON)
	}
	if record.AgentID != nil {
		t.Error("expected nil agent id for manual signals")
	}
	if record.GeneratedAt.IsZero() {
		t.Error("zero generated_at should be stamped")
	}
}
