package api

import (
	"net/http"
	"strconv"
	"time"

	"signalsmith/strategy"
)

// handleAnalyze runs one strategy over one instrument on demand, without
// touching the job pipeline. The signal is returned but not persisted.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	symbol := query.Get("symbol")
	timeframe := query.Get("timeframe")

	if symbol == "" || timeframe == "" {
		respondWithError(w, http.StatusBadRequest, "Symbol and timeframe are required", nil)
		return
	}

	kind := strategy.KindAuto
	if raw := query.Get("strategy"); raw != "" {
		parsed, err := strategy.ParseKind(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		kind = parsed
	}

	minConfidence := 0.0
	if v := query.Get("min_confidence"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed < 0 || parsed > 100 {
			respondWithError(w, http.StatusBadRequest, "min_confidence must be in [0,100]", nil)
			return
		}
		minConfidence = parsed
	}

	signal, err := s.analyzer.Analyze(r.Context(), symbol, timeframe, kind, minConfidence)
	if err != nil {
		respondWithError(w, http.StatusBadGateway, "Analysis failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":    symbol,
		"timeframe": timeframe,
		"strategy":  string(kind),
		"signal":    signal,
	})
}

// handleGetSignals returns persisted signals with optional filters.
func (s *Server) handleGetSignals(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	symbol := query.Get("symbol")
	strategyName := query.Get("strategy")
	direction := query.Get("direction")
	status := query.Get("status")
	limit := getIntParam(r, "limit", 100)

	var startTime, endTime time.Time
	if v := query.Get("start"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid start time, want RFC3339", nil)
			return
		}
		startTime = parsed
	}
	if v := query.Get("end"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid end time, want RFC3339", nil)
			return
		}
		endTime = parsed
	}

	list, err := s.signals.GetSignals(symbol, strategyName, direction, status, startTime, endTime, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to query signals", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"signals": list,
		"count":   len(list),
	})
}

func (s *Server) handleGetSignal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid signal id", nil)
		return
	}

	signal, err := s.signals.GetSignalByID(id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load signal", err)
		return
	}
	if signal == nil {
		respondWithError(w, http.StatusNotFound, "Signal not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, signal)
}

// handleGetCandles returns stored candle history for a symbol and timeframe.
func (s *Server) handleGetCandles(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	symbol := query.Get("symbol")
	timeframe := query.Get("timeframe")

	if symbol == "" || timeframe == "" {
		respondWithError(w, http.StatusBadRequest, "Symbol and timeframe are required", nil)
		return
	}

	limit := getIntParam(r, "limit", 100)

	list, err := s.candles.GetCandles(symbol, timeframe, time.Time{}, time.Time{}, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to query candles", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"candles":   list,
		"symbol":    symbol,
		"timeframe": timeframe,
		"count":     len(list),
	})
}
