package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"signalsmith/backtest"
	"signalsmith/realtime"
)

// backtestRequest is the JSON body for starting a run.
type backtestRequest struct {
	Owner  string          `json:"owner"`
	Config backtest.Config `json:"config"`
}

// handleCreateBacktest accepts a run config, persists it as PENDING, and
// executes it in the background. The response carries the run id for
// polling; completion is also broadcast over SSE.
func (s *Server) handleCreateBacktest(w http.ResponseWriter, r *http.Request) {
	var req backtestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	run, err := s.runner.Create(uuid.NewString(), req.Owner, req.Config)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error(), err)
		return
	}

	go func() {
		s.runner.Execute(context.Background(), run)
		if s.broker != nil {
			if final, err := s.backtests.GetRun(run.ID); err == nil && final != nil {
				s.broker.Broadcast(realtime.EventBacktestCompleted, final)
			}
		}
	}()

	respondJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleListBacktests(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	limit := getIntParam(r, "limit", 50)

	runs, err := s.backtests.ListRuns(owner, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list backtests", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"backtests": runs,
		"count":     len(runs),
	})
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "Invalid backtest id", nil)
		return
	}

	run, err := s.backtests.GetRun(id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load backtest", err)
		return
	}
	if run == nil {
		respondWithError(w, http.StatusNotFound, "Backtest not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, run)
}
