package api

import (
	"encoding/json"
	"net/http"

	models "signalsmith/database/models_pkg"
	"signalsmith/strategy"
)

// agentRequest is the JSON body for creating or updating an agent. Symbols
// and strategies arrive as arrays and are stored as JSON text columns.
type agentRequest struct {
	Owner             string   `json:"owner"`
	Name              string   `json:"name"`
	Symbols           []string `json:"symbols"`
	Strategies        []string `json:"strategies"`
	Timeframe         string   `json:"timeframe"`
	IntervalSeconds   int      `json:"interval_seconds"`
	MinConfidence     float64  `json:"min_confidence"`
	Concurrency       int      `json:"concurrency"`
	MaxRuntimeSeconds int      `json:"max_runtime_seconds"`
	MaxAttempts       int      `json:"max_attempts"`
}

func (req *agentRequest) toModel() (*models.Agent, error) {
	for _, raw := range req.Strategies {
		if _, err := strategy.ParseKind(raw); err != nil {
			return nil, err
		}
	}

	symbolsJSON, err := json.Marshal(req.Symbols)
	if err != nil {
		return nil, err
	}
	strategiesJSON, err := json.Marshal(req.Strategies)
	if err != nil {
		return nil, err
	}

	timeframe := req.Timeframe
	if timeframe == "" {
		timeframe = "1h"
	}
	interval := req.IntervalSeconds
	if interval == 0 {
		interval = 3600
	}

	return &models.Agent{
		Owner:             req.Owner,
		Name:              req.Name,
		Symbols:           string(symbolsJSON),
		Strategies:        string(strategiesJSON),
		Timeframe:         timeframe,
		IntervalSeconds:   interval,
		MinConfidence:     req.MinConfidence,
		Concurrency:       req.Concurrency,
		MaxRuntimeSeconds: req.MaxRuntimeSeconds,
		MaxAttempts:       req.MaxAttempts,
		Active:            true,
	}, nil
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Owner == "" || req.Name == "" {
		respondWithError(w, http.StatusBadRequest, "Owner and name are required", nil)
		return
	}

	agent, err := req.toModel()
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	if err := s.agents.CreateAgent(agent); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error(), err)
		return
	}
	respondJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	limit := getIntParam(r, "limit", 100)

	list, err := s.agents.ListAgents(owner, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list agents", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"agents": list,
		"count":  len(list),
	})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid agent id", nil)
		return
	}

	agent, err := s.agents.GetAgent(id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load agent", err)
		return
	}
	if agent == nil {
		respondWithError(w, http.StatusNotFound, "Agent not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid agent id", nil)
		return
	}

	existing, err := s.agents.GetAgent(id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load agent", err)
		return
	}
	if existing == nil {
		respondWithError(w, http.StatusNotFound, "Agent not found", nil)
		return
	}

	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	agent, err := req.toModel()
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	agent.ID = id

	if err := s.agents.UpdateAgent(agent); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error(), err)
		return
	}

	updated, err := s.agents.GetAgent(id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to reload agent", err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid agent id", nil)
		return
	}

	if err := s.agents.DeleteAgent(id); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to delete agent", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handlePauseAgent(w http.ResponseWriter, r *http.Request) {
	s.setAgentActive(w, r, false)
}

func (s *Server) handleResumeAgent(w http.ResponseWriter, r *http.Request) {
	s.setAgentActive(w, r, true)
}

func (s *Server) setAgentActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, ok := pathID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid agent id", nil)
		return
	}

	agent, err := s.agents.GetAgent(id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load agent", err)
		return
	}
	if agent == nil {
		respondWithError(w, http.StatusNotFound, "Agent not found", nil)
		return
	}

	if err := s.agents.SetActive(id, active); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to update agent", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "active": active})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid agent id", nil)
		return
	}
	limit := getIntParam(r, "limit", 50)

	jobs, err := s.agents.ListJobs(id, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list jobs", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid agent id", nil)
		return
	}
	limit := getIntParam(r, "limit", 100)

	logs, err := s.agents.ListLogs(id, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list logs", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}
