package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	models "signalsmith/database/models_pkg"
)

func (s *Server) handleGetWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := s.webhooks.ListWebhooks()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list webhooks", err)
		return
	}

	// Never return auth secrets
	for i := range hooks {
		hooks[i].AuthValue = ""
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"webhooks": hooks,
		"count":    len(hooks),
	})
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var hook models.SignalWebhook
	if err := json.NewDecoder(r.Body).Decode(&hook); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := s.webhooks.CreateWebhook(&hook); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error(), err)
		return
	}
	s.webhookMq.RefreshCache()

	hook.AuthValue = ""
	respondJSON(w, http.StatusCreated, hook)
}

// handleUpdateWebhook only toggles activation; editing a target means
// replacing it.
func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid webhook id", nil)
		return
	}

	var body struct {
		IsActive bool `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := s.webhooks.SetWebhookActive(id, body.IsActive); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to update webhook", err)
		return
	}
	s.webhookMq.RefreshCache()
	respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "is_active": body.IsActive})
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid webhook id", nil)
		return
	}

	if err := s.webhooks.DeleteWebhook(id); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to delete webhook", err)
		return
	}
	s.webhookMq.RefreshCache()
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}
