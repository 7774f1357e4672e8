package api

import (
	"net/http"
)

// handleEnqueue runs one enqueue pass: every due agent without a live job
// gets a new pending job.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	created, err := s.sched.EnqueueDueAgents(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Enqueue pass failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"enqueued": created,
	})
}

// handleWorker runs one worker pass: claim a batch of due jobs and process
// them to completion before responding.
func (s *Server) handleWorker(w http.ResponseWriter, r *http.Request) {
	limit := getIntParam(r, "limit", s.batchSize)

	processed, err := s.sched.RunWorker(r.Context(), limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Worker pass failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"processed": processed,
	})
}
