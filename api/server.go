// Package api exposes the HTTP surface: agent management, manual scheduler
// triggers, signal queries, backtests, webhooks, and the SSE event stream.
package api

import (
	"crypto/subtle"
	"fmt"
	"log"
	"net/http"
	"time"

	"signalsmith/backtest"
	"signalsmith/database/agents"
	"signalsmith/database/backtests"
	"signalsmith/database/candles"
	"signalsmith/database/signals"
	"signalsmith/database/webhooks"
	"signalsmith/notifications"
	"signalsmith/realtime"
	"signalsmith/scheduler"
	"signalsmith/strategy"
)

// Server handles HTTP API requests
type Server struct {
	agents    *agents.Repository
	signals   *signals.Repository
	candles   *candles.Repository
	backtests *backtests.Repository
	webhooks  *webhooks.Repository
	runner    *backtest.Runner
	sched     *scheduler.Scheduler
	analyzer  *strategy.Service
	webhookMq *notifications.WebhookManager
	broker    *realtime.Broker
	authToken string
	batchSize int
}

// Deps bundles the server's collaborators.
type Deps struct {
	Agents    *agents.Repository
	Signals   *signals.Repository
	Candles   *candles.Repository
	Backtests *backtests.Repository
	Webhooks  *webhooks.Repository
	Runner    *backtest.Runner
	Scheduler *scheduler.Scheduler
	Analyzer  *strategy.Service
	WebhookMq *notifications.WebhookManager
	Broker    *realtime.Broker
	AuthToken string
	BatchSize int
}

// NewServer creates a new API server instance
func NewServer(deps Deps) *Server {
	batch := deps.BatchSize
	if batch <= 0 {
		batch = 10
	}
	return &Server{
		agents:    deps.Agents,
		signals:   deps.Signals,
		candles:   deps.Candles,
		backtests: deps.Backtests,
		webhooks:  deps.Webhooks,
		runner:    deps.Runner,
		sched:     deps.Scheduler,
		analyzer:  deps.Analyzer,
		webhookMq: deps.WebhookMq,
		broker:    deps.Broker,
		authToken: deps.AuthToken,
		batchSize: batch,
	}
}

// Handler builds the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// SSE endpoint
	mux.Handle("GET /api/events", s.broker)

	// Agent management
	mux.HandleFunc("POST /api/agents", s.handleCreateAgent)
	mux.HandleFunc("GET /api/agents", s.handleListAgents)
	mux.HandleFunc("GET /api/agents/{id}", s.handleGetAgent)
	mux.HandleFunc("PUT /api/agents/{id}", s.handleUpdateAgent)
	mux.HandleFunc("DELETE /api/agents/{id}", s.handleDeleteAgent)
	mux.HandleFunc("POST /api/agents/{id}/pause", s.handlePauseAgent)
	mux.HandleFunc("POST /api/agents/{id}/resume", s.handleResumeAgent)
	mux.HandleFunc("GET /api/agents/{id}/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/agents/{id}/logs", s.handleListLogs)

	// Scheduler triggers; mutating, so bearer-authenticated
	mux.HandleFunc("POST /api/scheduler/enqueue", s.requireAuth(s.handleEnqueue))
	mux.HandleFunc("POST /api/scheduler/worker", s.requireAuth(s.handleWorker))

	// Signals
	mux.HandleFunc("GET /api/signals", s.handleGetSignals)
	mux.HandleFunc("GET /api/signals/{id}", s.handleGetSignal)
	mux.HandleFunc("GET /api/analyze", s.handleAnalyze)

	// Backtests
	mux.HandleFunc("POST /api/backtests", s.handleCreateBacktest)
	mux.HandleFunc("GET /api/backtests", s.handleListBacktests)
	mux.HandleFunc("GET /api/backtests/{id}", s.handleGetBacktest)

	// Market data
	mux.HandleFunc("GET /api/candles", s.handleGetCandles)

	// Webhook management
	mux.HandleFunc("GET /api/config/webhooks", s.handleGetWebhooks)
	mux.HandleFunc("POST /api/config/webhooks", s.handleCreateWebhook)
	mux.HandleFunc("PUT /api/config/webhooks/{id}", s.handleUpdateWebhook)
	mux.HandleFunc("DELETE /api/config/webhooks/{id}", s.handleDeleteWebhook)

	mux.HandleFunc("GET /health", s.handleHealth)

	return s.corsMiddleware(s.loggingMiddleware(mux))
}

// Start starts the HTTP server on the specified port
func (s *Server) Start(port string) error {
	serverAddr := fmt.Sprintf("0.0.0.0:%s", port)
	log.Printf("🚀 API Server starting on %s", serverAddr)
	return http.ListenAndServe(serverAddr, s.Handler())
}

// Middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// requireAuth rejects the request before any mutation when the bearer token
// does not match. With no token configured the endpoints are open, which is
// only sensible for local development.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" {
			got := r.Header.Get("Authorization")
			want := "Bearer " + s.authToken
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				respondWithError(w, http.StatusUnauthorized, "Unauthorized", nil)
				return
			}
		}
		next(w, r)
	}
}
