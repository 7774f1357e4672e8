package app

import (
	"log"

	models "signalsmith/database/models_pkg"
	"signalsmith/database/signals"
	"signalsmith/notifications"
	"signalsmith/realtime"
	"signalsmith/scheduler"
)

// signalSink routes generated signals to storage, webhooks, and the SSE
// stream. Persist failures surface to the job; notification failures never
// do.
type signalSink struct {
	repo      *signals.Repository
	webhookMq *notifications.WebhookManager
	broker    *realtime.Broker
}

func newSignalSink(repo *signals.Repository, webhookMq *notifications.WebhookManager, broker *realtime.Broker) *signalSink {
	return &signalSink{repo: repo, webhookMq: webhookMq, broker: broker}
}

func (s *signalSink) PersistSignal(signal *models.TradingSignal, agentID int64) error {
	created, err := s.repo.PersistSignal(signal, &agentID)
	if err != nil {
		return err
	}
	if !created {
		log.Printf("ℹ️  Signal for %s %s refreshed existing active signal", signal.StockSymbol, signal.Direction)
	}
	return nil
}

func (s *signalSink) NotifySignal(signal *models.TradingSignal) {
	if s.webhookMq != nil {
		s.webhookMq.NotifySignal(signal, 0)
	}
	if s.broker != nil {
		s.broker.Broadcast(realtime.EventSignal, signal)
	}
}

// broadcastLogStore forwards ERROR-level agent logs to the SSE stream on top
// of persisting them, so operators watching /api/events see job failures as
// they happen.
type broadcastLogStore struct {
	store  scheduler.LogStore
	broker *realtime.Broker
}

func (b *broadcastLogStore) EmitAgentLog(agentID int64, jobID *int64, level, message string) error {
	if level == "ERROR" && b.broker != nil {
		b.broker.Broadcast(realtime.EventJobFailed, map[string]interface{}{
			"agent_id": agentID,
			"job_id":   jobID,
			"message":  message,
		})
	}
	return b.store.EmitAgentLog(agentID, jobID, level, message)
}
