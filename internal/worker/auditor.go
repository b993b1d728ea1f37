// Package worker drains the attendance event queue into the audit table.
package worker

import (
	"context"
	"log/slog"
	"time"

	"geoattend/internal/attendance"
	"geoattend/internal/queue"
)

// AuditStore persists decoded events. *attendance.Repository satisfies it.
type AuditStore interface {
	InsertAudit(ctx context.Context, evt attendance.Event) error
}

// Recorder counts audit outcomes. *metrics.Metrics satisfies it.
type Recorder interface {
	Audit(result string)
}

// Auditor consumes queue messages until its context is cancelled.
type Auditor struct {
	Queue   queue.Queue
	Store   AuditStore
	Metrics Recorder
	Logger  *slog.Logger
	// Timeout bounds each insert; zero means 5s.
	Timeout time.Duration
}

// Run blocks until ctx is done or the queue closes.
func (a *Auditor) Run(ctx context.Context) error {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	messages, err := a.Queue.Consume(ctx)
	if err != nil {
		return err
	}

	logger.Info("auditor started")
	for msg := range messages {
		a.record(a.handle(ctx, logger, msg))
	}
	logger.Info("auditor stopped")
	return nil
}

func (a *Auditor) handle(ctx context.Context, logger *slog.Logger, msg queue.Message) string {
	evt, err := attendance.DecodeEvent(msg)
	if err != nil || evt.ID == "" {
		logger.Warn("dropping malformed event", "type", msg.Type, "error", err)
		return "malformed"
	}

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := a.Store.InsertAudit(ctx, evt); err != nil {
		logger.Error("store audit event failed", "event_id", evt.ID, "type", evt.Type, "error", err)
		return "failed"
	}
	logger.Debug("audit event stored", "event_id", evt.ID, "type", evt.Type)
	return "stored"
}

func (a *Auditor) record(result string) {
	if a.Metrics != nil {
		a.Metrics.Audit(result)
	}
}
