package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

type Fields map[string]any

// AuditSink receives one event at run start, one per classified record and one at
// run completion. Nothing in the comparator depends on the sink succeeding.
type AuditSink interface {
	RecordEvent(ctx context.Context, message string, fields Fields)
}

const (
	EventRunStarted   = "ItemBill sync initialized"
	EventRunCompleted = "ItemBill sync completed"
)

func classifiedMessage(invoiceNum string, status fmt.Stringer) string {
	return fmt.Sprintf("ItemBill %s is %s.", invoiceNum, status)
}

type LogrusAudit struct {
	Logger *logrus.Logger
}

func NewLogrusAudit(logger *logrus.Logger) *LogrusAudit {
	return &LogrusAudit{Logger: logger}
}

func (a *LogrusAudit) RecordEvent(_ context.Context, message string, fields Fields) {
	if a == nil || a.Logger == nil {
		return
	}
	a.Logger.WithFields(logrus.Fields(fields)).Info(message)
}

// MultiAudit fans every event out to each sink in order.
type MultiAudit []AuditSink

func (m MultiAudit) RecordEvent(ctx context.Context, message string, fields Fields) {
	for _, sink := range m {
		if sink != nil {
			sink.RecordEvent(ctx, message, fields)
		}
	}
}

// MemoryAudit keeps events in memory; the service uses it to collect per-record
// entries before persisting them with the run.
type MemoryAudit struct {
	mu     sync.Mutex
	events []AuditEvent
}

type AuditEvent struct {
	Message string
	Fields  Fields
}

func (m *MemoryAudit) RecordEvent(_ context.Context, message string, fields Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(Fields, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	m.events = append(m.events, AuditEvent{Message: message, Fields: cp})
}

func (m *MemoryAudit) Events() []AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditEvent, len(m.events))
	copy(out, m.events)
	return out
}

type noopAudit struct{}

func (noopAudit) RecordEvent(context.Context, string, Fields) {}
