package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/praetor-io/praetor/internal/authz"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeAuditRecord is the task type persisting one audit event.
	TaskTypeAuditRecord = "audit:record"
)

// NewAuditRecordTask wraps an audit event into an Asynq task.
func NewAuditRecordTask(event authz.AuditEvent) (*asynq.Task, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAuditRecord, data), nil
}

// AuditRecorder persists audit events durably.
type AuditRecorder interface {
	Record(ctx context.Context, event authz.AuditEvent) error
}

// NewAuditRecordHandler returns the handler processing TaskTypeAuditRecord
// tasks. Malformed payloads are dropped rather than retried.
func NewAuditRecordHandler(recorder AuditRecorder, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var event authz.AuditEvent
		if err := json.Unmarshal(t.Payload(), &event); err != nil {
			if logger != nil {
				logger.Warn("audit task payload malformed", slog.Any("error", err))
			}
			return asynq.SkipRetry
		}
		return recorder.Record(ctx, event)
	}
}
