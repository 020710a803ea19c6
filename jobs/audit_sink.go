package jobs

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/praetor-io/praetor/internal/authz"
)

// AuditEnqueuer implements authz.AuditSink by handing events to the queue.
// The worker persists them; enqueue failures surface to the dispatcher's
// local logging, never to the check path.
type AuditEnqueuer struct {
	client *asynq.Client
}

// NewAuditEnqueuer constructs an AuditEnqueuer.
func NewAuditEnqueuer(redisOpts asynq.RedisClientOpt) *AuditEnqueuer {
	return &AuditEnqueuer{client: asynq.NewClient(redisOpts)}
}

// Record enqueues one audit event.
func (e *AuditEnqueuer) Record(ctx context.Context, event authz.AuditEvent) error {
	task, err := NewAuditRecordTask(event)
	if err != nil {
		return err
	}
	_, err = e.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}

// Close releases client resources.
func (e *AuditEnqueuer) Close() error {
	return e.client.Close()
}
