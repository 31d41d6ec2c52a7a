package mailer

import (
	"context"
	"fmt"

	"github.com/otpgate/apiserver/internal/logging"
	"github.com/otpgate/apiserver/internal/mq"
)

// QueueMailer hands messages to a broker instead of sending them. A worker
// running Drain performs the delivery.
type QueueMailer struct {
	backend mq.Backend
	queue   string
}

func NewQueueMailer(backend mq.Backend, queue string) *QueueMailer {
	return &QueueMailer{backend: backend, queue: queue}
}

func (q *QueueMailer) Send(ctx context.Context, msg Message) error {
	if _, err := mq.PublishJSON(ctx, q.backend, q.queue, msg); err != nil {
		return fmt.Errorf("enqueue email: %w", err)
	}
	return nil
}

// Drain consumes queued messages and delivers each through next until ctx
// is cancelled. Malformed payloads are logged and acknowledged.
func Drain(ctx context.Context, backend mq.Backend, queue string, next Mailer, log logging.Logger) error {
	return backend.Subscribe(ctx, queue, func(ctx context.Context, m mq.Message) error {
		var msg Message
		if err := m.DecodeJSON(&msg); err != nil {
			log.Error(ctx, "dropping malformed email message", "message_id", m.ID, "error", err)
			return nil
		}
		if err := next.Send(ctx, msg); err != nil {
			log.Warn(ctx, "email delivery failed", "message_id", m.ID, "to", msg.To, "error", err)
			return err
		}
		log.Info(ctx, "email delivered", "message_id", m.ID, "to", msg.To)
		return nil
	})
}
