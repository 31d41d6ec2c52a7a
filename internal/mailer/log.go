package mailer

import (
	"context"

	"github.com/otpgate/apiserver/internal/logging"
)

// LogMailer writes messages to the log instead of sending them. For local
// development only: the body contains the code.
type LogMailer struct {
	log logging.Logger
}

func NewLogMailer(log logging.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (l *LogMailer) Send(ctx context.Context, msg Message) error {
	l.log.Info(ctx, "email", "to", msg.To, "subject", msg.Subject, "html", msg.HTML)
	return nil
}
