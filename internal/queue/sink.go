package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"bazaar.dev/realtime/internal/notification"
	"bazaar.dev/realtime/internal/pkg/logger"
)

// PushSink hands a push payload to the push provider.
type PushSink interface {
	Deliver(ctx context.Context, p notification.PushPayload) error
}

// natsPublisher is satisfied by *nats.Conn.
type natsPublisher interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
}

// FlushWithContext rejects contexts without a deadline.
const flushTimeout = 5 * time.Second

// NATSSink publishes push payloads as JSON on a subject consumed by the push
// provider.
type NATSSink struct {
	nc      natsPublisher
	subject string
}

// NewNATSSink creates a NATSSink.
func NewNATSSink(nc *nats.Conn, subject string) *NATSSink {
	return &NATSSink{nc: nc, subject: subject}
}

// Deliver publishes and flushes, so a dead connection fails the job and River
// retries it.
func (s *NATSSink) Deliver(ctx context.Context, p notification.PushPayload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	msg := nats.NewMsg(s.subject)
	msg.Header.Set("user-id", p.UserID)
	if id, ok := p.Data["notificationId"].(string); ok {
		msg.Header.Set("Nats-Msg-Id", id)
	}
	msg.Data = data

	if err := s.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish push to %s: %w", s.subject, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	if err := s.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush push to %s: %w", s.subject, err)
	}
	return nil
}

// LogSink only logs. It is used when no NATS URL is configured.
type LogSink struct{}

// Deliver implements PushSink.
func (LogSink) Deliver(_ context.Context, p notification.PushPayload) error {
	logger.Info("Push delivery (log sink)",
		zap.String("user_id", p.UserID),
		zap.String("title", p.Title),
		zap.Any("notification_id", p.Data["notificationId"]),
	)
	return nil
}
