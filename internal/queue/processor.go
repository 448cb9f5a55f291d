package queue

import (
	"context"

	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"

	"bazaar.dev/realtime/internal/notification"
	"bazaar.dev/realtime/internal/pkg/logger"
)

// ReasonPreferencesDisabled marks a job whose notification was gated off.
const ReasonPreferencesDisabled = "preferences_disabled"

// Creator is the part of notification.Engine the processor drives.
type Creator interface {
	Create(ctx context.Context, p notification.Payload, opts notification.CreateOptions) (*notification.Notification, error)
	IsRecipientOnline(ctx context.Context, userID string) bool
}

// ProcessResult is recorded as the job output.
type ProcessResult struct {
	NotificationID string `json:"notificationId,omitempty"`
	PushQueued     bool   `json:"pushQueued"`
	Skipped        bool   `json:"skipped"`
	Reason         string `json:"reason,omitempty"`
}

// NotificationProcessor runs queued notification payloads through the
// engine.
type NotificationProcessor struct {
	engine Creator
	push   notification.PushEnqueuer
}

// NewNotificationProcessor creates a processor. push may be nil, in which case
// offline recipients get no push job.
func NewNotificationProcessor(engine Creator, push notification.PushEnqueuer) *NotificationProcessor {
	return &NotificationProcessor{engine: engine, push: push}
}

// Process creates the notification with the engine's own push step turned
// off, then queues the push itself for offline recipients. Create errors are
// returned so the job is retried; a failed push enqueue is not, since a retry
// would insert the row again.
func (p *NotificationProcessor) Process(ctx context.Context, payload notification.Payload) (*ProcessResult, error) {
	n, err := p.engine.Create(ctx, payload, notification.CreateOptions{SkipPushNotification: true})
	if err != nil {
		return nil, err
	}
	if n == nil {
		return &ProcessResult{Skipped: true, Reason: ReasonPreferencesDisabled}, nil
	}

	res := &ProcessResult{NotificationID: n.ID}
	if p.engine.IsRecipientOnline(ctx, n.RecipientID) || p.push == nil {
		return res, nil
	}
	if err := p.push.AddPushJob(ctx, notification.PushPayloadFor(n)); err != nil {
		logger.Error("Push job enqueue failed after notification created",
			zap.String("notification_id", n.ID),
			zap.String("user_id", n.RecipientID),
			zap.Error(err),
		)
		return res, nil
	}
	res.PushQueued = true
	return res, nil
}

// OnCompleted logs a finished job.
func (p *NotificationProcessor) OnCompleted(job *rivertype.JobRow, res *ProcessResult) {
	if job == nil || res == nil {
		return
	}
	logger.Debug("Notification job completed",
		zap.Int64("job_id", job.ID),
		zap.String("notification_id", res.NotificationID),
		zap.Bool("push_queued", res.PushQueued),
		zap.Bool("skipped", res.Skipped),
		zap.String("reason", res.Reason),
	)
}

// OnFailed logs a failed attempt.
func (p *NotificationProcessor) OnFailed(job *rivertype.JobRow, err error) {
	if job == nil {
		return
	}
	logger.Warn("Notification job failed",
		zap.Int64("job_id", job.ID),
		zap.Int("attempt", job.Attempt),
		zap.Int("max_attempts", job.MaxAttempts),
		zap.Error(err),
	)
}
