package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"bazaar.dev/realtime/internal/config"
	apperrors "bazaar.dev/realtime/internal/pkg/errors"
	"bazaar.dev/realtime/internal/pkg/logger"
)

// ---------------------------------------------------------------------------
// Notification creation
// ---------------------------------------------------------------------------

// NotificationWorker runs notification creation jobs.
type NotificationWorker struct {
	river.WorkerDefaults[NotificationArgs]
	processor *NotificationProcessor
	now       func() time.Time
}

// NewNotificationWorker creates a NotificationWorker.
func NewNotificationWorker(processor *NotificationProcessor) *NotificationWorker {
	return &NotificationWorker{processor: processor, now: time.Now}
}

// Work processes one payload. Invalid payloads are cancelled instead of
// retried.
func (w *NotificationWorker) Work(ctx context.Context, job *river.Job[NotificationArgs]) error {
	res, err := w.processor.Process(ctx, job.Args.Payload)
	if err != nil {
		w.processor.OnFailed(job.JobRow, err)
		if apperrors.HasCode(err, apperrors.CodeValidationFailed) {
			return river.JobCancel(err)
		}
		return err
	}
	if err := river.RecordOutput(ctx, res); err != nil {
		logger.Debug("Record notification job output failed", zap.Int64("job_id", job.ID), zap.Error(err))
	}
	w.processor.OnCompleted(job.JobRow, res)
	return nil
}

// NextRetry backs off exponentially from 2s.
func (w *NotificationWorker) NextRetry(job *river.Job[NotificationArgs]) time.Time {
	return w.now().Add(backoff(job.Attempt))
}

// ---------------------------------------------------------------------------
// Push delivery
// ---------------------------------------------------------------------------

// PushWorker hands push jobs to the push sink.
type PushWorker struct {
	river.WorkerDefaults[PushArgs]
	sink PushSink
	now  func() time.Time
}

// NewPushWorker creates a PushWorker.
func NewPushWorker(sink PushSink) *PushWorker {
	return &PushWorker{sink: sink, now: time.Now}
}

// Work delivers one push payload.
func (w *PushWorker) Work(ctx context.Context, job *river.Job[PushArgs]) error {
	if err := w.sink.Deliver(ctx, job.Args.Push); err != nil {
		logger.Warn("Push delivery failed",
			zap.Int64("job_id", job.ID),
			zap.String("user_id", job.Args.Push.UserID),
			zap.Int("attempt", job.Attempt),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// NextRetry backs off exponentially from 2s.
func (w *PushWorker) NextRetry(job *river.Job[PushArgs]) time.Time {
	return w.now().Add(backoff(job.Attempt))
}

// ---------------------------------------------------------------------------
// Cleanup
// ---------------------------------------------------------------------------

// NotificationPurger deletes read notifications past retention.
type NotificationPurger interface {
	DeleteOld(ctx context.Context, olderThanDays int) (int64, error)
}

// PresenceReconciler reaps presence left behind by dead instances.
type PresenceReconciler interface {
	ReconcileStalePresence(ctx context.Context) (int, error)
}

// CleanupWorker runs maintenance jobs.
type CleanupWorker struct {
	river.WorkerDefaults[CleanupArgs]
	purger        NotificationPurger
	reconciler    PresenceReconciler
	retentionDays int
}

// NewCleanupWorker creates a CleanupWorker. Non-positive retention falls back
// to 30 days.
func NewCleanupWorker(purger NotificationPurger, reconciler PresenceReconciler, retentionDays int) *CleanupWorker {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &CleanupWorker{purger: purger, reconciler: reconciler, retentionDays: retentionDays}
}

// Work dispatches on the cleanup type.
func (w *CleanupWorker) Work(ctx context.Context, job *river.Job[CleanupArgs]) error {
	switch job.Args.Type {
	case CleanupOldNotifications:
		days := intFrom(job.Args.Data["olderThanDays"], w.retentionDays)
		deleted, err := w.purger.DeleteOld(ctx, days)
		if err != nil {
			return fmt.Errorf("delete notifications older than %d days: %w", days, err)
		}
		logger.Info("Notification cleanup completed",
			zap.Int64("deleted_rows", deleted),
			zap.Int("older_than_days", days),
		)
		return nil

	case CleanupStalePresence:
		n, err := w.reconciler.ReconcileStalePresence(ctx)
		if err != nil {
			return fmt.Errorf("reconcile stale presence: %w", err)
		}
		logger.Info("Stale presence reconciled", zap.Int("users", n))
		return nil

	default:
		return river.JobCancel(fmt.Errorf("unknown cleanup type %q", job.Args.Type))
	}
}

// intFrom reads an int from a JSON-decoded value.
func intFrom(v any, def int) int {
	switch n := v.(type) {
	case int:
		if n > 0 {
			return n
		}
	case float64:
		if n > 0 {
			return int(n)
		}
	}
	return def
}

// ---------------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------------

// WorkerDeps are the collaborators of the queue workers.
type WorkerDeps struct {
	Processor     *NotificationProcessor
	Sink          PushSink
	Purger        NotificationPurger
	Reconciler    PresenceReconciler
	RetentionDays int
}

// RegisterWorkers adds every queue worker to workers.
func RegisterWorkers(workers *river.Workers, deps WorkerDeps) {
	river.AddWorker(workers, NewNotificationWorker(deps.Processor))
	river.AddWorker(workers, NewPushWorker(deps.Sink))
	river.AddWorker(workers, NewCleanupWorker(deps.Purger, deps.Reconciler, deps.RetentionDays))
}

// QueueWorkers maps each queue to its worker budget.
func QueueWorkers(cfg config.RiverConfig) map[string]int {
	return map[string]int{
		QueueNotification: cfg.NotificationWorkers,
		QueuePush:         cfg.PushWorkers,
		QueueCleanup:      cfg.CleanupWorkers,
	}
}
