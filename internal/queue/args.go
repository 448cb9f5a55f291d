package queue

import (
	"math"
	"time"

	"github.com/riverqueue/river"

	"bazaar.dev/realtime/internal/notification"
)

// River queue names.
const (
	QueueNotification = "notification_creation"
	QueuePush         = "push_delivery"
	QueueCleanup      = "cleanup"
)

// Queues lists every queue this service owns, in stats order.
var Queues = []string{QueueNotification, QueuePush, QueueCleanup}

// Cleanup job types.
const (
	CleanupOldNotifications = "old_notifications"
	CleanupStalePresence    = "stale_presence"
)

// Job priorities. River runs lower numbers first.
const (
	priorityPush         = 1
	priorityNotification = 2
	priorityCleanup      = 4
)

const (
	notificationMaxAttempts = 3
	pushMaxAttempts         = 5
	cleanupMaxAttempts      = 1

	baseBackoff = 2 * time.Second
)

// backoff is 2s * 2^(attempt-1): 2s, 4s, 8s, ...
func backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(baseBackoff) * math.Pow(2, float64(attempt-1)))
}

// NotificationArgs asks a worker to run the full Create pipeline for one
// payload.
type NotificationArgs struct {
	Payload notification.Payload `json:"payload"`
}

// Kind returns the job kind identifier for notification creation.
func (NotificationArgs) Kind() string { return "notification_create" }

// InsertOpts returns default insert options for notification creation jobs.
func (NotificationArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueNotification,
		MaxAttempts: notificationMaxAttempts,
		Priority:    priorityNotification,
	}
}

// PushArgs carries a push payload for the push provider.
type PushArgs struct {
	Push notification.PushPayload `json:"push"`
}

// Kind returns the job kind identifier for push delivery.
func (PushArgs) Kind() string { return "push_deliver" }

// InsertOpts returns default insert options for push delivery jobs.
func (PushArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueuePush,
		MaxAttempts: pushMaxAttempts,
		Priority:    priorityPush,
	}
}

// CleanupArgs is a maintenance job. Type selects the task.
type CleanupArgs struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Kind returns the job kind identifier for cleanup jobs.
func (CleanupArgs) Kind() string { return "cleanup" }

// InsertOpts returns default insert options for cleanup jobs.
func (CleanupArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueCleanup,
		MaxAttempts: cleanupMaxAttempts,
		Priority:    priorityCleanup,
	}
}

func validCleanupType(t string) bool {
	return t == CleanupOldNotifications || t == CleanupStalePresence
}
