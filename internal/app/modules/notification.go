package modules

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"bazaar.dev/realtime/internal/notification"
	"bazaar.dev/realtime/internal/presence"
	"bazaar.dev/realtime/internal/queue"
)

// NotificationModule wires the notification engine and the delivery queue.
type NotificationModule struct {
	infra    *Infrastructure
	registry *presence.Registry
	sink     queue.PushSink
	Engine   *notification.Engine
	Queue    *queue.DeliveryQueue
}

// NewNotificationModule creates the engine with the queue as its push
// enqueuer. The queue is attached to River later, once workers exist.
func NewNotificationModule(infra *Infrastructure, registry *presence.Registry) *NotificationModule {
	cfg := infra.Config

	dq := queue.New(infra.Pool, queue.Options{ReconcileInterval: cfg.Presence.ReconcileInterval})
	engine := notification.NewEngine(
		notification.NewEntRepository(infra.DB.Ent),
		notification.NewRedisUnreadCache(infra.Redis, cfg.Notification.UnreadCacheTTL),
		registry,
		infra.Emitter,
		dq,
		notification.Options{
			DefaultPageSize: cfg.Notification.DefaultPageSize,
			MaxPageSize:     cfg.Notification.MaxPageSize,
		},
	)

	var sink queue.PushSink = queue.LogSink{}
	if infra.NATS != nil {
		sink = queue.NewNATSSink(infra.NATS, cfg.NATS.PushSubject)
	}

	return &NotificationModule{
		infra:    infra,
		registry: registry,
		sink:     sink,
		Engine:   engine,
		Queue:    dq,
	}
}

func (m *NotificationModule) Name() string { return "notification" }

func (m *NotificationModule) RegisterWorkers(workers *river.Workers) {
	if workers == nil || m == nil {
		return
	}
	queue.RegisterWorkers(workers, queue.WorkerDeps{
		Processor:     queue.NewNotificationProcessor(m.Engine, m.Queue),
		Sink:          m.sink,
		Purger:        m.Engine,
		Reconciler:    m.registry,
		RetentionDays: m.infra.Config.Notification.RetentionDays,
	})
}

// AttachRiver binds the queue to the River client and installs the
// recurring cleanup jobs.
func (m *NotificationModule) AttachRiver(client *river.Client[pgx.Tx]) error {
	if client == nil {
		return fmt.Errorf("river client is not initialized")
	}
	m.Queue.Attach(client)
	if err := m.Queue.InstallSchedules(); err != nil {
		return fmt.Errorf("install cleanup schedules: %w", err)
	}
	return nil
}

func (m *NotificationModule) Shutdown(context.Context) error { return nil }
