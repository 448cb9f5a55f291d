package modules

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"bazaar.dev/realtime/internal/collab"
	"bazaar.dev/realtime/internal/pkg/logger"
	"bazaar.dev/realtime/internal/pkg/worker"
	"bazaar.dev/realtime/internal/presence"
)

// PresenceModule wires the connection registry and keeps this instance's
// heartbeat alive.
type PresenceModule struct {
	infra    *Infrastructure
	Registry *presence.Registry
}

// NewPresenceModule creates a presence module with explicit constructor wiring.
func NewPresenceModule(infra *Infrastructure) *PresenceModule {
	cfg := infra.Config.Presence
	registry := presence.NewRegistry(
		infra.Redis,
		presence.NewPGStore(infra.Pool),
		collab.NewFollowerGraph(infra.Pool),
		infra.Emitter,
		presence.Options{
			InstanceID:              infra.InstanceID,
			TypingTTL:               cfg.TypingTTL,
			HeartbeatTTL:            cfg.HeartbeatTTL,
			BroadcastFallbackGlobal: cfg.BroadcastFallbackGlobal,
		},
	)
	return &PresenceModule{infra: infra, Registry: registry}
}

func (m *PresenceModule) Name() string { return "presence" }

// RegisterWorkers is a no-op: stale presence is reaped by the cleanup queue,
// which the notification module registers.
func (m *PresenceModule) RegisterWorkers(*river.Workers) {}

// Start writes the first heartbeat synchronously, so sockets accepted right
// after boot are never reaped, then refreshes it in the background.
func (m *PresenceModule) Start(ctx context.Context) error {
	if err := m.Registry.Heartbeat(ctx); err != nil {
		return fmt.Errorf("initial heartbeat: %w", err)
	}
	if err := m.infra.Pools.SubmitDetached(worker.PoolGeneral, m.heartbeatLoop); err != nil {
		return fmt.Errorf("submit heartbeat loop: %w", err)
	}
	return nil
}

func (m *PresenceModule) heartbeatLoop(ctx context.Context) {
	interval := m.infra.Config.Presence.HeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Registry.Heartbeat(ctx); err != nil {
				logger.Warn("Instance heartbeat failed",
					zap.String("instance_id", m.infra.InstanceID),
					zap.Error(err),
				)
			}
		}
	}
}

func (m *PresenceModule) Shutdown(context.Context) error { return nil }
