// Package app is the composition root. Bootstrap stays orchestration-only:
// modules own their wiring, this package only orders it.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"bazaar.dev/realtime/internal/app/modules"
	"bazaar.dev/realtime/internal/config"
	"bazaar.dev/realtime/internal/queue"
)

// Application holds composed application dependencies.
type Application struct {
	Config  *config.Config
	Router  *gin.Engine
	Infra   *modules.Infrastructure
	Modules []modules.Module
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	presenceModule := modules.NewPresenceModule(infra)
	notificationModule := modules.NewNotificationModule(infra, presenceModule.Registry)
	gatewayModule := modules.NewGatewayModule(infra, presenceModule.Registry)
	allModules := []modules.Module{presenceModule, notificationModule, gatewayModule}

	workers := river.NewWorkers()
	for _, mod := range allModules {
		mod.RegisterWorkers(workers)
	}
	if err := infra.InitRiver(workers, queue.QueueWorkers(cfg.River)); err != nil {
		infra.Close()
		return nil, fmt.Errorf("init river workers: %w", err)
	}
	// Old notifications are purged daily (and once on startup); stale
	// presence is reconciled on presence.reconcile_interval.
	if err := notificationModule.AttachRiver(infra.RiverClient); err != nil {
		infra.Close()
		return nil, fmt.Errorf("attach delivery queue: %w", err)
	}

	checks := map[string]healthCheck{
		"database": func(ctx context.Context) error { return infra.Pool.Ping(ctx) },
		"redis":    func(ctx context.Context) error { return infra.Redis.Ping(ctx).Err() },
	}

	return &Application{
		Config:  cfg,
		Router:  newRouter(cfg, checks, allModules),
		Infra:   infra,
		Modules: allModules,
	}, nil
}
