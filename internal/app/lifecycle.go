package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"bazaar.dev/realtime/internal/app/modules"
	"bazaar.dev/realtime/internal/pkg/logger"
)

// Start starts all background services (bus subscriber, module loops, River
// workers). The bus goes first so that no emit is lost once sockets connect.
func (a *Application) Start(ctx context.Context) error {
	if a.Infra != nil && a.Infra.Bus != nil {
		if err := a.Infra.StartBus(ctx); err != nil {
			return fmt.Errorf("start realtime bus: %w", err)
		}
	}

	for _, mod := range a.Modules {
		starter, ok := mod.(modules.Starter)
		if !ok {
			continue
		}
		if err := starter.Start(ctx); err != nil {
			return fmt.Errorf("start %s module: %w", mod.Name(), err)
		}
	}

	if a.Infra != nil && a.Infra.RiverClient != nil {
		if err := a.Infra.RiverClient.Start(ctx); err != nil {
			return fmt.Errorf("start river client: %w", err)
		}
		logger.Info("River client started, jobs will now be consumed")
	}
	return nil
}

// Shutdown gracefully shuts down all application components.
func (a *Application) Shutdown() {
	shutdownCtx := context.Background()

	if a.Infra != nil && a.Infra.RiverClient != nil {
		if err := a.Infra.RiverClient.Stop(shutdownCtx); err != nil {
			logger.Error("failed to stop river client", zap.Error(err))
		}
		logger.Info("River client stopped")
	}

	for _, mod := range a.Modules {
		if mod == nil {
			continue
		}
		if err := mod.Shutdown(shutdownCtx); err != nil {
			logger.Warn("module shutdown returned error",
				zap.String("module", mod.Name()),
				zap.Error(err),
			)
		}
	}

	if a.Infra != nil {
		a.Infra.Close()
	}
}
