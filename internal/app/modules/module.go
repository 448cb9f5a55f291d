// Package modules contains the domain-oriented dependency modules wired by
// the composition root.
//
// Import Path: bazaar.dev/realtime/internal/app/modules
package modules

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"
)

// Module represents a domain-specific dependency unit in the composition root.
type Module interface {
	// Name returns a stable module identifier for logging/debugging.
	Name() string

	// RegisterWorkers registers module workers into a shared River worker registry.
	RegisterWorkers(*river.Workers)

	// Shutdown performs module-local graceful cleanup.
	Shutdown(context.Context) error
}

// RouteRegistrar is implemented by modules that expose HTTP routes.
type RouteRegistrar interface {
	RegisterRoutes(gin.IRouter)
}

// Starter is implemented by modules with background loops. Start must not
// block.
type Starter interface {
	Start(context.Context) error
}
