package modules

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"bazaar.dev/realtime/internal/collab"
	"bazaar.dev/realtime/internal/gateway"
	"bazaar.dev/realtime/internal/presence"
)

// GatewayModule wires the websocket gateway.
type GatewayModule struct {
	infra   *Infrastructure
	Gateway *gateway.Gateway
	Server  *gateway.WSServer
}

// NewGatewayModule creates a gateway module with explicit constructor wiring.
func NewGatewayModule(infra *Infrastructure, registry *presence.Registry) *GatewayModule {
	cfg := infra.Config
	gw := gateway.New(
		registry,
		collab.NewJWTVerifier([]byte(cfg.Security.JWTSecret), cfg.Security.JWTIssuer),
		collab.NewConversationMembership(infra.Pool),
		infra.Hub,
		infra.Emitter,
	)
	return &GatewayModule{
		infra:   infra,
		Gateway: gw,
		Server:  gateway.NewWSServer(gw, infra.Pools, cfg.Gateway),
	}
}

func (m *GatewayModule) Name() string { return "gateway" }

func (m *GatewayModule) RegisterRoutes(r gin.IRouter) {
	r.GET(m.infra.Config.Gateway.Path, gin.WrapH(m.Server))
}

func (m *GatewayModule) RegisterWorkers(*river.Workers) {}

func (m *GatewayModule) Shutdown(context.Context) error { return nil }
