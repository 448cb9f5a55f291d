package infrastructure

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"bazaar.dev/realtime/internal/config"
	"bazaar.dev/realtime/internal/pkg/logger"
)

// NewNATSConn connects to NATS for push hand-off. It returns (nil, nil) when
// no URL is configured; callers then fall back to the log-only push sink.
func NewNATSConn(cfg config.NATSConfig) (*nats.Conn, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}

	logger.Info("NATS connected", zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}
