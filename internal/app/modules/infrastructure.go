package modules

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"bazaar.dev/realtime/internal/config"
	"bazaar.dev/realtime/internal/infrastructure"
	"bazaar.dev/realtime/internal/pkg/logger"
	"bazaar.dev/realtime/internal/pkg/worker"
	"bazaar.dev/realtime/internal/realtime"
)

// Infrastructure holds shared cross-cutting dependencies for all modules.
// It is a provider, not a Module.
type Infrastructure struct {
	Config      *config.Config
	InstanceID  string
	DB          *infrastructure.DatabaseClients
	Pool        *pgxpool.Pool
	RiverClient *river.Client[pgx.Tx]
	Redis       *redis.Client
	// NATS is nil when no push broker is configured.
	NATS    *nats.Conn
	Pools   *worker.Pools
	Hub     *realtime.Hub
	Bus     *realtime.RedisBus
	Emitter *realtime.Emitter
}

// NewInfrastructure connects the stores and builds the local realtime hub.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	// Dev-mode: apply service schema + River queue tables.
	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}

	rdb, err := infrastructure.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	nc, err := infrastructure.NewNATSConn(cfg.NATS)
	if err != nil {
		_ = rdb.Close()
		db.Close()
		return nil, fmt.Errorf("init nats: %w", err)
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize:  cfg.Worker.GeneralPoolSize,
		RealtimePoolSize: cfg.Worker.RealtimePoolSize,
	})
	if err != nil {
		if nc != nil {
			nc.Close()
		}
		_ = rdb.Close()
		db.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	instanceID := cfg.Server.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	hub := realtime.NewHub(rdb)
	bus := realtime.NewRedisBus(rdb, cfg.Redis.BroadcastChannel, hub)

	logger.Info("Infrastructure ready",
		zap.String("instance_id", instanceID),
		zap.Bool("nats", nc != nil),
	)

	return &Infrastructure{
		Config:     cfg,
		InstanceID: instanceID,
		DB:         db,
		Pool:       db.Pool,
		Redis:      rdb,
		NATS:       nc,
		Pools:      pools,
		Hub:        hub,
		Bus:        bus,
		Emitter:    realtime.NewEmitter(bus),
	}, nil
}

// InitRiver initializes River client on top of a prepared worker registry.
func (i *Infrastructure) InitRiver(workers *river.Workers, queues map[string]int) error {
	if i == nil || i.DB == nil || i.Config == nil {
		return fmt.Errorf("infrastructure is not initialized")
	}
	if err := i.DB.InitRiverClient(workers, queues, i.Config.River); err != nil {
		return fmt.Errorf("init river: %w", err)
	}
	i.RiverClient = i.DB.RiverClient
	return nil
}

// StartBus subscribes this instance to the cross-instance broadcast channel.
// It returns once the subscription is confirmed so that no emit published
// after Start is missed locally.
func (i *Infrastructure) StartBus(ctx context.Context) error {
	ready := make(chan struct{})
	failed := make(chan error, 1)
	err := i.Pools.SubmitDetached(worker.PoolGeneral, func(svcCtx context.Context) {
		if err := i.Bus.Run(svcCtx, ready); err != nil {
			logger.Error("Realtime bus stopped", zap.Error(err))
			failed <- err
		}
	})
	if err != nil {
		return fmt.Errorf("submit bus subscriber: %w", err)
	}

	select {
	case <-ready:
		return nil
	case err := <-failed:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases infra resources in reverse dependency order.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	if i.Pools != nil {
		i.Pools.Shutdown()
	}
	if i.NATS != nil {
		if err := i.NATS.Drain(); err != nil {
			logger.Warn("NATS drain failed", zap.Error(err))
		}
	}
	if i.Redis != nil {
		_ = i.Redis.Close()
	}
	if i.DB != nil {
		i.DB.Close()
	}
}
