package presence

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"bazaar.dev/realtime/internal/pkg/logger"
)

// Heartbeat marks this instance alive. Sockets owned by an instance whose
// heartbeat expired are reaped by ReconcileStalePresence.
func (r *Registry) Heartbeat(ctx context.Context) error {
	return r.rdb.Set(ctx, instanceKey(r.opts.InstanceID), r.opts.Now().UnixMilli(), r.opts.HeartbeatTTL).Err()
}

// ReconcileStalePresence repairs presence left behind by instances that died
// without unregistering their sockets. It drops sockets whose owning instance
// has no heartbeat, then marks users with no remaining sockets offline in
// both stores and tells their followers. It returns how many users went
// offline.
func (r *Registry) ReconcileStalePresence(ctx context.Context) (int, error) {
	candidates := make(map[string]struct{})

	durable, err := r.store.OnlineUserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list durable online users: %w", err)
	}
	for _, id := range durable {
		candidates[id] = struct{}{}
	}
	fast, err := r.rdb.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list online set: %w", err)
	}
	for _, id := range fast {
		candidates[id] = struct{}{}
	}

	alive := make(map[string]bool)
	reconciled := 0
	for userID := range candidates {
		if err := ctx.Err(); err != nil {
			return reconciled, err
		}
		remaining, err := r.reapSockets(ctx, userID, alive)
		if err != nil {
			logger.Warn("Reap sockets failed", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		if remaining > 0 {
			continue
		}

		dropped, err := dropIfEmpty.Run(ctx, r.rdb, []string{userSocketsKey(userID), onlineSetKey}, userID).Int64()
		if err != nil {
			logger.Warn("Reconcile offline mark failed", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		now := r.opts.Now()
		if err := r.store.MarkOffline(ctx, userID, now); err != nil {
			logger.Warn("Durable offline write failed", zap.String("user_id", userID), zap.Error(err))
		}
		if err := r.rdb.HSet(ctx, userKey(userID), fieldLastSeen, now.UnixMilli()).Err(); err != nil {
			logger.Debug("Last-seen refresh failed", zap.String("user_id", userID), zap.Error(err))
		}
		// Users only the durable store thought online were never announced
		// by this cluster view; followers still need the offline signal.
		if dropped == 1 || slices.Contains(durable, userID) {
			r.broadcast(ctx, userID, EventUserOffline)
		}
		reconciled++
	}

	if reconciled > 0 {
		logger.Info("Stale presence reconciled", zap.Int("users", reconciled))
	}
	return reconciled, nil
}

// reapSockets removes sockets of dead instances and returns how many live
// sockets the user still has.
func (r *Registry) reapSockets(ctx context.Context, userID string, alive map[string]bool) (int, error) {
	sockets, err := r.rdb.SMembers(ctx, userSocketsKey(userID)).Result()
	if err != nil {
		return 0, err
	}

	remaining := 0
	for _, socketID := range sockets {
		instance, err := r.rdb.HGet(ctx, socketKey(socketID), fieldInstance).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return 0, err
		}
		if instance != "" {
			live, known := alive[instance]
			if !known {
				n, err := r.rdb.Exists(ctx, instanceKey(instance)).Result()
				if err != nil {
					return 0, err
				}
				live = n > 0
				alive[instance] = live
			}
			if live {
				remaining++
				continue
			}
		}

		_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, socketKey(socketID))
			p.SRem(ctx, userSocketsKey(userID), socketID)
			return nil
		})
		if err != nil {
			return 0, err
		}
		logger.Debug("Reaped stale socket",
			zap.String("user_id", userID),
			zap.String("socket_id", socketID),
			zap.String("instance", instance),
		)
	}
	return remaining, nil
}
