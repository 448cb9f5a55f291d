package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"bazaar.dev/realtime/internal/pkg/logger"
	"bazaar.dev/realtime/internal/realtime"
)

// Options tunes a Registry. Zero values fall back to defaults.
type Options struct {
	// InstanceID is written into each socket hash so sockets of a crashed
	// instance can be reaped.
	InstanceID   string
	TypingTTL    time.Duration
	HeartbeatTTL time.Duration
	// BroadcastFallbackGlobal sends presence transitions to every socket when
	// the follower lookup fails. Off means the transition is logged and dropped.
	BroadcastFallbackGlobal bool
	Now                     func() time.Time
}

const (
	defaultTypingTTL    = 5 * time.Second
	defaultHeartbeatTTL = 30 * time.Second
)

// Registry is the presence core shared by every instance.
type Registry struct {
	rdb       redis.UniversalClient
	store     Store
	followers FollowerLookup
	emitter   Emitter
	opts      Options
}

// dropIfEmpty removes a user from the online set only if their socket set is
// empty at that moment, so a concurrent connect on another instance is not
// clobbered.
var dropIfEmpty = redis.NewScript(`
if redis.call('SCARD', KEYS[1]) == 0 then
  redis.call('SREM', KEYS[2], ARGV[1])
  return 1
end
return 0
`)

// NewRegistry creates a Registry.
func NewRegistry(rdb redis.UniversalClient, store Store, followers FollowerLookup, emitter Emitter, opts Options) *Registry {
	if opts.TypingTTL <= 0 {
		opts.TypingTTL = defaultTypingTTL
	}
	if opts.HeartbeatTTL <= 0 {
		opts.HeartbeatTTL = defaultHeartbeatTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		rdb:       rdb,
		store:     store,
		followers: followers,
		emitter:   emitter,
		opts:      opts,
	}
}

// RegisterSocket records a new connection for userID and reports whether it
// is the user's first live device.
func (r *Registry) RegisterSocket(ctx context.Context, socketID, userID string) (first bool, err error) {
	now := r.opts.Now()
	nowMs := now.UnixMilli()

	var card *redis.IntCmd
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, socketKey(socketID),
			fieldUser, userID,
			fieldInstance, r.opts.InstanceID,
			fieldConnectedAt, nowMs,
		)
		p.SAdd(ctx, userSocketsKey(userID), socketID)
		card = p.SCard(ctx, userSocketsKey(userID))
		p.SAdd(ctx, onlineSetKey, userID)
		p.HSet(ctx, userKey(userID), fieldLastSeen, nowMs)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("register socket %s: %w", socketID, err)
	}

	first = card.Val() == 1
	if first {
		err = r.store.UpsertOnline(ctx, userID, now)
	} else {
		err = r.store.IncrementConnections(ctx, userID, now)
	}
	if err != nil {
		// Redis stays authoritative; the durable row catches up on the next
		// transition or reconcile pass.
		logger.Warn("Durable presence write failed",
			zap.String("user_id", userID),
			zap.String("socket_id", socketID),
			zap.Bool("first_device", first),
			zap.Error(err),
		)
	}

	logger.Debug("Socket registered",
		zap.String("user_id", userID),
		zap.String("socket_id", socketID),
		zap.Int64("sockets", card.Val()),
	)
	return first, nil
}

// UnregisterSocket removes a connection. When it was the user's last device it
// returns the user id and wentOffline=true; otherwise it returns "" and false.
// Unknown sockets are a no-op.
func (r *Registry) UnregisterSocket(ctx context.Context, socketID string) (string, bool, error) {
	userID, err := r.rdb.HGet(ctx, socketKey(socketID), fieldUser).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolve socket %s: %w", socketID, err)
	}

	now := r.opts.Now()
	var card *redis.IntCmd
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, socketKey(socketID))
		p.SRem(ctx, userSocketsKey(userID), socketID)
		card = p.SCard(ctx, userSocketsKey(userID))
		p.HSet(ctx, userKey(userID), fieldLastSeen, now.UnixMilli())
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("unregister socket %s: %w", socketID, err)
	}

	if card.Val() > 0 {
		if err := r.store.DecrementConnections(ctx, userID, now); err != nil {
			logger.Warn("Durable presence write failed",
				zap.String("user_id", userID),
				zap.String("socket_id", socketID),
				zap.Error(err),
			)
		}
		return "", false, nil
	}

	dropped, err := dropIfEmpty.Run(ctx, r.rdb, []string{userSocketsKey(userID), onlineSetKey}, userID).Int64()
	if err != nil {
		return "", false, fmt.Errorf("mark %s offline: %w", userID, err)
	}
	if dropped == 0 {
		// Another device connected between the two round trips.
		return "", false, nil
	}

	if err := r.store.MarkOffline(ctx, userID, now); err != nil {
		logger.Warn("Durable offline write failed", zap.String("user_id", userID), zap.Error(err))
	}
	return userID, true, nil
}

// SetUserOnline marks the user online and tells followers. Broadcast failures
// are logged and never returned. A user hiding behind appear-offline is
// marked but not announced.
func (r *Registry) SetUserOnline(ctx context.Context, userID string) error {
	now := r.opts.Now()
	var hidden *redis.StringCmd
	_, err := r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, onlineSetKey, userID)
		p.HSet(ctx, userKey(userID), fieldLastSeen, now.UnixMilli())
		hidden = p.HGet(ctx, userKey(userID), fieldAppearOffline)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("set %s online: %w", userID, err)
	}
	if parseFlag(hidden.Val()) {
		return nil
	}
	r.broadcast(ctx, userID, EventUserOnline)
	return nil
}

// SetUserOffline marks the user offline in the fast store and tells
// followers. The durable row is written by UnregisterSocket.
func (r *Registry) SetUserOffline(ctx context.Context, userID string) error {
	now := r.opts.Now()
	_, err := r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, onlineSetKey, userID)
		p.HSet(ctx, userKey(userID), fieldLastSeen, now.UnixMilli())
		return nil
	})
	if err != nil {
		return fmt.Errorf("set %s offline: %w", userID, err)
	}
	r.broadcast(ctx, userID, EventUserOffline)
	return nil
}

func (r *Registry) broadcast(ctx context.Context, userID, event string) {
	followers, err := r.followers.FollowersOf(ctx, userID)
	if err != nil {
		if !r.opts.BroadcastFallbackGlobal {
			logger.Warn("Follower lookup failed, presence event dropped",
				zap.String("user_id", userID),
				zap.String("event", event),
				zap.Error(err),
			)
			return
		}
		logger.Warn("Follower lookup failed, broadcasting globally",
			zap.String("user_id", userID),
			zap.String("event", event),
			zap.Error(err),
		)
		if err := r.emitter.Broadcast(ctx, event, userID); err != nil {
			logger.Error("Global presence broadcast failed", zap.String("user_id", userID), zap.Error(err))
		}
		return
	}

	if len(followers) == 0 {
		return
	}
	rooms := make([]string, 0, len(followers))
	for _, f := range followers {
		rooms = append(rooms, realtime.UserRoom(f))
	}
	if err := r.emitter.EmitToRooms(ctx, rooms, event, userID); err != nil {
		logger.Error("Presence broadcast failed",
			zap.String("user_id", userID),
			zap.String("event", event),
			zap.Int("followers", len(followers)),
			zap.Error(err),
		)
	}
}

// IsUserOnline reports whether the user has at least one live socket. A
// fast-store failure falls back to the durable record.
func (r *Registry) IsUserOnline(ctx context.Context, userID string) (bool, error) {
	online, err := r.rdb.SIsMember(ctx, onlineSetKey, userID).Result()
	if err == nil {
		return online, nil
	}
	return r.durableOnline(ctx, userID, false, err)
}

// IsUserVisiblyOnline is IsUserOnline with the appear-offline override applied.
func (r *Registry) IsUserVisiblyOnline(ctx context.Context, userID string) (bool, error) {
	var online *redis.BoolCmd
	var hidden *redis.StringCmd
	_, err := r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		online = p.SIsMember(ctx, onlineSetKey, userID)
		hidden = p.HGet(ctx, userKey(userID), fieldAppearOffline)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return r.durableOnline(ctx, userID, true, err)
	}
	return online.Val() && !parseFlag(hidden.Val()), nil
}

func (r *Registry) durableOnline(ctx context.Context, userID string, visible bool, cause error) (bool, error) {
	logger.Warn("Fast-store online read failed, using durable store",
		zap.String("user_id", userID),
		zap.Error(cause),
	)
	rec, err := r.store.Get(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("durable presence for %s: %w", userID, err)
	}
	if rec == nil {
		return false, nil
	}
	if visible && rec.AppearOffline {
		return false, nil
	}
	return rec.IsOnline, nil
}

// GetOnlineStatus returns the visibility-aware status of one user.
func (r *Registry) GetOnlineStatus(ctx context.Context, userID string) (Status, error) {
	statuses, err := r.GetOnlineStatusBatch(ctx, []string{userID})
	if err != nil {
		return Status{}, err
	}
	return statuses[userID], nil
}

// GetOnlineStatusBatch resolves many users in a single round trip. Empty
// input touches no store.
func (r *Registry) GetOnlineStatusBatch(ctx context.Context, userIDs []string) (map[string]Status, error) {
	out := make(map[string]Status, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	type pending struct {
		online *redis.BoolCmd
		fields *redis.SliceCmd
	}
	cmds := make(map[string]pending, len(userIDs))
	_, err := r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range userIDs {
			cmds[id] = pending{
				online: p.SIsMember(ctx, onlineSetKey, id),
				fields: p.HMGet(ctx, userKey(id), fieldLastSeen, fieldAppearOffline),
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("batch status: %w", err)
	}

	for id, c := range cmds {
		vals := c.fields.Val()
		var st Status
		if len(vals) == 2 {
			if s, ok := vals[0].(string); ok {
				st.LastSeen = parseMillis(s)
			}
			if s, ok := vals[1].(string); ok {
				st.AppearOffline = parseFlag(s)
			}
		}
		st.IsOnline = c.online.Val() && !st.AppearOffline
		out[id] = st
	}
	return out, nil
}

// SetAppearOffline stores the visibility override. If the user is connected
// the matching presence event goes out right away.
func (r *Registry) SetAppearOffline(ctx context.Context, userID string, flag bool) error {
	if err := r.rdb.HSet(ctx, userKey(userID), fieldAppearOffline, formatFlag(flag)).Err(); err != nil {
		return fmt.Errorf("set appear offline for %s: %w", userID, err)
	}
	if err := r.store.SetAppearOffline(ctx, userID, flag); err != nil {
		logger.Warn("Durable appear-offline write failed", zap.String("user_id", userID), zap.Error(err))
	}

	online, err := r.IsUserOnline(ctx, userID)
	if err != nil {
		logger.Warn("Online check failed after visibility change", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	if !online {
		return nil
	}
	if flag {
		r.broadcast(ctx, userID, EventUserOffline)
	} else {
		r.broadcast(ctx, userID, EventUserOnline)
	}
	return nil
}

// EmitToUser sends an event to every device of a user.
func (r *Registry) EmitToUser(ctx context.Context, userID, event string, data any) error {
	return r.emitter.EmitToUser(ctx, userID, event, data)
}

// EmitToRoom sends an event to a room.
func (r *Registry) EmitToRoom(ctx context.Context, room, event string, data any) error {
	return r.emitter.EmitToRoom(ctx, room, event, data)
}

// GetConnectionCount returns the number of live sockets of a user.
func (r *Registry) GetConnectionCount(ctx context.Context, userID string) (int64, error) {
	return r.rdb.SCard(ctx, userSocketsKey(userID)).Result()
}

// GetLastSeen reads Redis first and falls back to Postgres on a miss or a
// Redis error. It returns nil when neither store knows the user.
func (r *Registry) GetLastSeen(ctx context.Context, userID string) (*time.Time, error) {
	raw, err := r.rdb.HGet(ctx, userKey(userID), fieldLastSeen).Result()
	if err == nil {
		if t := parseMillis(raw); t != nil {
			return t, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logger.Warn("Fast-store last-seen read failed, using durable store",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}

	t, ok, err := r.store.LastSeen(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("durable last seen for %s: %w", userID, err)
	}
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// OnlineCount returns the number of users with at least one live socket.
func (r *Registry) OnlineCount(ctx context.Context) (int64, error) {
	return r.rdb.SCard(ctx, onlineSetKey).Result()
}

func parseFlag(s string) bool { return s == "1" }

func formatFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseMillis(s string) *time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
