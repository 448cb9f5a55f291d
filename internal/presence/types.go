// Package presence tracks which users have live connections.
//
// Redis is the fast store and is authoritative for reads: per-socket hashes,
// per-user socket sets, the global online set, per-user visibility and
// last-seen, and typing state. Postgres keeps the durable PresenceRecord used
// for history and cold reads. Presence transitions are fanned out to the
// followers' private rooms through the realtime emitter.
//
// Import Path: bazaar.dev/realtime/internal/presence
package presence

import (
	"context"
	"time"
)

// Outbound presence events.
const (
	EventUserOnline  = "user:online"
	EventUserOffline = "user:offline"
)

// Status is the visibility-aware view of a user.
type Status struct {
	IsOnline      bool       `json:"isOnline"`
	LastSeen      *time.Time `json:"lastSeen,omitempty"`
	AppearOffline bool       `json:"appearOffline"`
}

// Record is the durable presence row.
type Record struct {
	UserID            string
	IsOnline          bool
	ActiveConnections int
	LastSeenAt        time.Time
	AppearOffline     bool
}

// Store is the durable fallback for presence.
type Store interface {
	UpsertOnline(ctx context.Context, userID string, at time.Time) error
	IncrementConnections(ctx context.Context, userID string, at time.Time) error
	DecrementConnections(ctx context.Context, userID string, at time.Time) error
	MarkOffline(ctx context.Context, userID string, at time.Time) error
	SetAppearOffline(ctx context.Context, userID string, flag bool) error
	// LastSeen returns ok=false when the user has no record.
	LastSeen(ctx context.Context, userID string) (t time.Time, ok bool, err error)
	OnlineUserIDs(ctx context.Context) ([]string, error)
	// Get returns nil when the user has no record.
	Get(ctx context.Context, userID string) (*Record, error)
}

// FollowerLookup resolves who should hear about a user's presence.
type FollowerLookup interface {
	FollowersOf(ctx context.Context, userID string) ([]string, error)
}

// Emitter is the multicast surface of the realtime package.
type Emitter interface {
	EmitToRoom(ctx context.Context, room, event string, data any) error
	EmitToRooms(ctx context.Context, rooms []string, event string, data any) error
	EmitToUser(ctx context.Context, userID, event string, data any) error
	Broadcast(ctx context.Context, event string, data any) error
}
