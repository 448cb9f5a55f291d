package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"bazaar.dev/realtime/internal/pkg/logger"
)

// Socket is a live client connection owned by this instance.
type Socket interface {
	ID() string
	// Send queues an encoded frame. It returns false when the frame was
	// dropped because the socket is closed or its buffer is full.
	Send(frame []byte) bool
}

func roomKey(room string) string       { return "rooms:" + room }
func socketRoomsKey(id string) string { return "socket:" + id + ":rooms" }

// Hub indexes the sockets of this instance by room.
type Hub struct {
	rdb redis.Cmdable

	mu      sync.RWMutex
	sockets map[string]Socket
	rooms   map[string]map[string]struct{} // room -> socket ids
	joined  map[string]map[string]struct{} // socket id -> rooms
}

// NewHub creates a Hub mirroring membership into rdb.
func NewHub(rdb redis.Cmdable) *Hub {
	return &Hub{
		rdb:     rdb,
		sockets: make(map[string]Socket),
		rooms:   make(map[string]map[string]struct{}),
		joined:  make(map[string]map[string]struct{}),
	}
}

// Add registers a socket for delivery. It is not in any room yet.
func (h *Hub) Add(s Socket) {
	h.mu.Lock()
	h.sockets[s.ID()] = s
	h.mu.Unlock()
}

// Remove drops a socket from the local table and every local room index.
// Shared membership is cleared by LeaveAll.
func (h *Hub) Remove(socketID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sockets, socketID)
	for room := range h.joined[socketID] {
		h.dropLocked(room, socketID)
	}
	delete(h.joined, socketID)
}

// Join puts a socket in a room.
func (h *Hub) Join(ctx context.Context, socketID, room string) error {
	h.mu.Lock()
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[socketID] = struct{}{}
	rooms := h.joined[socketID]
	if rooms == nil {
		rooms = make(map[string]struct{})
		h.joined[socketID] = rooms
	}
	rooms[room] = struct{}{}
	h.mu.Unlock()

	_, err := h.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, roomKey(room), socketID)
		p.SAdd(ctx, socketRoomsKey(socketID), room)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror join %s: %w", room, err)
	}
	return nil
}

// Leave takes a socket out of a room.
func (h *Hub) Leave(ctx context.Context, socketID, room string) error {
	h.mu.Lock()
	h.dropLocked(room, socketID)
	if rooms := h.joined[socketID]; rooms != nil {
		delete(rooms, room)
	}
	h.mu.Unlock()

	_, err := h.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, roomKey(room), socketID)
		p.SRem(ctx, socketRoomsKey(socketID), room)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror leave %s: %w", room, err)
	}
	return nil
}

// LeaveAll removes a socket from every room it joined, locally and in the
// shared store. The shared set is authoritative so rooms joined through
// another code path are cleared too.
func (h *Hub) LeaveAll(ctx context.Context, socketID string) error {
	h.mu.Lock()
	for room := range h.joined[socketID] {
		h.dropLocked(room, socketID)
	}
	delete(h.joined, socketID)
	h.mu.Unlock()

	rooms, err := h.rdb.SMembers(ctx, socketRoomsKey(socketID)).Result()
	if err != nil {
		return fmt.Errorf("load rooms of %s: %w", socketID, err)
	}
	_, err = h.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, room := range rooms {
			p.SRem(ctx, roomKey(room), socketID)
		}
		p.Del(ctx, socketRoomsKey(socketID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear rooms of %s: %w", socketID, err)
	}
	return nil
}

func (h *Hub) dropLocked(room, socketID string) {
	members := h.rooms[room]
	if members == nil {
		return
	}
	delete(members, socketID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// RoomMembers returns the cluster-wide socket ids in a room.
func (h *Hub) RoomMembers(ctx context.Context, room string) ([]string, error) {
	return h.rdb.SMembers(ctx, roomKey(room)).Result()
}

// Rooms returns the rooms a local socket has joined.
func (h *Hub) Rooms(socketID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.joined[socketID]))
	for room := range h.joined[socketID] {
		out = append(out, room)
	}
	return out
}

// Count returns the number of local sockets.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sockets)
}

// Deliver writes an envelope to the matching local sockets and returns how
// many accepted it.
func (h *Hub) Deliver(env Envelope) int {
	frame, err := json.Marshal(Frame{Event: env.Event, Data: env.Data})
	if err != nil {
		logger.Error("Encode frame failed", zap.String("event", env.Event), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	targets := make([]Socket, 0, 8)
	if env.All {
		for id, s := range h.sockets {
			if id != env.ExceptSocket {
				targets = append(targets, s)
			}
		}
	} else {
		seen := make(map[string]struct{})
		for _, room := range env.Rooms {
			for id := range h.rooms[room] {
				if id == env.ExceptSocket {
					continue
				}
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				if s, ok := h.sockets[id]; ok {
					targets = append(targets, s)
				}
			}
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.Send(frame) {
			delivered++
			continue
		}
		logger.Debug("Frame dropped",
			zap.String("socket_id", s.ID()),
			zap.String("event", env.Event),
		)
	}
	return delivered
}
