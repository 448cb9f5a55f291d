package realtime

import (
	"context"
	"encoding/json"
	"fmt"
)

// Emitter is the multicast API used by presence, notifications and the
// gateway.
type Emitter struct {
	pub Publisher
}

// NewEmitter creates an Emitter on top of pub.
func NewEmitter(pub Publisher) *Emitter {
	return &Emitter{pub: pub}
}

func (e *Emitter) publish(ctx context.Context, env Envelope, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", env.Event, err)
	}
	env.Data = raw
	return e.pub.Publish(ctx, env)
}

// EmitToRoom sends event to every socket in room.
func (e *Emitter) EmitToRoom(ctx context.Context, room, event string, data any) error {
	return e.publish(ctx, Envelope{Rooms: []string{room}, Event: event}, data)
}

// EmitToRoomExcept sends event to room, skipping one socket (usually the sender).
func (e *Emitter) EmitToRoomExcept(ctx context.Context, room, exceptSocket, event string, data any) error {
	return e.publish(ctx, Envelope{Rooms: []string{room}, ExceptSocket: exceptSocket, Event: event}, data)
}

// EmitToRooms sends one event to several rooms; a socket in more than one of
// them receives it once.
func (e *Emitter) EmitToRooms(ctx context.Context, rooms []string, event string, data any) error {
	if len(rooms) == 0 {
		return nil
	}
	return e.publish(ctx, Envelope{Rooms: rooms, Event: event}, data)
}

// EmitToUser sends event to every device of a user.
func (e *Emitter) EmitToUser(ctx context.Context, userID, event string, data any) error {
	return e.EmitToRoom(ctx, UserRoom(userID), event, data)
}

// Broadcast sends event to every connected socket in the cluster.
func (e *Emitter) Broadcast(ctx context.Context, event string, data any) error {
	return e.publish(ctx, Envelope{All: true, Event: event}, data)
}
