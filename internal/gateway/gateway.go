// Package gateway is the realtime front door: it authenticates connections,
// ties them to presence and dispatches client events to a fixed table of
// handlers.
//
// The core (Gateway) is transport-agnostic. WSServer adapts it to gorilla
// websockets.
//
// Import Path: bazaar.dev/realtime/internal/gateway
package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"bazaar.dev/realtime/internal/collab"
	apperrors "bazaar.dev/realtime/internal/pkg/errors"
	"bazaar.dev/realtime/internal/pkg/logger"
	"bazaar.dev/realtime/internal/realtime"
)

// Client events.
const (
	EventAuth              = "auth"
	EventPresenceOnline    = "presence:online"
	EventPresenceOffline   = "presence:offline"
	EventTypingStart       = "typing:start"
	EventTypingStop        = "typing:stop"
	EventJoinConversation  = "join:conversation"
	EventLeaveConversation = "leave:conversation"
)

// Server events.
const (
	EventAuthSuccess  = "auth:success"
	EventAuthError    = "auth:error"
	EventTypingUpdate = "typing:update"
	EventAck          = "ack"
)

// Ack error strings for requests that never reach a handler.
const (
	ErrUnauthorized = "unauthorized"
	ErrUnknownEvent = "unknown event"
)

// Presence is the connection registry as seen by the gateway.
type Presence interface {
	IsUserOnline(ctx context.Context, userID string) (bool, error)
	RegisterSocket(ctx context.Context, socketID, userID string) (bool, error)
	UnregisterSocket(ctx context.Context, socketID string) (string, bool, error)
	SetUserOnline(ctx context.Context, userID string) error
	SetUserOffline(ctx context.Context, userID string) error
	SetAppearOffline(ctx context.Context, userID string, flag bool) error
	SetTyping(ctx context.Context, conversationID, userID string, isTyping bool) error
}

// TokenVerifier validates access tokens.
type TokenVerifier interface {
	Verify(token string) (*collab.Claims, error)
}

// Membership answers conversation membership.
type Membership interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// Rooms is the local socket table with shared room membership.
type Rooms interface {
	Add(s realtime.Socket)
	Remove(socketID string)
	Join(ctx context.Context, socketID, room string) error
	Leave(ctx context.Context, socketID, room string) error
	LeaveAll(ctx context.Context, socketID string) error
}

// RoomEmitter sends an event to a room, skipping one socket.
type RoomEmitter interface {
	EmitToRoomExcept(ctx context.Context, room, exceptSocket, event string, data any) error
}

// Inbound is a client frame.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   string          `json:"ack,omitempty"`
}

// Ack answers one inbound frame.
type Ack struct {
	ID    string `json:"id,omitempty"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Session is an authenticated connection.
type Session struct {
	Socket realtime.Socket
	UserID string
}

type handlerFunc func(ctx context.Context, s *Session, data json.RawMessage) (any, error)

// Gateway authenticates sockets and dispatches their events.
type Gateway struct {
	presence Presence
	verifier TokenVerifier
	members  Membership
	rooms    Rooms
	emitter  RoomEmitter
	handlers map[string]handlerFunc
}

// New creates a Gateway.
func New(presence Presence, verifier TokenVerifier, members Membership, rooms Rooms, emitter RoomEmitter) *Gateway {
	g := &Gateway{
		presence: presence,
		verifier: verifier,
		members:  members,
		rooms:    rooms,
		emitter:  emitter,
	}
	g.handlers = map[string]handlerFunc{
		EventPresenceOnline:    g.handleAppearOffline(false),
		EventPresenceOffline:   g.handleAppearOffline(true),
		EventTypingStart:       g.handleTyping(true),
		EventTypingStop:        g.handleTyping(false),
		EventJoinConversation:  g.handleJoinConversation,
		EventLeaveConversation: g.handleLeaveConversation,
	}
	return g
}

func send(s realtime.Socket, event string, data any) {
	frame, err := realtime.EncodeFrame(event, data)
	if err != nil {
		logger.Error("Encode frame failed", zap.String("event", event), zap.Error(err))
		return
	}
	if !s.Send(frame) {
		logger.Debug("Frame dropped", zap.String("socket_id", s.ID()), zap.String("event", event))
	}
}

// Authenticate verifies token and brings the socket online. On error the
// socket has been sent auth:error and the caller must disconnect it.
func (g *Gateway) Authenticate(ctx context.Context, s realtime.Socket, token string) (*Session, error) {
	claims, err := g.verifier.Verify(token)
	if err != nil {
		g.rejectAuth(s, err)
		return nil, err
	}
	userID := claims.UserID()
	socketID := s.ID()

	g.rooms.Add(s)
	if err := g.rooms.Join(ctx, socketID, realtime.UserRoom(userID)); err != nil {
		logger.Warn("User room mirror failed", zap.String("socket_id", socketID), zap.Error(err))
	}

	wasOnline, err := g.presence.IsUserOnline(ctx, userID)
	if err != nil {
		logger.Warn("Online check failed before register", zap.String("user_id", userID), zap.Error(err))
	}
	if _, err := g.presence.RegisterSocket(ctx, socketID, userID); err != nil {
		_ = g.rooms.LeaveAll(ctx, socketID)
		g.rooms.Remove(socketID)
		regErr := apperrors.Wrap(err, apperrors.CodeAuthFailed, "presence unavailable", http.StatusServiceUnavailable)
		g.rejectAuth(s, regErr)
		return nil, regErr
	}
	if !wasOnline {
		if err := g.presence.SetUserOnline(ctx, userID); err != nil {
			logger.Warn("Set user online failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	send(s, EventAuthSuccess, map[string]string{"userId": userID, "socketId": socketID})
	logger.Debug("Socket authenticated", zap.String("socket_id", socketID), zap.String("user_id", userID))
	return &Session{Socket: s, UserID: userID}, nil
}

func (g *Gateway) rejectAuth(s realtime.Socket, err error) {
	msg := "authentication failed"
	if appErr, ok := apperrors.IsAppError(err); ok {
		msg = appErr.Message
	}
	logger.Debug("Socket authentication rejected", zap.String("socket_id", s.ID()), zap.Error(err))
	send(s, EventAuthError, map[string]string{"message": msg})
}

// Dispatch runs one client event. A nil session is unauthenticated.
func (g *Gateway) Dispatch(ctx context.Context, s *Session, in Inbound) Ack {
	ack := Ack{ID: in.Ack}
	if s == nil {
		ack.Error = ErrUnauthorized
		return ack
	}
	h, ok := g.handlers[in.Event]
	if !ok {
		ack.Error = ErrUnknownEvent
		return ack
	}

	data, err := h(ctx, s, in.Data)
	if err != nil {
		ack.Error = errorMessage(err)
		logger.Debug("Event handler failed",
			zap.String("event", in.Event),
			zap.String("socket_id", s.Socket.ID()),
			zap.String("user_id", s.UserID),
			zap.Error(err),
		)
		return ack
	}
	ack.OK, ack.Data = true, data
	return ack
}

func errorMessage(err error) string {
	if appErr, ok := apperrors.IsAppError(err); ok {
		return appErr.Message
	}
	return "internal error"
}

// Disconnect releases a session's rooms and presence. A nil session only
// drops the socket from the local table.
func (g *Gateway) Disconnect(ctx context.Context, s *Session) {
	if s == nil {
		return
	}
	socketID := s.Socket.ID()
	if err := g.rooms.LeaveAll(ctx, socketID); err != nil {
		logger.Warn("Leave rooms on disconnect failed", zap.String("socket_id", socketID), zap.Error(err))
	}
	g.rooms.Remove(socketID)

	userID, wentOffline, err := g.presence.UnregisterSocket(ctx, socketID)
	if err != nil {
		logger.Warn("Unregister socket failed", zap.String("socket_id", socketID), zap.Error(err))
		return
	}
	if !wentOffline {
		return
	}
	if err := g.presence.SetUserOffline(ctx, userID); err != nil {
		logger.Warn("Set user offline failed", zap.String("user_id", userID), zap.Error(err))
	}
}
