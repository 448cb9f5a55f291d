package gateway

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	apperrors "bazaar.dev/realtime/internal/pkg/errors"
	"bazaar.dev/realtime/internal/pkg/logger"
	"bazaar.dev/realtime/internal/realtime"
)

type conversationRequest struct {
	ConversationID string `json:"conversationId"`
}

// TypingUpdate is broadcast to a conversation room.
type TypingUpdate struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

func decodeConversation(data json.RawMessage) (string, error) {
	var req conversationRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return "", apperrors.ErrValidationf("data", "malformed payload")
		}
	}
	if req.ConversationID == "" {
		return "", apperrors.ErrValidationf("conversationId", "conversationId is required")
	}
	return req.ConversationID, nil
}

func (g *Gateway) handleAppearOffline(flag bool) handlerFunc {
	return func(ctx context.Context, s *Session, _ json.RawMessage) (any, error) {
		return nil, g.presence.SetAppearOffline(ctx, s.UserID, flag)
	}
}

func (g *Gateway) handleTyping(isTyping bool) handlerFunc {
	return func(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
		conversationID, err := decodeConversation(data)
		if err != nil {
			return nil, err
		}
		if err := g.presence.SetTyping(ctx, conversationID, s.UserID, isTyping); err != nil {
			return nil, err
		}
		update := TypingUpdate{ConversationID: conversationID, UserID: s.UserID, IsTyping: isTyping}
		if err := g.emitter.EmitToRoomExcept(ctx, realtime.ConversationRoom(conversationID), s.Socket.ID(), EventTypingUpdate, update); err != nil {
			logger.Warn("Typing broadcast failed", zap.String("conversation_id", conversationID), zap.Error(err))
		}
		return nil, nil
	}
}

func (g *Gateway) handleJoinConversation(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	conversationID, err := decodeConversation(data)
	if err != nil {
		return nil, err
	}
	ok, err := g.members.IsParticipant(ctx, conversationID, s.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.Forbidden(apperrors.CodeNotParticipant, "not a participant of this conversation")
	}
	return nil, g.rooms.Join(ctx, s.Socket.ID(), realtime.ConversationRoom(conversationID))
}

func (g *Gateway) handleLeaveConversation(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	conversationID, err := decodeConversation(data)
	if err != nil {
		return nil, err
	}
	return nil, g.rooms.Leave(ctx, s.Socket.ID(), realtime.ConversationRoom(conversationID))
}
