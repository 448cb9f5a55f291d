package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"bazaar.dev/realtime/internal/collab"
	"bazaar.dev/realtime/internal/realtime"
)

var testKey = []byte("gateway-test-signing-key-0123456789")

func signToken(t *testing.T, sub, typ string) string {
	t.Helper()
	now := time.Now()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, collab.Claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString(testKey)
	require.NoError(t, err)
	return s
}

// fakePresence keeps a socket -> user table in memory.
type fakePresence struct {
	mu          sync.Mutex
	sockets     map[string]string
	registerErr error
	onlineErr   error
	onlineCalls []string
	offline     []string
	appear      map[string]bool
	typing      []typingCall
}

type typingCall struct {
	ConversationID string
	UserID         string
	IsTyping       bool
}

func newFakePresence() *fakePresence {
	return &fakePresence{sockets: map[string]string{}, appear: map[string]bool{}}
}

func (p *fakePresence) IsUserOnline(_ context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.onlineErr != nil {
		return false, p.onlineErr
	}
	for _, u := range p.sockets {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

func (p *fakePresence) RegisterSocket(_ context.Context, socketID, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.registerErr != nil {
		return false, p.registerErr
	}
	first := true
	for _, u := range p.sockets {
		if u == userID {
			first = false
		}
	}
	p.sockets[socketID] = userID
	return first, nil
}

func (p *fakePresence) UnregisterSocket(_ context.Context, socketID string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	userID, ok := p.sockets[socketID]
	if !ok {
		return "", false, nil
	}
	delete(p.sockets, socketID)
	for _, u := range p.sockets {
		if u == userID {
			return userID, false, nil
		}
	}
	return userID, true, nil
}

func (p *fakePresence) SetUserOnline(_ context.Context, userID string) error {
	p.mu.Lock()
	p.onlineCalls = append(p.onlineCalls, userID)
	p.mu.Unlock()
	return nil
}

func (p *fakePresence) SetUserOffline(_ context.Context, userID string) error {
	p.mu.Lock()
	p.offline = append(p.offline, userID)
	p.mu.Unlock()
	return nil
}

func (p *fakePresence) SetAppearOffline(_ context.Context, userID string, flag bool) error {
	p.mu.Lock()
	p.appear[userID] = flag
	p.mu.Unlock()
	return nil
}

func (p *fakePresence) SetTyping(_ context.Context, conversationID, userID string, isTyping bool) error {
	p.mu.Lock()
	p.typing = append(p.typing, typingCall{conversationID, userID, isTyping})
	p.mu.Unlock()
	return nil
}

func (p *fakePresence) snapshot() (online, offline []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.onlineCalls...), append([]string(nil), p.offline...)
}

type fakeMembership struct {
	members map[string][]string // conversation -> users
	err     error
}

func (m *fakeMembership) IsParticipant(_ context.Context, conversationID, userID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	for _, u := range m.members[conversationID] {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

type emitCall struct {
	Room, Except, Event string
	Data                any
}

type recordingEmitter struct {
	mu    sync.Mutex
	calls []emitCall
	err   error
}

func (e *recordingEmitter) EmitToRoomExcept(_ context.Context, room, except, event string, data any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, emitCall{room, except, event, data})
	return e.err
}

// fakeSocket decodes every frame it is sent.
type fakeSocket struct {
	id     string
	mu     sync.Mutex
	frames []realtime.Frame
}

func (s *fakeSocket) ID() string { return s.id }

func (s *fakeSocket) Send(frame []byte) bool {
	var f realtime.Frame
	if err := json.Unmarshal(frame, &f); err != nil {
		return false
	}
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	return true
}

func (s *fakeSocket) last(t *testing.T) (string, map[string]any) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.frames)
	f := s.frames[len(s.frames)-1]
	var data map[string]any
	if len(f.Data) > 0 {
		require.NoError(t, json.Unmarshal(f.Data, &data))
	}
	return f.Event, data
}

var errBoom = errors.New("boom")
