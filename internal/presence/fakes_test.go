package presence

import (
	"context"
	"sync"
	"time"
)

type fakeStore struct {
	mu      sync.Mutex
	records map[string]*Record
	writes  int
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*Record)}
}

func (s *fakeStore) rec(userID string) *Record {
	r := s.records[userID]
	if r == nil {
		r = &Record{UserID: userID}
		s.records[userID] = r
	}
	return r
}

func (s *fakeStore) UpsertOnline(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.err != nil {
		return s.err
	}
	r := s.rec(userID)
	r.IsOnline, r.ActiveConnections, r.LastSeenAt = true, 1, at
	return nil
}

func (s *fakeStore) IncrementConnections(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.err != nil {
		return s.err
	}
	r := s.rec(userID)
	r.IsOnline = true
	r.ActiveConnections++
	r.LastSeenAt = at
	return nil
}

func (s *fakeStore) DecrementConnections(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.err != nil {
		return s.err
	}
	r := s.rec(userID)
	if r.ActiveConnections > 0 {
		r.ActiveConnections--
	}
	r.LastSeenAt = at
	return nil
}

func (s *fakeStore) MarkOffline(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.err != nil {
		return s.err
	}
	r := s.rec(userID)
	r.IsOnline, r.ActiveConnections, r.LastSeenAt = false, 0, at
	return nil
}

func (s *fakeStore) SetAppearOffline(_ context.Context, userID string, flag bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.err != nil {
		return s.err
	}
	s.rec(userID).AppearOffline = flag
	return nil
}

func (s *fakeStore) LastSeen(_ context.Context, userID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return time.Time{}, false, s.err
	}
	r, ok := s.records[userID]
	if !ok {
		return time.Time{}, false, nil
	}
	return r.LastSeenAt, true, nil
}

func (s *fakeStore) Get(_ context.Context, userID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	r, ok := s.records[userID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) OnlineUserIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, r := range s.records {
		if r.IsOnline {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *fakeStore) get(userID string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[userID]; ok {
		return *r
	}
	return Record{}
}

type fakeFollowers struct {
	graph map[string][]string
	err   error
}

func (f *fakeFollowers) FollowersOf(_ context.Context, userID string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.graph[userID], nil
}

type emitted struct {
	Rooms []string
	All   bool
	Event string
	Data  any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (e *recordingEmitter) add(ev emitted) error {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
	return nil
}

func (e *recordingEmitter) EmitToRoom(_ context.Context, room, event string, data any) error {
	return e.add(emitted{Rooms: []string{room}, Event: event, Data: data})
}

func (e *recordingEmitter) EmitToRooms(_ context.Context, rooms []string, event string, data any) error {
	return e.add(emitted{Rooms: rooms, Event: event, Data: data})
}

func (e *recordingEmitter) EmitToUser(_ context.Context, userID, event string, data any) error {
	return e.add(emitted{Rooms: []string{"user:" + userID}, Event: event, Data: data})
}

func (e *recordingEmitter) Broadcast(_ context.Context, event string, data any) error {
	return e.add(emitted{All: true, Event: event, Data: data})
}

func (e *recordingEmitter) all() []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]emitted(nil), e.events...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
