package notification

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type memRepo struct {
	mu        sync.Mutex
	rows      map[string]*Notification
	prefs     map[string]*Preferences
	lastList  FindOptions
	inserts   int
	markReads int
	prefReads int
}

func newMemRepo() *memRepo {
	return &memRepo{rows: map[string]*Notification{}, prefs: map[string]*Preferences{}}
}

func clone(n *Notification) *Notification {
	c := *n
	return &c
}

func (r *memRepo) Insert(_ context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserts++
	r.rows[n.ID] = clone(n)
	return nil
}

func (r *memRepo) List(_ context.Context, userID string, q FindOptions) ([]*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastList = q
	var out []*Notification
	for _, n := range r.rows {
		if n.RecipientID != userID || (q.UnreadOnly && n.IsRead) || (q.Type != "" && n.Type != q.Type) {
			continue
		}
		out = append(out, clone(n))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if q.Offset >= len(out) {
		return nil, nil
	}
	out = out[q.Offset:]
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *memRepo) Get(_ context.Context, id string) (*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.rows[id]; ok {
		return clone(n), nil
	}
	return nil, nil
}

func (r *memRepo) MarkRead(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markReads++
	n, ok := r.rows[id]
	if !ok {
		return errors.New("missing")
	}
	n.IsRead, n.ReadAt = true, &at
	return nil
}

func (r *memRepo) MarkAllRead(_ context.Context, userID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, row := range r.rows {
		if row.RecipientID == userID && !row.IsRead {
			row.IsRead, row.ReadAt = true, &at
			n++
		}
	}
	return n, nil
}

func (r *memRepo) CountUnread(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, row := range r.rows {
		if row.RecipientID == userID && !row.IsRead {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

func (r *memRepo) DeleteReadBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, row := range r.rows {
		if row.IsRead && row.CreatedAt.Before(cutoff) {
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}

func (r *memRepo) GetPreferences(_ context.Context, userID string) (*Preferences, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefReads++
	if p, ok := r.prefs[userID]; ok {
		c := *p
		return &c, nil
	}
	return nil, nil
}

func (r *memRepo) CreatePreferences(_ context.Context, p *Preferences) (*Preferences, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.prefs[p.UserID]; !ok {
		c := *p
		r.prefs[p.UserID] = &c
	}
	c := *r.prefs[p.UserID]
	return &c, nil
}

func (r *memRepo) SavePreferences(_ context.Context, p *Preferences) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *p
	r.prefs[p.UserID] = &c
	return nil
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

type fakePresence struct {
	online map[string]bool
	err    error
}

func (p *fakePresence) IsUserVisiblyOnline(_ context.Context, userID string) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	return p.online[userID], nil
}

type liveEvent struct {
	UserID string
	Event  string
	Data   any
}

type recordingLive struct {
	mu     sync.Mutex
	events []liveEvent
}

func (l *recordingLive) EmitToUser(_ context.Context, userID, event string, data any) error {
	l.mu.Lock()
	l.events = append(l.events, liveEvent{UserID: userID, Event: event, Data: data})
	l.mu.Unlock()
	return nil
}

type recordingPush struct {
	mu   sync.Mutex
	jobs []PushPayload
	err  error
}

func (p *recordingPush) AddPushJob(_ context.Context, payload PushPayload) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	p.jobs = append(p.jobs, payload)
	p.mu.Unlock()
	return nil
}
