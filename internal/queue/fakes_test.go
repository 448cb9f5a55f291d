package queue

import (
	"context"
	"sync"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"bazaar.dev/realtime/internal/notification"
)

type insertCall struct {
	Args river.JobArgs
	Opts *river.InsertOpts
}

type fakeJobClient struct {
	mu      sync.Mutex
	nextID  int64
	inserts []insertCall
	jobs    map[int64]*rivertype.JobRow
	retried []int64
	deleted []int64
	err     error
}

func newFakeJobClient() *fakeJobClient {
	return &fakeJobClient{jobs: map[int64]*rivertype.JobRow{}}
}

func (c *fakeJobClient) Insert(_ context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.nextID++
	c.inserts = append(c.inserts, insertCall{Args: args, Opts: opts})
	row := &rivertype.JobRow{ID: c.nextID, Kind: args.Kind(), Queue: opts.Queue, State: rivertype.JobStateAvailable}
	c.jobs[row.ID] = row
	return &rivertype.JobInsertResult{Job: row}, nil
}

func (c *fakeJobClient) InsertMany(ctx context.Context, params []river.InsertManyParams) ([]*rivertype.JobInsertResult, error) {
	out := make([]*rivertype.JobInsertResult, 0, len(params))
	for _, p := range params {
		res, err := c.Insert(ctx, p.Args, p.InsertOpts)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (c *fakeJobClient) JobGet(_ context.Context, id int64) (*rivertype.JobRow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.jobs[id]
	if !ok {
		return nil, rivertype.ErrNotFound
	}
	return row, nil
}

func (c *fakeJobClient) JobRetry(_ context.Context, id int64) (*rivertype.JobRow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row := c.jobs[id]
	row.State = rivertype.JobStateAvailable
	c.retried = append(c.retried, id)
	return row, nil
}

func (c *fakeJobClient) JobDelete(_ context.Context, id int64) (*rivertype.JobRow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row := c.jobs[id]
	delete(c.jobs, id)
	c.deleted = append(c.deleted, id)
	return row, nil
}

func (c *fakeJobClient) ListJobs(_ context.Context, queue string, state rivertype.JobState) ([]*rivertype.JobRow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*rivertype.JobRow
	for id := int64(1); id <= c.nextID; id++ {
		if row, ok := c.jobs[id]; ok && row.Queue == queue && row.State == state {
			out = append(out, row)
		}
	}
	return out, nil
}

// put stores a job row directly, bypassing Insert.
func (c *fakeJobClient) put(queue string, state rivertype.JobState) *rivertype.JobRow {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	row := &rivertype.JobRow{ID: c.nextID, Queue: queue, State: state}
	c.jobs[row.ID] = row
	return row
}

type fakeCreator struct {
	created  []notification.Payload
	opts     []notification.CreateOptions
	online   bool
	skip     bool
	err      error
	nextID   string
}

func (c *fakeCreator) Create(_ context.Context, p notification.Payload, opts notification.CreateOptions) (*notification.Notification, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.created = append(c.created, p)
	c.opts = append(c.opts, opts)
	if c.skip {
		return nil, nil
	}
	return &notification.Notification{
		ID:          c.nextID,
		RecipientID: p.RecipientID,
		Type:        p.Type,
		Title:       "title",
		Data:        map[string]any{},
	}, nil
}

func (c *fakeCreator) IsRecipientOnline(context.Context, string) bool { return c.online }

type recordingPush struct {
	jobs []notification.PushPayload
	err  error
}

func (p *recordingPush) AddPushJob(_ context.Context, payload notification.PushPayload) error {
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, payload)
	return nil
}

type recordingSink struct {
	delivered []notification.PushPayload
	err       error
}

func (s *recordingSink) Deliver(_ context.Context, p notification.PushPayload) error {
	if s.err != nil {
		return s.err
	}
	s.delivered = append(s.delivered, p)
	return nil
}

type fakePurger struct {
	days []int
	err  error
}

func (p *fakePurger) DeleteOld(_ context.Context, days int) (int64, error) {
	p.days = append(p.days, days)
	return 3, p.err
}

type fakeReconciler struct {
	calls int
	err   error
}

func (r *fakeReconciler) ReconcileStalePresence(context.Context) (int, error) {
	r.calls++
	return 2, r.err
}
