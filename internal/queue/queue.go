// Package queue is the durable delivery queue: notification creation, push
// delivery and cleanup jobs on River, backed by the service's Postgres pool.
//
// Jobs are at-least-once. Failed jobs are retried with exponential backoff
// until their attempt limit, then parked in River's discarded state, which
// this package reports as "failed".
//
// Import Path: bazaar.dev/realtime/internal/queue
package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"

	"bazaar.dev/realtime/internal/notification"
	apperrors "bazaar.dev/realtime/internal/pkg/errors"
	"bazaar.dev/realtime/internal/pkg/logger"
)

// ErrNotAttached is returned by enqueue operations before Attach.
var ErrNotAttached = errors.New("delivery queue is not attached to a river client")

// Reported job states.
const (
	StateWaiting   = "waiting"
	StateActive    = "active"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateDelayed   = "delayed"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// jobClient is the slice of the River client the queue uses.
type jobClient interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
	InsertMany(ctx context.Context, params []river.InsertManyParams) ([]*rivertype.JobInsertResult, error)
	JobGet(ctx context.Context, id int64) (*rivertype.JobRow, error)
	JobRetry(ctx context.Context, id int64) (*rivertype.JobRow, error)
	JobDelete(ctx context.Context, id int64) (*rivertype.JobRow, error)
	ListJobs(ctx context.Context, queue string, state rivertype.JobState) ([]*rivertype.JobRow, error)
}

const listPageSize = 500

type riverJobs struct {
	*river.Client[pgx.Tx]
}

// ListJobs pages through every job of queue in state.
func (c riverJobs) ListJobs(ctx context.Context, queue string, state rivertype.JobState) ([]*rivertype.JobRow, error) {
	params := river.NewJobListParams().Queues(queue).States(state).First(listPageSize)
	var out []*rivertype.JobRow
	for {
		res, err := c.JobList(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("list %s jobs in %s: %w", state, queue, err)
		}
		out = append(out, res.Jobs...)
		if len(res.Jobs) < listPageSize || res.LastCursor == nil {
			return out, nil
		}
		params = params.After(res.LastCursor)
	}
}

// Options tunes a DeliveryQueue.
type Options struct {
	// RetentionInterval is how often old_notifications runs. Default 24h.
	RetentionInterval time.Duration
	// ReconcileInterval is how often stale_presence runs. Default 10m.
	ReconcileInterval time.Duration
	Now               func() time.Time
}

// DeliveryQueue enqueues and inspects jobs. It is created before the River
// client because the workers need it; Attach binds the client afterwards.
type DeliveryQueue struct {
	db      DBTX
	client  jobClient
	install func([]*river.PeriodicJob)
	opts    Options
}

// New creates a DeliveryQueue reading stats through db.
func New(db DBTX, opts Options) *DeliveryQueue {
	if opts.RetentionInterval <= 0 {
		opts.RetentionInterval = 24 * time.Hour
	}
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &DeliveryQueue{db: db, opts: opts}
}

// Attach binds the River client.
func (q *DeliveryQueue) Attach(c *river.Client[pgx.Tx]) {
	q.client = riverJobs{Client: c}
	q.install = func(jobs []*river.PeriodicJob) {
		bundle := c.PeriodicJobs()
		bundle.Clear()
		bundle.AddMany(jobs)
	}
}

// InstallSchedules replaces every registered recurring job with the fixed
// cleanup set, so restarts never stack duplicate schedules.
func (q *DeliveryQueue) InstallSchedules() error {
	if q.install == nil {
		return ErrNotAttached
	}
	q.install(q.schedules())
	logger.Info("Recurring cleanup schedules installed",
		zap.Duration("old_notifications_every", q.opts.RetentionInterval),
		zap.Duration("stale_presence_every", q.opts.ReconcileInterval),
	)
	return nil
}

func (q *DeliveryQueue) schedules() []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(q.opts.RetentionInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return CleanupArgs{Type: CleanupOldNotifications}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(q.opts.ReconcileInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return CleanupArgs{Type: CleanupStalePresence}, nil
			},
			nil,
		),
	}
}

// JobOptions override the per-kind insert defaults. Zero fields keep the
// default.
type JobOptions struct {
	Delay       time.Duration
	MaxAttempts int
	Priority    int
}

func (q *DeliveryQueue) insertOpts(defaults river.InsertOpts, o *JobOptions) *river.InsertOpts {
	opts := defaults
	if o == nil {
		return &opts
	}
	if o.Delay > 0 {
		opts.ScheduledAt = q.opts.Now().Add(o.Delay)
	}
	if o.MaxAttempts > 0 {
		opts.MaxAttempts = o.MaxAttempts
	}
	if o.Priority > 0 {
		opts.Priority = o.Priority
	}
	return &opts
}

type insertable interface {
	river.JobArgs
	InsertOpts() river.InsertOpts
}

func (q *DeliveryQueue) insert(ctx context.Context, args insertable, o *JobOptions) (int64, error) {
	if q.client == nil {
		return 0, ErrNotAttached
	}
	res, err := q.client.Insert(ctx, args, q.insertOpts(args.InsertOpts(), o))
	if err != nil {
		return 0, fmt.Errorf("insert %s job: %w", args.Kind(), err)
	}
	return res.Job.ID, nil
}

// AddNotificationJob enqueues one notification for asynchronous creation.
func (q *DeliveryQueue) AddNotificationJob(ctx context.Context, p notification.Payload, o *JobOptions) (int64, error) {
	return q.insert(ctx, NotificationArgs{Payload: p}, o)
}

// AddNotificationJobBatch enqueues many notifications in one round trip.
func (q *DeliveryQueue) AddNotificationJobBatch(ctx context.Context, payloads []notification.Payload, o *JobOptions) ([]int64, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	if q.client == nil {
		return nil, ErrNotAttached
	}

	params := make([]river.InsertManyParams, 0, len(payloads))
	for _, p := range payloads {
		args := NotificationArgs{Payload: p}
		params = append(params, river.InsertManyParams{Args: args, InsertOpts: q.insertOpts(args.InsertOpts(), o)})
	}
	res, err := q.client.InsertMany(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("insert %d notification jobs: %w", len(payloads), err)
	}

	ids := make([]int64, 0, len(res))
	for _, r := range res {
		ids = append(ids, r.Job.ID)
	}
	return ids, nil
}

// AddPushJob enqueues a push delivery. It satisfies notification.PushEnqueuer.
func (q *DeliveryQueue) AddPushJob(ctx context.Context, p notification.PushPayload) error {
	id, err := q.insert(ctx, PushArgs{Push: p}, nil)
	if err != nil {
		return err
	}
	logger.Debug("Push job queued", zap.Int64("job_id", id), zap.String("user_id", p.UserID))
	return nil
}

// AddCleanupJob enqueues an ad-hoc cleanup of the given type.
func (q *DeliveryQueue) AddCleanupJob(ctx context.Context, cleanupType string, data map[string]any) (int64, error) {
	if !validCleanupType(cleanupType) {
		return 0, apperrors.ErrValidationf("type", fmt.Sprintf("unknown cleanup type %q", cleanupType))
	}
	return q.insert(ctx, CleanupArgs{Type: cleanupType, Data: data}, nil)
}

// JobStatus is a point-in-time view of one job.
type JobStatus struct {
	ID           int64  `json:"id"`
	State        string `json:"state"`
	Progress     int    `json:"progress"`
	AttemptsMade int    `json:"attemptsMade"`
	FailedReason string `json:"failedReason,omitempty"`
}

func reportedState(s rivertype.JobState) string {
	switch s {
	case rivertype.JobStateAvailable, rivertype.JobStatePending:
		return StateWaiting
	case rivertype.JobStateRunning:
		return StateActive
	case rivertype.JobStateCompleted:
		return StateCompleted
	case rivertype.JobStateRetryable, rivertype.JobStateScheduled:
		return StateDelayed
	default:
		// discarded and cancelled
		return StateFailed
	}
}

func knownQueue(name string) bool { return slices.Contains(Queues, name) }

// GetJobStatus returns nil, nil for an unknown queue, an unknown job or a job
// that lives in a different queue.
func (q *DeliveryQueue) GetJobStatus(ctx context.Context, queueName string, id int64) (*JobStatus, error) {
	if !knownQueue(queueName) || q.client == nil {
		return nil, nil
	}
	job, err := q.client.JobGet(ctx, id)
	if errors.Is(err, rivertype.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	if job.Queue != queueName {
		return nil, nil
	}

	st := &JobStatus{
		ID:           job.ID,
		State:        reportedState(job.State),
		AttemptsMade: job.Attempt,
	}
	if job.State == rivertype.JobStateCompleted {
		st.Progress = 100
	}
	if n := len(job.Errors); n > 0 && st.State != StateCompleted {
		st.FailedReason = job.Errors[n-1].Error
	}
	return st, nil
}

// QueueStats counts jobs per reported state.
type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

func (s *QueueStats) add(state string, n int64) {
	switch state {
	case StateWaiting:
		s.Waiting += n
	case StateActive:
		s.Active += n
	case StateCompleted:
		s.Completed += n
	case StateDelayed:
		s.Delayed += n
	default:
		s.Failed += n
	}
}

// GetQueueStats returns nil, nil for an unknown queue.
func (q *DeliveryQueue) GetQueueStats(ctx context.Context, queueName string) (*QueueStats, error) {
	if !knownQueue(queueName) {
		return nil, nil
	}
	rows, err := q.db.Query(ctx,
		`SELECT state::text, count(*) FROM river_job WHERE queue = $1 GROUP BY state`, queueName)
	if err != nil {
		return nil, fmt.Errorf("count jobs in %s: %w", queueName, err)
	}

	var (
		stats QueueStats
		state string
		n     int64
	)
	if _, err := pgx.ForEachRow(rows, []any{&state, &n}, func() error {
		stats.add(reportedState(rivertype.JobState(state)), n)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("scan job counts in %s: %w", queueName, err)
	}
	return &stats, nil
}

// GetAllQueuesStats returns stats keyed by queue name.
func (q *DeliveryQueue) GetAllQueuesStats(ctx context.Context) (map[string]*QueueStats, error) {
	out := make(map[string]*QueueStats, len(Queues))
	for _, name := range Queues {
		s, err := q.GetQueueStats(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = s
	}
	return out, nil
}

// RetryFailedJobs re-enqueues every discarded job of a queue and returns how
// many were retried. Unknown queues retry nothing.
func (q *DeliveryQueue) RetryFailedJobs(ctx context.Context, queueName string) (int, error) {
	if !knownQueue(queueName) || q.client == nil {
		return 0, nil
	}
	jobs, err := q.client.ListJobs(ctx, queueName, rivertype.JobStateDiscarded)
	if err != nil {
		return 0, err
	}

	retried := 0
	for _, job := range jobs {
		if _, err := q.client.JobRetry(ctx, job.ID); err != nil {
			return retried, fmt.Errorf("retry job %d: %w", job.ID, err)
		}
		retried++
	}
	if retried > 0 {
		logger.Info("Failed jobs retried", zap.String("queue", queueName), zap.Int("count", retried))
	}
	return retried, nil
}

// clearable maps the accepted ClearQueue states onto River's terminal states.
var clearable = map[string]rivertype.JobState{
	StateCompleted:                      rivertype.JobStateCompleted,
	StateFailed:                         rivertype.JobStateDiscarded,
	string(rivertype.JobStateDiscarded): rivertype.JobStateDiscarded,
	string(rivertype.JobStateCancelled): rivertype.JobStateCancelled,
}

// ClearQueue deletes every job of a queue in a terminal state and returns how
// many were deleted. Unknown queues and non-terminal states are a no-op.
func (q *DeliveryQueue) ClearQueue(ctx context.Context, queueName, state string) (int, error) {
	target, ok := clearable[state]
	if !ok || !knownQueue(queueName) || q.client == nil {
		return 0, nil
	}
	jobs, err := q.client.ListJobs(ctx, queueName, target)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, job := range jobs {
		if _, err := q.client.JobDelete(ctx, job.ID); err != nil {
			if errors.Is(err, rivertype.ErrNotFound) {
				continue
			}
			return deleted, fmt.Errorf("delete job %d: %w", job.ID, err)
		}
		deleted++
	}
	logger.Info("Queue cleared",
		zap.String("queue", queueName),
		zap.String("state", state),
		zap.Int("count", deleted),
	)
	return deleted, nil
}
