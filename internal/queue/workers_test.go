package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bazaar.dev/realtime/internal/notification"
	apperrors "bazaar.dev/realtime/internal/pkg/errors"
)

func TestProcess_SkippedByPreferences(t *testing.T) {
	engine := &fakeCreator{skip: true}
	push := &recordingPush{}
	p := NewNotificationProcessor(engine, push)

	res, err := p.Process(context.Background(), notification.Payload{Type: notification.TypePostLike, RecipientID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, &ProcessResult{Skipped: true, Reason: ReasonPreferencesDisabled}, res)
	assert.Empty(t, push.jobs)
}

func TestProcess_CreatesWithEnginePushOff(t *testing.T) {
	engine := &fakeCreator{nextID: "n1"}
	p := NewNotificationProcessor(engine, &recordingPush{})

	_, err := p.Process(context.Background(), notification.Payload{RecipientID: "bob"})
	require.NoError(t, err)
	require.Len(t, engine.opts, 1)
	assert.Equal(t, notification.CreateOptions{SkipPushNotification: true}, engine.opts[0])
}

func TestProcess_PushQueuedOnlyWhenOffline(t *testing.T) {
	tests := []struct {
		name       string
		online     bool
		pushErr    error
		wantQueued bool
		wantJobs   int
	}{
		{"offline recipient", false, nil, true, 1},
		{"online recipient", true, nil, false, 0},
		{"enqueue failure is reported not retried", false, errors.New("queue down"), false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeCreator{nextID: "n1", online: tt.online}
			push := &recordingPush{err: tt.pushErr}
			p := NewNotificationProcessor(engine, push)

			res, err := p.Process(context.Background(), notification.Payload{Type: notification.TypeNewMessage, RecipientID: "bob"})
			require.NoError(t, err)
			assert.Equal(t, "n1", res.NotificationID)
			assert.False(t, res.Skipped)
			assert.Equal(t, tt.wantQueued, res.PushQueued)
			require.Len(t, push.jobs, tt.wantJobs)
			if tt.wantJobs > 0 {
				assert.Equal(t, "n1", push.jobs[0].Data["notificationId"])
				assert.Equal(t, "new_message", push.jobs[0].Data["type"])
			}
		})
	}
}

func TestProcess_CreateErrorPropagates(t *testing.T) {
	p := NewNotificationProcessor(&fakeCreator{err: errors.New("db down")}, &recordingPush{})

	res, err := p.Process(context.Background(), notification.Payload{RecipientID: "bob"})
	assert.Nil(t, res)
	assert.ErrorContains(t, err, "db down")
}

func TestProcessorHooks_NeverPanic(t *testing.T) {
	p := NewNotificationProcessor(&fakeCreator{}, nil)

	assert.NotPanics(t, func() {
		p.OnCompleted(nil, nil)
		p.OnCompleted(&rivertype.JobRow{ID: 1}, nil)
		p.OnCompleted(&rivertype.JobRow{ID: 1}, &ProcessResult{Skipped: true})
		p.OnFailed(nil, errors.New("x"))
		p.OnFailed(&rivertype.JobRow{ID: 1}, nil)
	})
}

func notificationJob(p notification.Payload, attempt int) *river.Job[NotificationArgs] {
	return &river.Job[NotificationArgs]{
		JobRow: &rivertype.JobRow{ID: 7, Attempt: attempt, MaxAttempts: 3},
		Args:   NotificationArgs{Payload: p},
	}
}

func TestNotificationWorker_Work(t *testing.T) {
	engine := &fakeCreator{nextID: "n1"}
	w := NewNotificationWorker(NewNotificationProcessor(engine, &recordingPush{}))

	require.NoError(t, w.Work(context.Background(), notificationJob(notification.Payload{RecipientID: "bob"}, 1)))
	assert.Len(t, engine.created, 1)

	engine.err = errors.New("db down")
	assert.ErrorContains(t, w.Work(context.Background(), notificationJob(notification.Payload{RecipientID: "bob"}, 1)), "db down")
}

func TestNotificationWorker_InvalidPayloadCancelled(t *testing.T) {
	engine := &fakeCreator{err: apperrors.ErrValidationf("recipientId", "recipient is required")}
	w := NewNotificationWorker(NewNotificationProcessor(engine, nil))

	err := w.Work(context.Background(), notificationJob(notification.Payload{}, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), apperrors.CodeValidationFailed)
}

func TestNotificationWorker_NextRetry(t *testing.T) {
	w := NewNotificationWorker(nil)
	w.now = func() time.Time { return testNow }

	assert.Equal(t, testNow.Add(2*time.Second), w.NextRetry(notificationJob(notification.Payload{}, 1)))
	assert.Equal(t, testNow.Add(8*time.Second), w.NextRetry(notificationJob(notification.Payload{}, 3)))
}

func TestPushWorker(t *testing.T) {
	sink := &recordingSink{}
	w := NewPushWorker(sink)
	w.now = func() time.Time { return testNow }
	job := &river.Job[PushArgs]{
		JobRow: &rivertype.JobRow{ID: 3, Attempt: 2},
		Args:   PushArgs{Push: notification.PushPayload{UserID: "bob", Title: "hi"}},
	}

	require.NoError(t, w.Work(context.Background(), job))
	require.Len(t, sink.delivered, 1)
	assert.Equal(t, "bob", sink.delivered[0].UserID)

	sink.err = errors.New("nats down")
	assert.Error(t, w.Work(context.Background(), job))
	assert.Equal(t, testNow.Add(4*time.Second), w.NextRetry(job))
}

func cleanupJob(typ string, data map[string]any) *river.Job[CleanupArgs] {
	return &river.Job[CleanupArgs]{
		JobRow: &rivertype.JobRow{ID: 9, Attempt: 1},
		Args:   CleanupArgs{Type: typ, Data: data},
	}
}

func TestCleanupWorker(t *testing.T) {
	ctx := context.Background()

	t.Run("old notifications use configured retention", func(t *testing.T) {
		purger := &fakePurger{}
		w := NewCleanupWorker(purger, &fakeReconciler{}, 45)
		require.NoError(t, w.Work(ctx, cleanupJob(CleanupOldNotifications, nil)))
		assert.Equal(t, []int{45}, purger.days)
	})

	t.Run("job data overrides retention", func(t *testing.T) {
		purger := &fakePurger{}
		w := NewCleanupWorker(purger, &fakeReconciler{}, 45)
		// JSON numbers arrive as float64.
		require.NoError(t, w.Work(ctx, cleanupJob(CleanupOldNotifications, map[string]any{"olderThanDays": float64(7)})))
		assert.Equal(t, []int{7}, purger.days)
	})

	t.Run("non-positive retention defaults to thirty days", func(t *testing.T) {
		purger := &fakePurger{}
		w := NewCleanupWorker(purger, &fakeReconciler{}, 0)
		require.NoError(t, w.Work(ctx, cleanupJob(CleanupOldNotifications, nil)))
		assert.Equal(t, []int{30}, purger.days)
	})

	t.Run("purge error is retried", func(t *testing.T) {
		w := NewCleanupWorker(&fakePurger{err: errors.New("db down")}, &fakeReconciler{}, 30)
		assert.ErrorContains(t, w.Work(ctx, cleanupJob(CleanupOldNotifications, nil)), "db down")
	})

	t.Run("stale presence", func(t *testing.T) {
		rec := &fakeReconciler{}
		w := NewCleanupWorker(&fakePurger{}, rec, 30)
		require.NoError(t, w.Work(ctx, cleanupJob(CleanupStalePresence, nil)))
		assert.Equal(t, 1, rec.calls)
	})

	t.Run("unknown type is cancelled", func(t *testing.T) {
		w := NewCleanupWorker(&fakePurger{}, &fakeReconciler{}, 30)
		err := w.Work(ctx, cleanupJob("vacuum", nil))
		assert.ErrorContains(t, err, `unknown cleanup type "vacuum"`)
	})
}

func TestRegisterWorkers(t *testing.T) {
	workers := river.NewWorkers()
	assert.NotPanics(t, func() {
		RegisterWorkers(workers, WorkerDeps{
			Processor:  NewNotificationProcessor(&fakeCreator{}, nil),
			Sink:       LogSink{},
			Purger:     &fakePurger{},
			Reconciler: &fakeReconciler{},
		})
	})
}

type fakeNATS struct {
	msgs     []*nats.Msg
	flushErr error
	deadline bool
}

func (f *fakeNATS) PublishMsg(m *nats.Msg) error {
	f.msgs = append(f.msgs, m)
	return nil
}

func (f *fakeNATS) FlushWithContext(ctx context.Context) error {
	_, f.deadline = ctx.Deadline()
	return f.flushErr
}

func TestNATSSink_Deliver(t *testing.T) {
	nc := &fakeNATS{}
	sink := &NATSSink{nc: nc, subject: "push.deliver"}

	err := sink.Deliver(context.Background(), notification.PushPayload{
		UserID: "bob",
		Title:  "hi",
		Data:   map[string]any{"notificationId": "n1", "type": "post_like"},
	})
	require.NoError(t, err)
	require.Len(t, nc.msgs, 1)

	msg := nc.msgs[0]
	assert.Equal(t, "push.deliver", msg.Subject)
	assert.Equal(t, "bob", msg.Header.Get("user-id"))
	assert.Equal(t, "n1", msg.Header.Get("Nats-Msg-Id"))
	assert.JSONEq(t, `{"userId":"bob","title":"hi","body":"","data":{"notificationId":"n1","type":"post_like"}}`, string(msg.Data))
	assert.True(t, nc.deadline, "flush always runs with a deadline")
}

func TestNATSSink_FlushErrorFailsDelivery(t *testing.T) {
	sink := &NATSSink{nc: &fakeNATS{flushErr: nats.ErrConnectionClosed}, subject: "push.deliver"}

	err := sink.Deliver(context.Background(), notification.PushPayload{UserID: "bob"})
	assert.ErrorIs(t, err, nats.ErrConnectionClosed)
}
