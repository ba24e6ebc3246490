package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amirphl/massdispatch/app/services"
	"github.com/amirphl/massdispatch/models"
	testingutil "github.com/amirphl/massdispatch/testing"
	"github.com/amirphl/massdispatch/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schedulerFixture struct {
	store     *testingutil.MemoryStore
	gateway   *services.MockGateway
	channel   *models.Channel
	scheduler *Scheduler
}

func newSchedulerFixture(t *testing.T, lock TickLock, opts Options) *schedulerFixture {
	t.Helper()
	store := testingutil.NewMemoryStore()
	gateway := services.NewMockGateway()
	channel := store.AddChannel(&models.Channel{CompanyID: 1, Name: "main", InstanceName: "inst-1"})

	executor := newTestExecutor(store, gateway)
	legacy := NewLegacyProcessor(store.ScheduledMessages(), store.Contacts(), store.Channels(), gateway, quietLogger(), 10)

	return &schedulerFixture{
		store:     store,
		gateway:   gateway,
		channel:   channel,
		scheduler: New(store.Batches(), executor, legacy, lock, quietLogger(), opts),
	}
}

// seedScheduledBatch stores an unclaimed batch due at dueAt
func (fx *schedulerFixture) seedScheduledBatch(t *testing.T, dueAt time.Time, addresses ...string) *models.MassMessageBatch {
	t.Helper()
	ctx := context.Background()
	batch := &models.MassMessageBatch{
		CompanyID:       1,
		MessageType:     models.MessageTypeCustom,
		Body:            "hi",
		TargetType:      models.TargetTypeManual,
		ChannelID:       fx.channel.ID,
		SendMode:        models.SendModeScheduled,
		DueAt:           dueAt,
		TotalRecipients: len(addresses),
	}
	require.NoError(t, fx.store.Batches().Save(ctx, batch))

	rows := make([]*models.MassMessageRecipient, 0, len(addresses))
	for _, a := range addresses {
		rows = append(rows, &models.MassMessageRecipient{
			BatchID:     batch.ID,
			TargetType:  models.RecipientKindManual,
			Address:     a,
			Body:        batch.Body,
			ScheduledAt: dueAt,
		})
	}
	require.NoError(t, fx.store.Recipients().SaveBatch(ctx, rows))
	return batch
}

type deniedLock struct{}

func (deniedLock) Acquire(ctx context.Context) (func(), bool, error) { return nil, false, nil }

type brokenLock struct{}

func (brokenLock) Acquire(ctx context.Context) (func(), bool, error) {
	return nil, false, errors.New("redis unreachable")
}

func TestScheduler_RunNow(t *testing.T) {
	ctx := context.Background()
	fx := newSchedulerFixture(t, nil, Options{})

	due := fx.seedScheduledBatch(t, time.Now().UTC().Add(-time.Minute), "a", "b")
	notYet := fx.seedScheduledBatch(t, time.Now().UTC().Add(time.Hour), "c")
	seedMessage(t, fx.store, &models.ScheduledMessage{ChannelID: fx.channel.ID, Phone: utils.ToPtr("+989120000001"), ScheduledAt: time.Now().UTC().Add(-time.Minute)})

	report, err := fx.scheduler.RunNow(ctx)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 1, report.LegacyDue)
	assert.Equal(t, 1, report.LegacySent)
	assert.Equal(t, 1, report.BatchesDue)
	assert.Equal(t, 1, report.BatchesClaimed)
	assert.Equal(t, 1, report.BatchesCompleted)
	assert.Equal(t, 2, report.MessagesSent)
	assert.Empty(t, report.Errors)

	assert.Equal(t, models.BatchStatusCompleted, fx.store.Batch(due.ID).Status)
	assert.Equal(t, models.BatchStatusScheduled, fx.store.Batch(notYet.ID).Status)
	assert.Len(t, fx.gateway.Sent(), 3)

	t.Run("a completed batch is never picked up again", func(t *testing.T) {
		report, err := fx.scheduler.RunNow(ctx)
		require.NoError(t, err)
		assert.Zero(t, report.BatchesDue)
		assert.Len(t, fx.gateway.Sent(), 3)
	})

	status := fx.scheduler.Status()
	assert.Equal(t, int64(2), status.TickCount)
	assert.NotNil(t, status.LastTickAt)
	assert.NotNil(t, status.LastReport)
	assert.False(t, status.Running)
}

func TestScheduler_CancelledBatchIsNotClaimed(t *testing.T) {
	ctx := context.Background()
	fx := newSchedulerFixture(t, nil, Options{})

	batch := fx.seedScheduledBatch(t, time.Now().UTC().Add(-time.Minute), "a")
	ok, err := fx.store.Batches().Cancel(ctx, batch.ID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, ok)

	report, err := fx.scheduler.RunNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.BatchesClaimed)
	assert.Empty(t, fx.gateway.Sent())
}

func TestScheduler_TickLock(t *testing.T) {
	ctx := context.Background()

	t.Run("held lock skips the tick", func(t *testing.T) {
		fx := newSchedulerFixture(t, deniedLock{}, Options{})
		batch := fx.seedScheduledBatch(t, time.Now().UTC().Add(-time.Minute), "a")

		report, err := fx.scheduler.RunNow(ctx)
		require.NoError(t, err)
		assert.True(t, report.Skipped)
		assert.Equal(t, models.BatchStatusScheduled, fx.store.Batch(batch.ID).Status)
	})

	t.Run("lock errors do not block delivery", func(t *testing.T) {
		fx := newSchedulerFixture(t, brokenLock{}, Options{})
		batch := fx.seedScheduledBatch(t, time.Now().UTC().Add(-time.Minute), "a")

		report, err := fx.scheduler.RunNow(ctx)
		require.NoError(t, err)
		assert.False(t, report.Skipped)
		assert.Equal(t, models.BatchStatusCompleted, fx.store.Batch(batch.ID).Status)
	})
}

func TestScheduler_RecoverStale(t *testing.T) {
	ctx := context.Background()
	fx := newSchedulerFixture(t, nil, Options{Lease: time.Minute})

	longAgo := time.Now().UTC().Add(-time.Hour)
	stale := fx.seedScheduledBatch(t, longAgo, "a", "b")
	_, err := fx.store.Batches().ClaimScheduled(ctx, stale.ID, longAgo)
	require.NoError(t, err)

	// the first recipient went out before the previous owner died
	rows := fx.store.RecipientsOf(stale.ID)
	ok, err := fx.store.Recipients().MarkSent(ctx, rows[0].ID, nil, longAgo)
	require.NoError(t, err)
	require.True(t, ok)

	fresh := fx.seedScheduledBatch(t, time.Now().UTC(), "c")
	_, err = fx.store.Batches().ClaimScheduled(ctx, fresh.ID, time.Now().UTC())
	require.NoError(t, err)

	msg := seedMessage(t, fx.store, &models.ScheduledMessage{ChannelID: fx.channel.ID, Phone: utils.ToPtr("+989120000001"), ScheduledAt: longAgo})
	_, err = fx.store.ScheduledMessages().Claim(ctx, msg.ID, longAgo)
	require.NoError(t, err)

	report, err := fx.scheduler.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.BatchesResumed)
	assert.Equal(t, 1, report.MessagesSent)

	sent := fx.gateway.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "b", sent[0].Address)

	resumed := fx.store.Batch(stale.ID)
	assert.Equal(t, models.BatchStatusCompleted, resumed.Status)
	assert.Equal(t, 2, resumed.SentCount)

	assert.Equal(t, models.BatchStatusProcessing, fx.store.Batch(fresh.ID).Status)
	assert.Equal(t, models.ScheduledMessageStatusFailed, fx.store.Message(msg.ID).Status)
}

func TestScheduler_Lifecycle(t *testing.T) {
	t.Run("stop before start", func(t *testing.T) {
		fx := newSchedulerFixture(t, nil, Options{})
		assert.ErrorIs(t, fx.scheduler.Stop(), ErrNotRunning)
		assert.False(t, fx.scheduler.TriggerNow())
	})

	t.Run("start twice", func(t *testing.T) {
		fx := newSchedulerFixture(t, nil, Options{Interval: time.Hour})
		require.NoError(t, fx.scheduler.Start(context.Background()))
		assert.ErrorIs(t, fx.scheduler.Start(context.Background()), ErrAlreadyRunning)
		assert.True(t, fx.scheduler.Status().Running)
		require.NoError(t, fx.scheduler.Stop())
		assert.False(t, fx.scheduler.Status().Running)
	})

	t.Run("invalid recovery spec", func(t *testing.T) {
		fx := newSchedulerFixture(t, nil, Options{RecoverySpec: "every now and then"})
		assert.Error(t, fx.scheduler.Start(context.Background()))
		assert.False(t, fx.scheduler.Status().Running)
	})

	t.Run("trigger runs a tick without waiting for the interval", func(t *testing.T) {
		fx := newSchedulerFixture(t, nil, Options{Interval: time.Hour, RecoverySpec: "@every 1h"})
		batch := fx.seedScheduledBatch(t, time.Now().UTC().Add(-time.Second), "a")

		require.NoError(t, fx.scheduler.Start(context.Background()))
		defer func() { _ = fx.scheduler.Stop() }()

		assert.True(t, fx.scheduler.TriggerNow())
		assert.Eventually(t, func() bool {
			b := fx.store.Batch(batch.ID)
			return b != nil && b.Status == models.BatchStatusCompleted
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("run on start", func(t *testing.T) {
		fx := newSchedulerFixture(t, nil, Options{Interval: time.Hour, RunOnStart: true})
		require.NoError(t, fx.scheduler.Start(context.Background()))
		assert.Eventually(t, func() bool {
			return fx.scheduler.Status().TickCount >= 1
		}, 2*time.Second, 10*time.Millisecond)
		require.NoError(t, fx.scheduler.Stop())
	})

	t.Run("restart after stop", func(t *testing.T) {
		fx := newSchedulerFixture(t, nil, Options{Interval: time.Hour})
		require.NoError(t, fx.scheduler.Start(context.Background()))
		require.NoError(t, fx.scheduler.Stop())
		require.NoError(t, fx.scheduler.Start(context.Background()))
		require.NoError(t, fx.scheduler.Stop())
	})
}

// pacedSleep really waits a short, fixed time for every pacing wait so tests can outrun a deadline
func pacedSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	return sleepContext(ctx, 60*time.Millisecond)
}

func TestScheduler_RunNowIgnoresCallerDeadline(t *testing.T) {
	fx := newSchedulerFixture(t, nil, Options{})
	fx.scheduler.executor.WithSleep(pacedSleep)

	batch := fx.seedScheduledBatch(t, time.Now().UTC().Add(-time.Minute), "a", "b", "c")
	batch.DelayBetweenMessages = 1
	require.NoError(t, fx.store.Batches().Save(context.Background(), batch))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	report, err := fx.scheduler.RunNow(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 3, report.MessagesSent)
	assert.Equal(t, 1, report.BatchesCompleted)

	stored := fx.store.Batch(batch.ID)
	assert.Equal(t, models.BatchStatusCompleted, stored.Status)
	assert.Equal(t, 3, stored.SentCount)
	assert.Len(t, fx.gateway.Sent(), 3)
}

func TestScheduler_StopInterruptsRunNow(t *testing.T) {
	fx := newSchedulerFixture(t, nil, Options{Interval: time.Hour})

	waiting := make(chan struct{}, 1)
	fx.scheduler.executor.WithSleep(func(ctx context.Context, d time.Duration) error {
		if d <= 0 {
			return ctx.Err()
		}
		select {
		case waiting <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	})

	batch := fx.seedScheduledBatch(t, time.Now().UTC().Add(-time.Minute), "a", "b")
	batch.DelayBetweenMessages = 1
	require.NoError(t, fx.store.Batches().Save(context.Background(), batch))

	require.NoError(t, fx.scheduler.Start(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := fx.scheduler.RunNow(context.Background())
		done <- err
	}()

	select {
	case <-waiting:
	case <-time.After(2 * time.Second):
		t.Fatal("manual run never reached the pacing wait")
	}
	require.NoError(t, fx.scheduler.Stop())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("manual run kept going after stop")
	}

	// interrupted like a loop tick: recovery resumes it later
	assert.Equal(t, models.BatchStatusProcessing, fx.store.Batch(batch.ID).Status)
	rows := fx.store.RecipientsOf(batch.ID)
	assert.Equal(t, models.RecipientStatusSent, rows[0].Status)
	assert.Equal(t, models.RecipientStatusPending, rows[1].Status)
}

func TestScheduler_RecoverSettlesFailedBatches(t *testing.T) {
	ctx := context.Background()
	fx := newSchedulerFixture(t, nil, Options{})

	batch := fx.seedScheduledBatch(t, time.Now().UTC().Add(-time.Minute), "a", "b")
	_, err := fx.store.Batches().ClaimScheduled(ctx, batch.ID, time.Now().UTC())
	require.NoError(t, err)

	// the batch failed while its recipients could not be written
	reason := "load recipients: connection reset"
	ok, err := fx.store.Batches().Finish(ctx, batch.ID, models.BatchStatusFailed, models.RecipientCounts{}, &reason, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, ok)

	report, err := fx.scheduler.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.RecipientsSettled)
	assert.Empty(t, report.Errors)
	assert.Empty(t, fx.gateway.Sent())

	stored := fx.store.Batch(batch.ID)
	assert.Equal(t, models.BatchStatusFailed, stored.Status)
	assert.Equal(t, 2, stored.FailedCount)
	for _, r := range fx.store.RecipientsOf(batch.ID) {
		assert.Equal(t, models.RecipientStatusFailed, r.Status)
		require.NotNil(t, r.FailureReason)
		assert.Equal(t, "batch failed: "+reason, *r.FailureReason)
	}

	again, err := fx.scheduler.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.RecipientsSettled)
}
