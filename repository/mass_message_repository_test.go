package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/massdispatch/models"
	"github.com/amirphl/massdispatch/repository"
	testingutil "github.com/amirphl/massdispatch/testing"
	"github.com/amirphl/massdispatch/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedBatch(t *testing.T, fx *testingutil.TestFixtures, dueAt time.Time, phones ...string) (*models.MassMessageBatch, []*models.MassMessageRecipient) {
	t.Helper()
	channel, err := fx.CreateTestChannel(1)
	require.NoError(t, err)

	batch := &models.MassMessageBatch{
		CompanyID:   1,
		CreatedBy:   1,
		MessageType: models.MessageTypeCustom,
		Body:        "hello",
		TargetType:  models.TargetTypeManual,
		ChannelID:   channel.ID,
		SendMode:    models.SendModeScheduled,
		DueAt:       dueAt,
	}
	recipients, err := fx.CreateTestBatch(batch, phones...)
	require.NoError(t, err)
	return batch, recipients
}

func TestMassMessageBatchRepository_ClaimScheduled(t *testing.T) {
	testDB := testingutil.SetupTestDBOrSkip(t)
	fx := testingutil.NewTestFixtures(testDB)
	repo := repository.NewMassMessageBatchRepository(testDB.DB)
	ctx := context.Background()
	now := utils.UTCNow()

	due, _ := seedBatch(t, fx, now.Add(-time.Minute), "+989120000001")
	seedBatch(t, fx, now.Add(time.Hour), "+989120000002")

	listed, err := repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, due.ID, listed[0].ID)

	// concurrent claimers: exactly one wins
	var wg sync.WaitGroup
	wins := make(chan *models.MassMessageBatch, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := repo.ClaimScheduled(ctx, due.ID, now)
			assert.NoError(t, err)
			if claimed != nil {
				wins <- claimed
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []*models.MassMessageBatch
	for b := range wins {
		winners = append(winners, b)
	}
	require.Len(t, winners, 1)
	assert.Equal(t, models.BatchStatusProcessing, winners[0].Status)
	require.NotNil(t, winners[0].HeartbeatAt)

	status, err := repo.StatusOf(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusProcessing, status)
}

func TestMassMessageBatchRepository_StaleAndFinish(t *testing.T) {
	testDB := testingutil.SetupTestDBOrSkip(t)
	fx := testingutil.NewTestFixtures(testDB)
	batchRepo := repository.NewMassMessageBatchRepository(testDB.DB)
	recipientRepo := repository.NewMassMessageRecipientRepository(testDB.DB)
	ctx := context.Background()
	now := utils.UTCNow()

	batch, recipients := seedBatch(t, fx, now.Add(-time.Hour), "+989120000011", "+989120000012")
	_, err := batchRepo.ClaimScheduled(ctx, batch.ID, now.Add(-time.Hour))
	require.NoError(t, err)

	stale, err := batchRepo.ListStale(ctx, now.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	taken, err := batchRepo.ClaimStale(ctx, batch.ID, now.Add(-time.Minute), now)
	require.NoError(t, err)
	require.NotNil(t, taken)

	// the heartbeat was refreshed, so a second recovery does not take it again
	again, err := batchRepo.ClaimStale(ctx, batch.ID, now.Add(-time.Minute), now)
	require.NoError(t, err)
	assert.Nil(t, again)

	ok, err := recipientRepo.MarkSent(ctx, recipients[0].ID, utils.ToPtr("gw-1"), now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = recipientRepo.MarkFailed(ctx, recipients[1].ID, "rejected")
	require.NoError(t, err)
	assert.True(t, ok)

	// terminal rows are never rewritten
	ok, err = recipientRepo.MarkFailed(ctx, recipients[0].ID, "late")
	require.NoError(t, err)
	assert.False(t, ok)

	counts, err := recipientRepo.CountsByBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Total)
	assert.Equal(t, 1, counts.Sent)
	assert.Equal(t, 1, counts.Failed)

	finished, err := batchRepo.Finish(ctx, batch.ID, models.BatchStatusCompleted, counts, nil, now)
	require.NoError(t, err)
	assert.True(t, finished)

	cancelled, err := batchRepo.Cancel(ctx, batch.ID, now)
	require.NoError(t, err)
	assert.False(t, cancelled)

	reloaded, err := batchRepo.ByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCompleted, reloaded.Status)
	assert.Equal(t, 1, reloaded.SentCount)
	assert.Equal(t, 1, reloaded.FailedCount)
	assert.NotNil(t, reloaded.CompletedAt)
}

func TestMassMessageBatchRepository_CancelStopsPending(t *testing.T) {
	testDB := testingutil.SetupTestDBOrSkip(t)
	fx := testingutil.NewTestFixtures(testDB)
	batchRepo := repository.NewMassMessageBatchRepository(testDB.DB)
	recipientRepo := repository.NewMassMessageRecipientRepository(testDB.DB)
	ctx := context.Background()
	now := utils.UTCNow()

	batch, _ := seedBatch(t, fx, now.Add(time.Hour), "+989120000021", "+989120000022", "+989120000023")

	ok, err := batchRepo.Cancel(ctx, batch.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := recipientRepo.CancelPendingByBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	pending, err := recipientRepo.ListPendingByBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	claimed, err := batchRepo.ClaimScheduled(ctx, batch.ID, now)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestTxManager_RollsBackOnError(t *testing.T) {
	testDB := testingutil.SetupTestDBOrSkip(t)
	fx := testingutil.NewTestFixtures(testDB)
	channel, err := fx.CreateTestChannel(1)
	require.NoError(t, err)

	batchRepo := repository.NewMassMessageBatchRepository(testDB.DB)
	tx := repository.NewTxManager(testDB.DB)
	ctx := context.Background()

	err = tx.WithTransaction(ctx, func(txCtx context.Context) error {
		batch := &models.MassMessageBatch{
			CompanyID:   1,
			CreatedBy:   1,
			MessageType: models.MessageTypeCustom,
			Body:        "rolled back",
			TargetType:  models.TargetTypeManual,
			ChannelID:   channel.ID,
			SendMode:    models.SendModeImmediate,
			DueAt:       utils.UTCNow(),
		}
		require.NoError(t, batchRepo.Save(txCtx, batch))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	count, err := batchRepo.Count(ctx, models.MassMessageBatchFilter{})
	require.NoError(t, err)
	assert.Zero(t, count)
}
