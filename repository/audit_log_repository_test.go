package repository_test

import (
	"context"
	"testing"

	"github.com/amirphl/massdispatch/models"
	"github.com/amirphl/massdispatch/repository"
	testingutil "github.com/amirphl/massdispatch/testing"
	"github.com/amirphl/massdispatch/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLogRepository_CommitsWithTransaction(t *testing.T) {
	testDB := testingutil.SetupTestDBOrSkip(t)
	repo := repository.NewAuditLogRepository(testDB.DB)
	tx := repository.NewTxManager(testDB.DB)
	ctx := context.Background()

	err := tx.WithTransaction(ctx, func(txCtx context.Context) error {
		return repo.Save(txCtx, &models.AuditLog{
			CompanyID:   utils.ToPtr(uint(1)),
			Action:      models.AuditActionMassMessageCreated,
			Description: utils.ToPtr("kept"),
			Success:     utils.ToPtr(true),
			RequestID:   utils.ToPtr("req-1"),
		})
	})
	require.NoError(t, err)

	err = tx.WithTransaction(ctx, func(txCtx context.Context) error {
		require.NoError(t, repo.Save(txCtx, &models.AuditLog{
			CompanyID: utils.ToPtr(uint(1)),
			Action:    models.AuditActionMassMessageCancelled,
			Success:   utils.ToPtr(true),
		}))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	require.NoError(t, repo.Save(ctx, &models.AuditLog{
		CompanyID:    utils.ToPtr(uint(1)),
		Action:       models.AuditActionMassMessageCancellationFailed,
		Success:      utils.ToPtr(false),
		ErrorMessage: utils.ToPtr("batch is no longer cancellable"),
	}))
	require.NoError(t, repo.Save(ctx, &models.AuditLog{
		CompanyID: utils.ToPtr(uint(2)),
		Action:    models.AuditActionScheduledMessageCreated,
		Success:   utils.ToPtr(true),
	}))

	logs, err := repo.ListByCompany(ctx, 1, 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.AuditActionMassMessageCancellationFailed, logs[0].Action)
	assert.True(t, logs[0].IsFailed())
	assert.Equal(t, models.AuditActionMassMessageCreated, logs[1].Action)
	require.NotNil(t, logs[1].RequestID)
	assert.Equal(t, "req-1", *logs[1].RequestID)

	failed, err := repo.Count(ctx, models.AuditLogFilter{CompanyID: utils.ToPtr(uint(1)), Success: utils.ToPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), failed)
}

func TestMassMessageRecipientRepository_FailPendingOfFailedBatch(t *testing.T) {
	testDB := testingutil.SetupTestDBOrSkip(t)
	fx := testingutil.NewTestFixtures(testDB)
	batchRepo := repository.NewMassMessageBatchRepository(testDB.DB)
	recipientRepo := repository.NewMassMessageRecipientRepository(testDB.DB)
	ctx := context.Background()
	now := utils.UTCNow()

	batch, recipients := seedBatch(t, fx, now, "+989120000031", "+989120000032", "+989120000033")
	healthy, _ := seedBatch(t, fx, now, "+989120000034")

	_, err := batchRepo.ClaimScheduled(ctx, batch.ID, now)
	require.NoError(t, err)
	ok, err := recipientRepo.MarkSent(ctx, recipients[0].ID, utils.ToPtr("gw-1"), now)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = batchRepo.Finish(ctx, batch.ID, models.BatchStatusFailed, models.RecipientCounts{Total: 3, Sent: 1}, utils.ToPtr("channel gone"), now)
	require.NoError(t, err)
	require.True(t, ok)

	stranded, err := batchRepo.ListFailedWithPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stranded, 1)
	assert.Equal(t, batch.ID, stranded[0].ID)

	n, err := recipientRepo.FailPendingByBatch(ctx, batch.ID, "batch failed: channel gone")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	counts, err := recipientRepo.CountsByBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Sent)
	assert.Equal(t, 2, counts.Failed)
	assert.Zero(t, counts.Pending)

	stranded, err = batchRepo.ListFailedWithPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, stranded)

	pending, err := recipientRepo.ListPendingByBatch(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
