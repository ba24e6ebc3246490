package businessflow

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/massdispatch/models"
	"github.com/amirphl/massdispatch/repository"
	"github.com/amirphl/massdispatch/utils"
)

// RecipientDueTimes computes the due time of every recipient in resolution order.
// Non-group recipients and most group recipients are due at baseDue; every
// GroupPacingStride-th group recipient (k = 10, 20, ...) is pushed to
// baseDue + (k/10) * delayBetweenGroups.
func RecipientDueTimes(recipients []ResolvedRecipient, baseDue time.Time, delayBetweenGroups time.Duration) []time.Time {
	out := make([]time.Time, len(recipients))
	groupOrdinal := 0
	for i, r := range recipients {
		out[i] = baseDue
		if r.Kind != models.RecipientKindGroup {
			continue
		}
		groupOrdinal++
		if groupOrdinal%utils.GroupPacingStride == 0 {
			steps := groupOrdinal / utils.GroupPacingStride
			out[i] = baseDue.Add(time.Duration(steps) * delayBetweenGroups)
		}
	}
	return out
}

// BuildRecipientRows turns resolved recipients into pending recipient rows of batchID, each
// carrying its own copy of the rendered body.
func BuildRecipientRows(batchID uint, body string, recipients []ResolvedRecipient, baseDue time.Time, timezone string, delayBetweenGroups time.Duration) []*models.MassMessageRecipient {
	dueTimes := RecipientDueTimes(recipients, baseDue, delayBetweenGroups)
	rows := make([]*models.MassMessageRecipient, 0, len(recipients))
	for i, r := range recipients {
		rows = append(rows, &models.MassMessageRecipient{
			BatchID:     batchID,
			TargetType:  r.Kind,
			ExternalID:  r.ExternalID,
			Address:     r.Address,
			DisplayName: r.DisplayName,
			Body:        body,
			ScheduledAt: dueTimes[i].UTC(),
			Timezone:    timezone,
			Status:      models.RecipientStatusPending,
		})
	}
	return rows
}

// BatchMaterializer persists a batch together with its recipient rows
type BatchMaterializer struct {
	batchRepo     repository.MassMessageBatchRepository
	recipientRepo repository.MassMessageRecipientRepository
}

// NewBatchMaterializer creates a new materializer
func NewBatchMaterializer(batchRepo repository.MassMessageBatchRepository, recipientRepo repository.MassMessageRecipientRepository) *BatchMaterializer {
	return &BatchMaterializer{
		batchRepo:     batchRepo,
		recipientRepo: recipientRepo,
	}
}

// Materialize inserts the batch row and one recipient row per resolved recipient. It must be
// called inside a transaction so that a failure leaves neither the batch nor any recipient.
// An empty recipient list is rejected before anything is written.
func (m *BatchMaterializer) Materialize(ctx context.Context, batch *models.MassMessageBatch, recipients []ResolvedRecipient) ([]*models.MassMessageRecipient, error) {
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	batch.TotalRecipients = len(recipients)
	batch.SentCount = 0
	batch.FailedCount = 0
	if err := m.batchRepo.Save(ctx, batch); err != nil {
		return nil, fmt.Errorf("save batch: %w", err)
	}

	rows := BuildRecipientRows(
		batch.ID,
		batch.Body,
		recipients,
		batch.DueAt,
		batch.Timezone,
		utils.SecondsToDuration(batch.DelayBetweenGroups),
	)
	if err := m.recipientRepo.SaveBatch(ctx, rows); err != nil {
		return nil, fmt.Errorf("save recipients of batch %d: %w", batch.ID, err)
	}

	return rows, nil
}
