package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/massdispatch/app/services"
	"github.com/amirphl/massdispatch/models"
	"github.com/amirphl/massdispatch/repository"
	"github.com/amirphl/massdispatch/utils"
)

// defaultHeartbeatEvery bounds how long a pacing wait may go without refreshing the batch lease
const defaultHeartbeatEvery = time.Minute

// BatchOutcome summarizes one execution of a batch
type BatchOutcome struct {
	BatchID uint
	Status  models.BatchStatus
	Sent    int
	Failed  int
	// Skipped counts recipients that stopped being pending between listing and marking
	Skipped   int
	Cancelled bool
	Aborted   bool
}

// DeliveryExecutor sends the pending recipients of a claimed batch one by one
type DeliveryExecutor struct {
	batchRepo      repository.MassMessageBatchRepository
	recipientRepo  repository.MassMessageRecipientRepository
	channelRepo    repository.ChannelRepository
	gateway        services.MessagingGateway
	logger         *log.Logger
	sleep          SleepFunc
	now            func() time.Time
	heartbeatEvery time.Duration
}

// NewDeliveryExecutor creates a new executor
func NewDeliveryExecutor(
	batchRepo repository.MassMessageBatchRepository,
	recipientRepo repository.MassMessageRecipientRepository,
	channelRepo repository.ChannelRepository,
	gateway services.MessagingGateway,
	logger *log.Logger,
) *DeliveryExecutor {
	if logger == nil {
		logger = log.Default()
	}
	return &DeliveryExecutor{
		batchRepo:      batchRepo,
		recipientRepo:  recipientRepo,
		channelRepo:    channelRepo,
		gateway:        gateway,
		logger:         logger,
		sleep:          sleepContext,
		now:            utils.UTCNow,
		heartbeatEvery: defaultHeartbeatEvery,
	}
}

// WithSleep replaces the pacing wait, mainly so tests can observe delays without waiting
func (e *DeliveryExecutor) WithSleep(fn SleepFunc) *DeliveryExecutor {
	if fn != nil {
		e.sleep = fn
	}
	return e
}

// Execute delivers a batch that the caller has already moved to processing. Recipients are
// sent in due order with the configured pacing. The batch status is re-read before every
// recipient so a cancellation stops delivery before the next send. Per-recipient gateway
// failures are recorded and skipped; any other error fails the batch. A cancelled ctx stops
// delivery without touching the batch, which then stays processing for recovery to resume.
func (e *DeliveryExecutor) Execute(ctx context.Context, batch *models.MassMessageBatch) (*BatchOutcome, error) {
	batchesInFlight.Inc()
	defer batchesInFlight.Dec()

	outcome := &BatchOutcome{BatchID: batch.ID, Status: models.BatchStatusProcessing}

	channel, err := e.channelRepo.ByID(ctx, batch.ChannelID)
	if err != nil {
		return e.fail(ctx, batch, outcome, fmt.Errorf("load channel %d: %w", batch.ChannelID, err))
	}
	if channel == nil {
		return e.fail(ctx, batch, outcome, fmt.Errorf("channel %d not found", batch.ChannelID))
	}

	recipients, err := e.recipientRepo.ListPendingByBatch(ctx, batch.ID)
	if err != nil {
		return e.fail(ctx, batch, outcome, fmt.Errorf("load recipients: %w", err))
	}
	e.logger.Printf("scheduler: batch id=%d delivering %d pending recipients", batch.ID, len(recipients))

	groupDelay := utils.SecondsToDuration(batch.DelayBetweenGroups)
	messageDelay := utils.SecondsToDuration(batch.DelayBetweenMessages)

	for i, r := range recipients {
		var wait time.Duration
		if i > 0 {
			wait = messageDelay
			if r.TargetType == models.RecipientKindGroup {
				wait = groupDelay
			}
		}
		if untilDue := r.ScheduledAt.Sub(e.now()); untilDue > wait {
			wait = untilDue
		}
		if err := e.wait(ctx, batch.ID, wait); err != nil {
			outcome.Aborted = true
			return outcome, err
		}

		status, err := e.batchRepo.StatusOf(ctx, batch.ID)
		if err != nil {
			if ctx.Err() != nil {
				outcome.Aborted = true
				return outcome, ctx.Err()
			}
			return e.fail(ctx, batch, outcome, err)
		}
		if status == models.BatchStatusCancelled {
			e.logger.Printf("scheduler: batch id=%d cancelled, stopping before recipient id=%d", batch.ID, r.ID)
			outcome.Cancelled = true
			outcome.Status = models.BatchStatusCancelled
			return outcome, nil
		}
		if status != models.BatchStatusProcessing {
			e.logger.Printf("scheduler: batch id=%d left processing (status=%s), stopping", batch.ID, status)
			outcome.Status = status
			return outcome, nil
		}

		if err := e.deliver(ctx, channel, r, outcome); err != nil {
			if ctx.Err() != nil {
				outcome.Aborted = true
				return outcome, ctx.Err()
			}
			return e.fail(ctx, batch, outcome, err)
		}

		if err := e.batchRepo.Heartbeat(ctx, batch.ID, e.now()); err != nil {
			e.logger.Printf("scheduler: heartbeat batch id=%d failed: %v", batch.ID, err)
		}
	}

	return e.complete(ctx, batch, outcome)
}

// wait sleeps for d, refreshing the batch heartbeat during long pauses
func (e *DeliveryExecutor) wait(ctx context.Context, batchID uint, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	for d > 0 {
		step := d
		if e.heartbeatEvery > 0 && step > e.heartbeatEvery {
			step = e.heartbeatEvery
		}
		if err := e.sleep(ctx, step); err != nil {
			return err
		}
		d -= step
		if d > 0 {
			if err := e.batchRepo.Heartbeat(ctx, batchID, e.now()); err != nil {
				e.logger.Printf("scheduler: heartbeat batch id=%d failed: %v", batchID, err)
			}
		}
	}
	return nil
}

// deliver sends to one recipient and records the result. Only repository failures are returned.
func (e *DeliveryExecutor) deliver(ctx context.Context, channel *models.Channel, r *models.MassMessageRecipient, outcome *BatchOutcome) error {
	kind := string(r.TargetType)

	res, sendErr := e.gateway.SendText(ctx, channel, r.Address, r.Body)
	if sendErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ok, err := e.recipientRepo.MarkFailed(ctx, r.ID, sendErr.Error())
		if err != nil {
			return fmt.Errorf("mark recipient %d failed: %w", r.ID, err)
		}
		if !ok {
			outcome.Skipped++
			e.logger.Printf("scheduler: recipient id=%d no longer pending, failure not recorded", r.ID)
			return nil
		}
		outcome.Failed++
		deliveriesTotal.WithLabelValues(kind, string(models.RecipientStatusFailed)).Inc()
		e.logger.Printf("scheduler: recipient id=%d batch id=%d failed: %v", r.ID, r.BatchID, sendErr)
		return nil
	}

	var gatewayID *string
	if res != nil && res.MessageID != "" {
		gatewayID = utils.ToPtr(res.MessageID)
	}
	ok, err := e.recipientRepo.MarkSent(ctx, r.ID, gatewayID, e.now())
	if err != nil {
		return fmt.Errorf("mark recipient %d sent: %w", r.ID, err)
	}
	if !ok {
		// the message went out but the row was cancelled meanwhile
		outcome.Skipped++
		e.logger.Printf("scheduler: WARNING recipient id=%d sent but no longer pending", r.ID)
		return nil
	}
	outcome.Sent++
	deliveriesTotal.WithLabelValues(kind, string(models.RecipientStatusSent)).Inc()
	return nil
}

// complete freezes the counters from recipient rows and moves the batch to completed
func (e *DeliveryExecutor) complete(ctx context.Context, batch *models.MassMessageBatch, outcome *BatchOutcome) (*BatchOutcome, error) {
	counts, err := e.recipientRepo.CountsByBatch(ctx, batch.ID)
	if err != nil {
		return e.fail(ctx, batch, outcome, fmt.Errorf("count recipients: %w", err))
	}

	ok, err := e.batchRepo.Finish(ctx, batch.ID, models.BatchStatusCompleted, counts, nil, e.now())
	if err != nil {
		return outcome, fmt.Errorf("complete batch %d: %w", batch.ID, err)
	}
	if !ok {
		status, _ := e.batchRepo.StatusOf(ctx, batch.ID)
		e.logger.Printf("scheduler: batch id=%d not completed, status changed to %s", batch.ID, status)
		outcome.Status = status
		outcome.Cancelled = status == models.BatchStatusCancelled
		return outcome, nil
	}

	outcome.Status = models.BatchStatusCompleted
	batchesFinishedTotal.WithLabelValues(string(models.BatchStatusCompleted)).Inc()
	e.logger.Printf("scheduler: batch id=%d completed sent=%d failed=%d", batch.ID, counts.Sent, counts.Failed)
	return outcome, nil
}

// fail records cause on the batch and moves it to failed. Recipients not yet reached are then
// settled as failed with the batch error; if that write fails too, recovery settles them later.
func (e *DeliveryExecutor) fail(ctx context.Context, batch *models.MassMessageBatch, outcome *BatchOutcome, cause error) (*BatchOutcome, error) {
	msg := cause.Error()

	counts, err := e.recipientRepo.CountsByBatch(ctx, batch.ID)
	if err != nil {
		e.logger.Printf("scheduler: count recipients of failing batch id=%d: %v", batch.ID, err)
		counts = models.RecipientCounts{Sent: batch.SentCount + outcome.Sent, Failed: batch.FailedCount + outcome.Failed}
	}

	ok, err := e.batchRepo.Finish(ctx, batch.ID, models.BatchStatusFailed, counts, &msg, e.now())
	if err != nil {
		return outcome, errors.Join(cause, fmt.Errorf("mark batch %d failed: %w", batch.ID, err))
	}
	if ok {
		outcome.Status = models.BatchStatusFailed
		batchesFinishedTotal.WithLabelValues(string(models.BatchStatusFailed)).Inc()

		settled, err := e.SettleFailed(ctx, batch.ID, msg)
		if err != nil {
			e.logger.Printf("scheduler: settle recipients of failed batch id=%d: %v", batch.ID, err)
		}
		outcome.Failed += int(settled)
	}
	e.logger.Printf("scheduler: batch id=%d failed: %v", batch.ID, cause)
	return outcome, cause
}

// SettleFailed marks the recipients a failed batch never reached as failed and refreshes the
// batch counters from the recipient rows. It returns the number of recipients settled.
func (e *DeliveryExecutor) SettleFailed(ctx context.Context, batchID uint, batchErr string) (int64, error) {
	n, err := e.recipientRepo.FailPendingByBatch(ctx, batchID, "batch failed: "+batchErr)
	if err != nil {
		return 0, fmt.Errorf("fail pending recipients: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	counts, err := e.recipientRepo.CountsByBatch(ctx, batchID)
	if err != nil {
		return n, fmt.Errorf("count recipients: %w", err)
	}
	if err := e.batchRepo.UpdateCounters(ctx, batchID, counts); err != nil {
		return n, fmt.Errorf("update counters: %w", err)
	}
	deliveriesSettledTotal.Add(float64(n))
	return n, nil
}
