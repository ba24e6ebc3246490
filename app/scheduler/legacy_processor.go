package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/amirphl/massdispatch/app/services"
	"github.com/amirphl/massdispatch/models"
	"github.com/amirphl/massdispatch/repository"
	"github.com/amirphl/massdispatch/utils"
)

// StaleLegacyReason is recorded on single messages whose claim outlived the processing lease
const StaleLegacyReason = "delivery outcome unknown: processing lease expired"

// LegacyReport summarizes one pass over due single messages
type LegacyReport struct {
	Due     int
	Claimed int
	Sent    int
	Failed  int
	Skipped int
	Errors  int
}

// LegacyProcessor delivers due single-recipient scheduled messages
type LegacyProcessor struct {
	messageRepo repository.ScheduledMessageRepository
	contactRepo repository.ContactRepository
	channelRepo repository.ChannelRepository
	gateway     services.MessagingGateway
	logger      *log.Logger
	batchSize   int
	now         func() time.Time
}

// NewLegacyProcessor creates a new processor handling at most batchSize messages per pass
func NewLegacyProcessor(
	messageRepo repository.ScheduledMessageRepository,
	contactRepo repository.ContactRepository,
	channelRepo repository.ChannelRepository,
	gateway services.MessagingGateway,
	logger *log.Logger,
	batchSize int,
) *LegacyProcessor {
	if logger == nil {
		logger = log.Default()
	}
	if batchSize <= 0 {
		batchSize = utils.DefaultLegacyBatchSize
	}
	return &LegacyProcessor{
		messageRepo: messageRepo,
		contactRepo: contactRepo,
		channelRepo: channelRepo,
		gateway:     gateway,
		logger:      logger,
		batchSize:   batchSize,
		now:         utils.UTCNow,
	}
}

// ProcessDue claims and sends the oldest due pending messages. Each message is attempted once;
// a failure is recorded on the message and never stops the pass.
func (p *LegacyProcessor) ProcessDue(ctx context.Context) (*LegacyReport, error) {
	report := &LegacyReport{}

	due, err := p.messageRepo.ListDue(ctx, p.now(), p.batchSize)
	if err != nil {
		return report, fmt.Errorf("list due scheduled messages: %w", err)
	}
	report.Due = len(due)

	for _, m := range due {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		claimed, err := p.messageRepo.Claim(ctx, m.ID, p.now())
		if err != nil {
			report.Errors++
			p.logger.Printf("scheduler: claim scheduled message id=%d failed: %v", m.ID, err)
			continue
		}
		if claimed == nil {
			report.Skipped++
			continue
		}
		report.Claimed++

		if err := p.process(ctx, claimed, report); err != nil {
			report.Errors++
			p.logger.Printf("scheduler: scheduled message id=%d failed: %v", claimed.ID, err)
		}
	}

	return report, nil
}

// process sends one claimed message. The returned error is a repository failure; delivery
// problems are written to the message itself.
func (p *LegacyProcessor) process(ctx context.Context, msg *models.ScheduledMessage, report *LegacyReport) error {
	target, channel, err := p.prepare(ctx, msg)
	if err == nil {
		var res *services.SendResult
		res, err = p.gateway.SendText(ctx, channel, target, msg.Body)
		if err == nil {
			var gatewayID *string
			if res != nil && res.MessageID != "" {
				gatewayID = utils.ToPtr(res.MessageID)
			}
			if _, markErr := p.messageRepo.MarkSent(ctx, msg.ID, gatewayID, p.now()); markErr != nil {
				return markErr
			}
			report.Sent++
			deliveriesTotal.WithLabelValues("scheduled", string(models.ScheduledMessageStatusSent)).Inc()
			return nil
		}
	}

	if ctx.Err() != nil {
		// left in processing; the recovery job settles it
		return ctx.Err()
	}
	if _, markErr := p.messageRepo.MarkFailed(ctx, msg.ID, err.Error()); markErr != nil {
		return markErr
	}
	report.Failed++
	deliveriesTotal.WithLabelValues("scheduled", string(models.ScheduledMessageStatusFailed)).Inc()
	p.logger.Printf("scheduler: scheduled message id=%d not delivered: %v", msg.ID, err)
	return nil
}

// prepare resolves the destination and checks that the channel can send right now
func (p *LegacyProcessor) prepare(ctx context.Context, msg *models.ScheduledMessage) (string, *models.Channel, error) {
	target := ""
	if msg.ContactID != nil {
		contact, err := p.contactRepo.ByID(ctx, *msg.ContactID)
		if err != nil {
			return "", nil, fmt.Errorf("load contact %d: %w", *msg.ContactID, err)
		}
		if contact != nil {
			target = strings.TrimSpace(contact.Phone)
		}
	}
	if target == "" && msg.Phone != nil {
		target = strings.TrimSpace(*msg.Phone)
	}
	if target == "" {
		return "", nil, errors.New("no destination phone")
	}

	channel, err := p.channelRepo.ByID(ctx, msg.ChannelID)
	if err != nil {
		return "", nil, fmt.Errorf("load channel %d: %w", msg.ChannelID, err)
	}
	if channel == nil {
		return "", nil, fmt.Errorf("channel %d not found", msg.ChannelID)
	}

	state, err := p.gateway.ConnectionState(ctx, channel)
	if err != nil {
		return "", nil, fmt.Errorf("check channel connection: %w", err)
	}
	if !state.IsConnected() {
		return "", nil, fmt.Errorf("channel %s not connected (state=%s)", channel.InstanceName, state)
	}

	return target, channel, nil
}

// FailStale fails messages that have been processing since before cutoff
func (p *LegacyProcessor) FailStale(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := p.messageRepo.FailStaleProcessing(ctx, cutoff, StaleLegacyReason)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Printf("scheduler: failed %d stale scheduled messages", n)
	}
	return n, nil
}
