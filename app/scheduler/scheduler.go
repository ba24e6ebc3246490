// Package scheduler runs the background delivery of due mass-message batches and single scheduled messages
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/amirphl/massdispatch/models"
	"github.com/amirphl/massdispatch/repository"
	"github.com/amirphl/massdispatch/utils"
	"github.com/robfig/cron/v3"
)

var (
	ErrAlreadyRunning = errors.New("scheduler is already running")
	ErrNotRunning     = errors.New("scheduler is not running")
)

// Options configures the scheduler loop
type Options struct {
	Interval        time.Duration
	RunOnStart      bool
	BatchClaimLimit int
	// Lease is how long a processing batch may go without a heartbeat before recovery takes it over
	Lease time.Duration
	// RecoverySpec is the cron spec of the stale-claim recovery job; empty disables it
	RecoverySpec string
}

// TickReport describes the work done by one tick
type TickReport struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Skipped    bool      `json:"skipped"`

	LegacyDue     int `json:"legacy_due"`
	LegacySent    int `json:"legacy_sent"`
	LegacyFailed  int `json:"legacy_failed"`
	LegacySkipped int `json:"legacy_skipped"`

	BatchesDue       int `json:"batches_due"`
	BatchesClaimed   int `json:"batches_claimed"`
	BatchesCompleted int `json:"batches_completed"`
	BatchesFailed    int `json:"batches_failed"`
	BatchesCancelled int `json:"batches_cancelled"`
	BatchesResumed   int `json:"batches_resumed"`
	MessagesSent     int `json:"messages_sent"`
	MessagesFailed   int `json:"messages_failed"`

	// RecipientsSettled counts pending recipients of failed batches marked failed by recovery
	RecipientsSettled int `json:"recipients_settled"`

	Errors []string `json:"errors,omitempty"`
}

func (r *TickReport) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Status is a snapshot of the scheduler state
type Status struct {
	Running        bool          `json:"running"`
	Ticking        bool          `json:"ticking"`
	Interval       time.Duration `json:"interval"`
	TickCount      int64         `json:"tick_count"`
	LastTickAt     *time.Time    `json:"last_tick_at,omitempty"`
	LastRecoveryAt *time.Time    `json:"last_recovery_at,omitempty"`
	LastReport     *TickReport   `json:"last_report,omitempty"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
}

// Scheduler owns the polling loop. It is created once by the process entry point and handed
// to whatever needs to start, stop, inspect or trigger it.
type Scheduler struct {
	batchRepo repository.MassMessageBatchRepository
	executor  *DeliveryExecutor
	legacy    *LegacyProcessor
	lock      TickLock
	logger    *log.Logger
	opts      Options
	now       func() time.Time

	// tickMu serializes ticks and recovery runs within the process
	tickMu sync.Mutex

	mu             sync.Mutex
	running        bool
	ticking        bool
	ctx            context.Context
	cancel         context.CancelFunc
	done           chan struct{}
	trigger        chan struct{}
	cron           *cron.Cron
	startedAt      *time.Time
	tickCount      int64
	lastTickAt     *time.Time
	lastRecoveryAt *time.Time
	lastReport     *TickReport
}

// New creates a scheduler. lock may be nil, in which case no cross-replica lock is taken.
func New(
	batchRepo repository.MassMessageBatchRepository,
	executor *DeliveryExecutor,
	legacy *LegacyProcessor,
	lock TickLock,
	logger *log.Logger,
	opts Options,
) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = utils.DefaultSchedulerInterval
	}
	if opts.BatchClaimLimit <= 0 {
		opts.BatchClaimLimit = utils.DefaultBatchClaimLimit
	}
	if opts.Lease <= 0 {
		opts.Lease = utils.DefaultProcessingLease
	}
	if lock == nil {
		lock = NewNoopTickLock()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		batchRepo: batchRepo,
		executor:  executor,
		legacy:    legacy,
		lock:      lock,
		logger:    logger,
		opts:      opts,
		now:       utils.UTCNow,
	}
}

// Start launches the polling loop and the recovery job in the background
func (s *Scheduler) Start(parent context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(parent)

	var c *cron.Cron
	if s.opts.RecoverySpec != "" {
		c = cron.New(cron.WithLocation(time.UTC))
		if _, err := c.AddFunc(s.opts.RecoverySpec, func() { s.runRecovery(ctx) }); err != nil {
			cancel()
			return fmt.Errorf("invalid recovery spec %q: %w", s.opts.RecoverySpec, err)
		}
		c.Start()
	}

	s.running = true
	s.ctx = ctx
	s.cancel = cancel
	s.cron = c
	s.done = make(chan struct{})
	s.trigger = make(chan struct{}, 1)
	s.startedAt = utils.ToPtr(s.now())

	go s.loop(ctx, s.done, s.trigger)

	s.logger.Printf("scheduler: started interval=%s claim_limit=%d lease=%s recovery=%q",
		s.opts.Interval, s.opts.BatchClaimLimit, s.opts.Lease, s.opts.RecoverySpec)
	return nil
}

// Stop cancels the loop and waits for the current tick to return. A batch interrupted
// mid-delivery stays processing and is resumed by recovery later.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done, c := s.cancel, s.done, s.cron
	s.running = false
	s.ctx = nil
	s.cancel = nil
	s.cron = nil
	s.mu.Unlock()

	cancel()
	if c != nil {
		<-c.Stop().Done()
	}
	<-done

	s.logger.Printf("scheduler: stopped")
	return nil
}

// Status returns a snapshot of the scheduler state
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:        s.running,
		Ticking:        s.ticking,
		Interval:       s.opts.Interval,
		TickCount:      s.tickCount,
		LastTickAt:     s.lastTickAt,
		LastRecoveryAt: s.lastRecoveryAt,
		LastReport:     s.lastReport,
		StartedAt:      s.startedAt,
	}
}

// TriggerNow asks the running loop for an immediate tick without blocking. It returns false
// when the scheduler is not running. Requests made while a tick is pending coalesce.
func (s *Scheduler) TriggerNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	select {
	case s.trigger <- struct{}{}:
	default:
	}
	return true
}

// RunNow processes all due work synchronously, waiting for any tick already in progress.
// The tick keeps the values of ctx but not its deadline or cancellation: only Stop interrupts
// it, the same as a tick of the loop.
func (s *Scheduler) RunNow(ctx context.Context) (*TickReport, error) {
	runCtx, cancel := s.detach(ctx)
	defer cancel()
	return s.tick(runCtx)
}

// detach derives a context from ctx that is cancelled by Stop instead of by the caller
func (s *Scheduler) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	lifecycle := s.ctx
	s.mu.Unlock()
	if lifecycle == nil {
		return runCtx, cancel
	}

	stop := context.AfterFunc(lifecycle, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *Scheduler) loop(ctx context.Context, done chan<- struct{}, trigger <-chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	if s.opts.RunOnStart {
		s.tickLogged(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickLogged(ctx)
		case <-trigger:
			s.tickLogged(ctx)
		}
	}
}

func (s *Scheduler) tickLogged(ctx context.Context) {
	if _, err := s.tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Printf("scheduler: tick failed: %v", err)
	}
}

// tick runs the legacy phase and then the batch phase. Every unit is handled best-effort:
// its failure is recorded on the unit and in the report, never stopping the tick.
func (s *Scheduler) tick(ctx context.Context) (*TickReport, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	report := &TickReport{StartedAt: s.now()}
	s.setTicking(true)
	defer func() {
		report.FinishedAt = s.now()
		s.finishTick(report)
	}()

	release, ok, err := s.lock.Acquire(ctx)
	if err != nil {
		// claims stay atomic without the lock
		s.logger.Printf("scheduler: tick lock unavailable, continuing without it: %v", err)
		release, ok = func() {}, true
	}
	if !ok {
		report.Skipped = true
		schedulerTicksTotal.WithLabelValues("skipped").Inc()
		return report, nil
	}
	defer release()

	start := time.Now()
	defer func() { schedulerTickDuration.Observe(time.Since(start).Seconds()) }()

	s.runLegacyPhase(ctx, report)
	err = s.runBatchPhase(ctx, report)

	outcome := "ok"
	if err != nil || len(report.Errors) > 0 {
		outcome = "error"
	}
	schedulerTicksTotal.WithLabelValues(outcome).Inc()
	return report, err
}

func (s *Scheduler) runLegacyPhase(ctx context.Context, report *TickReport) {
	if s.legacy == nil {
		return
	}
	lr, err := s.legacy.ProcessDue(ctx)
	if lr != nil {
		report.LegacyDue = lr.Due
		report.LegacySent = lr.Sent
		report.LegacyFailed = lr.Failed
		report.LegacySkipped = lr.Skipped
		if lr.Errors > 0 {
			report.addError("%d scheduled messages could not be processed", lr.Errors)
		}
	}
	if err != nil {
		report.addError("legacy phase: %v", err)
		s.logger.Printf("scheduler: legacy phase failed: %v", err)
	}
}

func (s *Scheduler) runBatchPhase(ctx context.Context, report *TickReport) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	due, err := s.batchRepo.ListDue(ctx, s.now(), s.opts.BatchClaimLimit)
	if err != nil {
		report.addError("list due batches: %v", err)
		return fmt.Errorf("list due batches: %w", err)
	}
	report.BatchesDue = len(due)

	for _, b := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		claimed, err := s.batchRepo.ClaimScheduled(ctx, b.ID, s.now())
		if err != nil {
			report.addError("claim batch id=%d: %v", b.ID, err)
			s.logger.Printf("scheduler: claim batch id=%d failed: %v", b.ID, err)
			continue
		}
		if claimed == nil {
			// another worker claimed it, or it was cancelled
			continue
		}
		report.BatchesClaimed++
		s.executeBatch(ctx, claimed, report)
	}
	return nil
}

func (s *Scheduler) executeBatch(ctx context.Context, batch *models.MassMessageBatch, report *TickReport) {
	outcome, err := s.executor.Execute(ctx, batch)
	if outcome != nil {
		report.MessagesSent += outcome.Sent
		report.MessagesFailed += outcome.Failed
		switch outcome.Status {
		case models.BatchStatusCompleted:
			report.BatchesCompleted++
		case models.BatchStatusFailed:
			report.BatchesFailed++
		case models.BatchStatusCancelled:
			report.BatchesCancelled++
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		report.addError("batch id=%d: %v", batch.ID, err)
		s.logger.Printf("scheduler: process batch id=%d failed: %v", batch.ID, err)
	}
}

// RecoverStale settles work whose owner stopped heartbeating: stale batches are taken over
// and resumed from their pending recipients, stale single messages are failed. Failed batches
// that still own pending recipients get those recipients failed.
func (s *Scheduler) RecoverStale(ctx context.Context) (*TickReport, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	report := &TickReport{StartedAt: s.now()}
	cutoff := s.now().Add(-s.opts.Lease)

	if s.legacy != nil {
		if _, err := s.legacy.FailStale(ctx, cutoff); err != nil {
			report.addError("fail stale scheduled messages: %v", err)
			s.logger.Printf("scheduler: fail stale scheduled messages: %v", err)
		}
	}

	stale, err := s.batchRepo.ListStale(ctx, cutoff, s.opts.BatchClaimLimit)
	if err != nil {
		report.FinishedAt = s.now()
		return report, fmt.Errorf("list stale batches: %w", err)
	}

	for _, b := range stale {
		if ctx.Err() != nil {
			break
		}
		claimed, err := s.batchRepo.ClaimStale(ctx, b.ID, cutoff, s.now())
		if err != nil {
			report.addError("reclaim batch id=%d: %v", b.ID, err)
			continue
		}
		if claimed == nil {
			continue
		}
		s.logger.Printf("scheduler: resuming stale batch id=%d", claimed.ID)
		report.BatchesResumed++
		s.executeBatch(ctx, claimed, report)
	}

	s.settleFailedBatches(ctx, report)

	report.FinishedAt = s.now()
	return report, ctx.Err()
}

func (s *Scheduler) settleFailedBatches(ctx context.Context, report *TickReport) {
	if ctx.Err() != nil {
		return
	}
	failed, err := s.batchRepo.ListFailedWithPending(ctx, s.opts.BatchClaimLimit)
	if err != nil {
		report.addError("list failed batches: %v", err)
		s.logger.Printf("scheduler: list failed batches with pending recipients: %v", err)
		return
	}
	for _, b := range failed {
		reason := "unknown error"
		if b.ErrorMessage != nil {
			reason = *b.ErrorMessage
		}
		n, err := s.executor.SettleFailed(ctx, b.ID, reason)
		report.RecipientsSettled += int(n)
		if err != nil {
			report.addError("settle failed batch id=%d: %v", b.ID, err)
			s.logger.Printf("scheduler: settle failed batch id=%d: %v", b.ID, err)
			continue
		}
		s.logger.Printf("scheduler: settled %d pending recipients of failed batch id=%d", n, b.ID)
	}
}

func (s *Scheduler) runRecovery(ctx context.Context) {
	report, err := s.RecoverStale(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Printf("scheduler: recovery failed: %v", err)
	}
	if report != nil && report.BatchesResumed > 0 {
		s.logger.Printf("scheduler: recovery resumed %d batches", report.BatchesResumed)
	}
	s.mu.Lock()
	s.lastRecoveryAt = utils.ToPtr(s.now())
	s.mu.Unlock()
}

func (s *Scheduler) setTicking(v bool) {
	s.mu.Lock()
	s.ticking = v
	s.mu.Unlock()
}

func (s *Scheduler) finishTick(report *TickReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticking = false
	s.tickCount++
	s.lastTickAt = utils.ToPtr(report.FinishedAt)
	s.lastReport = report
}
