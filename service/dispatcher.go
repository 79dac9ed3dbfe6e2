package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"campaign-tracker/lock"
	"campaign-tracker/metrics"
	"campaign-tracker/models"
	"campaign-tracker/store"
	"campaign-tracker/utils"

	"golang.org/x/sync/errgroup"
)

// Outcome is what happened to one pending row during a pass.
type Outcome string

const (
	OutcomeSent        Outcome = "sent"
	OutcomeFailed      Outcome = "failed"
	OutcomeInvalid     Outcome = "invalid_schedule"
	OutcomeExpired     Outcome = "expired"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeNotDue      Outcome = "not_due"
	OutcomeClaimLost   Outcome = "claim_lost"
	OutcomeError       Outcome = "error"
)

// Summary counts the outcomes of one batch pass.
type Summary struct {
	Batch       string
	Sent        int
	Failed      int
	Invalid     int
	Expired     int
	Interrupted int
	NotDue      int
	ClaimLost   int
	Errors      int
	// Locked is set when another dispatcher held the batch lease.
	Locked bool
}

func (s *Summary) add(o Outcome) {
	switch o {
	case OutcomeSent:
		s.Sent++
	case OutcomeFailed:
		s.Failed++
	case OutcomeInvalid:
		s.Invalid++
	case OutcomeExpired:
		s.Expired++
	case OutcomeInterrupted:
		s.Interrupted++
	case OutcomeNotDue:
		s.NotDue++
	case OutcomeClaimLost:
		s.ClaimLost++
	case OutcomeError:
		s.Errors++
	}
}

func (s Summary) String() string {
	if s.Locked {
		return fmt.Sprintf("%s: skipped, batch locked by another dispatcher", s.Batch)
	}
	return fmt.Sprintf("%s: sent=%d failed=%d invalid=%d expired=%d interrupted=%d not_due=%d claim_lost=%d errors=%d",
		s.Batch, s.Sent, s.Failed, s.Invalid, s.Expired, s.Interrupted, s.NotDue, s.ClaimLost, s.Errors)
}

type Options struct {
	BaseURL  string
	Location *time.Location
	// LateWindow bounds how far past its schedule a row is still sent. Zero
	// selects five minutes; a negative value disables the bound.
	LateWindow time.Duration
	// Manual sends overdue rows regardless of LateWindow.
	Manual          bool
	SendTimeout     time.Duration
	ArchiveTimeout  time.Duration
	StoreTimeout    time.Duration
	WriteBatchSize  int
	ParallelBatches int
	LockTTL         time.Duration
	ScheduleLayouts []string
}

// Dispatcher sends due rows of each batch and records the outcome in the store.
type Dispatcher struct {
	store  store.RowStore
	locker lock.Locker
	mailer Mailer
	emails *EmailService
	opts   Options
	now    func() time.Time

	archives sync.WaitGroup
}

func NewDispatcher(st store.RowStore, locker lock.Locker, mailer Mailer, opts Options) *Dispatcher {
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.LateWindow == 0 {
		opts.LateWindow = 5 * time.Minute
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	if opts.ArchiveTimeout <= 0 {
		opts.ArchiveTimeout = 20 * time.Second
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 15 * time.Second
	}
	if opts.WriteBatchSize <= 0 {
		opts.WriteBatchSize = 20
	}
	if opts.ParallelBatches <= 0 {
		opts.ParallelBatches = 1
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Minute
	}

	return &Dispatcher{
		store:  st,
		locker: locker,
		mailer: mailer,
		emails: NewEmailService(mailer, opts.BaseURL),
		opts:   opts,
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Run dispatches every batch, ParallelBatches at a time. A failing batch does
// not stop the others; their errors are joined.
func (d *Dispatcher) Run(ctx context.Context, batches []models.Batch) ([]Summary, error) {
	summaries := make([]Summary, len(batches))
	errs := make([]error, len(batches))

	var g errgroup.Group
	g.SetLimit(d.opts.ParallelBatches)
	for i, batch := range batches {
		g.Go(func() error {
			summaries[i], errs[i] = d.DispatchBatch(ctx, batch)
			return nil
		})
	}
	g.Wait()
	d.archives.Wait()

	return summaries, errors.Join(errs...)
}

// DispatchBatch runs one pass over the pending rows of batch.
func (d *Dispatcher) DispatchBatch(ctx context.Context, batch models.Batch) (Summary, error) {
	summary := Summary{Batch: batch.Sheet}
	started := time.Now()
	defer func() {
		metrics.ObserveBatchDuration(batch.Sheet, time.Since(started))
	}()

	lease, ok, err := d.locker.TryLock(ctx, lock.DispatchKey(batch.Sheet), d.opts.LockTTL)
	if err != nil {
		return summary, fmt.Errorf("failed to lock batch %s: %w", batch.Sheet, err)
	}
	if !ok {
		log.Printf("⏭️ Batch %s is being dispatched elsewhere, skipping", batch.Sheet)
		summary.Locked = true
		return summary, nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.Printf("WARNING: releasing dispatch lock for %s: %v", batch.Sheet, err)
		}
	}()

	loc := batch.Timezone
	if loc == nil {
		loc = d.opts.Location
	}

	rows, err := d.listPending(ctx, batch.Sheet)
	if err != nil {
		return summary, fmt.Errorf("failed to list rows of %s: %w", batch.Sheet, err)
	}
	log.Printf("📋 Batch %s: %d pending rows", batch.Sheet, len(rows))

	w := newStatusWriter(d.store, batch.Sheet, d.opts.WriteBatchSize, d.opts.StoreTimeout)
	for _, row := range rows {
		if ctx.Err() != nil {
			log.Printf("🛑 Batch %s cancelled, stopping before row %d", batch.Sheet, row.Row)
			break
		}

		outcome := d.processRow(ctx, batch, loc, row, w)
		summary.add(outcome)
		metrics.ObserveDispatch(batch.Sheet, string(outcome))
	}

	if err := w.Flush(ctx); err != nil {
		summary.Errors++
		return summary, err
	}

	log.Printf("✅ %s", summary)
	return summary, nil
}

func (d *Dispatcher) listPending(ctx context.Context, sheet string) ([]*models.CampaignRow, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.StoreTimeout)
	defer cancel()
	return d.store.ListPendingRows(ctx, sheet)
}

// processRow decides and acts on a single pending row. Terminal statuses go
// through w; the Processing claim is written immediately.
func (d *Dispatcher) processRow(ctx context.Context, batch models.Batch, loc *time.Location, row *models.CampaignRow, w *statusWriter) Outcome {
	queue := func(cells map[string]string) {
		if err := w.Queue(ctx, row.Row, cells); err != nil {
			log.Printf("❌ %v", err)
		}
	}

	if err := checkRecipient(row); err != nil {
		log.Printf("⛔ Row %d of %s not sendable: %v", row.Row, batch.Sheet, err)
		queue(statusCells(models.FailedStatus(err.Error())))
		return OutcomeFailed
	}

	due, err := ParseSchedule(row.ScheduledAt, loc, d.opts.ScheduleLayouts...)
	if err != nil {
		log.Printf("⛔ Row %d of %s: %v", row.Row, batch.Sheet, err)
		queue(statusCells(string(models.StatusInvalidSchedule)))
		return OutcomeInvalid
	}

	now := d.now().In(loc)
	late := now.Sub(due)
	if late < 0 {
		return OutcomeNotDue
	}
	if d.opts.LateWindow > 0 && late > d.opts.LateWindow && !d.opts.Manual {
		log.Printf("❌ Row %d of %s skipped, %s past schedule", row.Row, batch.Sheet, late.Round(time.Second))
		queue(statusCells(string(models.StatusExpired)))
		return OutcomeExpired
	}

	claimed, err := d.claim(ctx, batch.Sheet, row.Row)
	if err != nil {
		log.Printf("❌ Failed to claim row %d of %s: %v", row.Row, batch.Sheet, err)
		return OutcomeError
	}
	if !claimed {
		log.Printf("Row %d of %s already claimed, skipping", row.Row, batch.Sheet)
		return OutcomeClaimLost
	}

	sentAt := d.now().In(loc).Truncate(time.Second)
	timestamp := sentAt.Format(models.TimestampLayout)

	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	raw, err := d.emails.SendTrackedEmail(sendCtx, batch, row, sentAt)
	cancel()

	switch {
	case err == nil:
		log.Printf("📧 Sent row %d of %s to %s", row.Row, batch.Sheet, utils.MaskEmail(row.Email))
		queue(map[string]string{
			models.ColumnStatus:    string(models.StatusSent),
			models.ColumnTimestamp: timestamp,
		})
		d.archive(ctx, batch, raw)
		return OutcomeSent

	case models.IsDeliveryUnknown(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Printf("⚠️ Delivery of row %d of %s unknown: %v", row.Row, batch.Sheet, err)
		queue(map[string]string{
			models.ColumnStatus:    string(models.StatusInterrupted),
			models.ColumnTimestamp: timestamp,
		})
		return OutcomeInterrupted

	default:
		log.Printf("❌ Email to %s failed: %v", utils.MaskEmail(row.Email), err)
		queue(statusCells(models.FailedStatus(err.Error())))
		return OutcomeFailed
	}
}

// claim moves the row to Processing before anything is sent. Stores without a
// conditional write get a re-read first; the batch lease keeps other
// dispatchers away in between.
func (d *Dispatcher) claim(ctx context.Context, sheet string, row int) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.StoreTimeout)
	defer cancel()

	if cw, ok := d.store.(store.ConditionalWriter); ok {
		return cw.ClaimRow(ctx, sheet, row)
	}

	current, err := d.store.GetRow(ctx, sheet, row)
	if err != nil {
		return false, err
	}
	if current.SendStatus() != models.StatusUnset {
		return false, nil
	}

	err = d.store.UpdateCells(ctx, sheet, models.RowUpdate{
		Row:   row,
		Cells: statusCells(string(models.StatusProcessing)),
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// archive files the sent copy in the background. Failures are logged only.
func (d *Dispatcher) archive(ctx context.Context, batch models.Batch, raw []byte) {
	if batch.IMAPHost == "" || len(raw) == 0 {
		return
	}

	d.archives.Add(1)
	go func() {
		defer d.archives.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.ArchiveTimeout)
		defer cancel()

		if err := d.mailer.ArchiveSent(ctx, batch, raw); err != nil {
			log.Printf("WARNING: could not archive sent copy for %s: %v", batch.Sheet, err)
		}
	}()
}

// Wait blocks until background archiving has finished.
func (d *Dispatcher) Wait() {
	d.archives.Wait()
}

func checkRecipient(row *models.CampaignRow) error {
	switch {
	case row.Name == "":
		return models.ErrMissingName
	case row.Email == "":
		return models.ErrMissingRecipient
	case !utils.ValidateEmail(row.Email):
		return models.ErrInvalidRecipient
	}
	return nil
}

func statusCells(status string) map[string]string {
	return map[string]string{models.ColumnStatus: status}
}
