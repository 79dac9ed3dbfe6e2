package tracker

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"campaign-tracker/lock"
	"campaign-tracker/metrics"
	"campaign-tracker/models"
	"campaign-tracker/store"
	"campaign-tracker/utils"
)

// Options tune the open-tracking pipeline.
type Options struct {
	// MinOpenDelay rejects opens arriving sooner than this after the send.
	MinOpenDelay time.Duration
	// CountProxyOpens accepts hits from mail-provider image proxies as opens.
	CountProxyOpens bool
	LockTTL         time.Duration
	StoreTimeout    time.Duration
	NotifyTimeout   time.Duration
	Location        *time.Location
}

// Tracker decides whether a pixel request is a genuine open and records it.
type Tracker struct {
	store     store.RowStore
	locker    lock.Locker
	filter    *SignatureFilter
	opts      Options
	notifiers []OpenNotifier
	now       func() time.Time
	pending   sync.WaitGroup
}

func NewTracker(st store.RowStore, locker lock.Locker, filter *SignatureFilter, opts Options, notifiers ...OpenNotifier) *Tracker {
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	if filter == nil {
		filter = NewSignatureFilter(nil, nil)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 15 * time.Second
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 10 * time.Second
	}

	return &Tracker{
		store:     st,
		locker:    locker,
		filter:    filter,
		opts:      opts,
		notifiers: notifiers,
		now:       time.Now,
	}
}

// SetClock replaces the time source.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// ParseRequest extracts the tracking fields from a pixel request.
func (t *Tracker) ParseRequest(r *http.Request) models.OpenRequest {
	q := r.URL.Query()
	return models.OpenRequest{
		Sheet:      q.Get("sheet"),
		RawRow:     q.Get("row"),
		Email:      q.Get("email"),
		SentHint:   q.Get("t"),
		UserAgent:  r.UserAgent(),
		IPAddress:  utils.GetClientIP(r),
		ReceivedAt: t.now(),
		Method:     r.Method,
	}
}

// TrackEmailOpen runs the pipeline for one request and always answers with the
// pixel. The outcome is only visible in logs and metrics.
func (t *Tracker) TrackEmailOpen(w http.ResponseWriter, r *http.Request) {
	req := t.ParseRequest(r)

	// the commit must not be cut short by the mail client hanging up
	ctx := context.WithoutCancel(r.Context())
	decision, err := t.Decide(ctx, req)
	metrics.ObserveDecision(decision)

	switch {
	case err != nil:
		log.Printf("❌ Track error for %s row %s: %v", req.Sheet, req.RawRow, err)
	case decision.Recorded():
		log.Printf("📧 Email opened - sheet: %s, row: %s, email: %s, ip: %s",
			req.Sheet, req.RawRow, utils.MaskEmail(req.Email), req.IPAddress)
	default:
		log.Printf("Open ignored (%s) - sheet: %s, row: %s, ua: %q", decision, req.Sheet, req.RawRow, req.UserAgent)
	}

	WritePixel(w)
}

// Decide applies the ordered pipeline. The first matching rule wins. A non-nil
// error is only returned together with DecisionStoreError.
func (t *Tracker) Decide(ctx context.Context, req models.OpenRequest) (models.Decision, error) {
	sheet := strings.TrimSpace(req.Sheet)
	email := strings.TrimSpace(req.Email)
	row, err := strconv.Atoi(strings.TrimSpace(req.RawRow))
	if sheet == "" || email == "" || err != nil || row < 2 {
		return models.DecisionMissingFields, nil
	}
	if req.Method == http.MethodHead {
		return models.DecisionProbe, nil
	}

	switch t.filter.Classify(req.UserAgent) {
	case ClientAutomated:
		return models.DecisionAutomatedClient, nil
	case ClientImageProxy:
		if !t.opts.CountProxyOpens {
			return models.DecisionImageProxy, nil
		}
	}

	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = t.now()
	}

	ctx, cancel := context.WithTimeout(ctx, t.opts.StoreTimeout)
	defer cancel()

	rec, decision, err := t.lookup(ctx, sheet, row, email)
	if rec == nil {
		return decision, err
	}
	if d, ok := t.checkSent(rec, req); !ok {
		return d, nil
	}
	if rec.IsOpened() {
		return models.DecisionAlreadyOpened, nil
	}

	return t.commit(ctx, rec, req)
}

// lookup loads the row and verifies the claimed address against it.
func (t *Tracker) lookup(ctx context.Context, sheet string, row int, email string) (*models.CampaignRow, models.Decision, error) {
	rec, err := t.store.GetRow(ctx, sheet, row)
	switch {
	case models.IsRowNotFound(err), models.IsSheetNotFound(err):
		return nil, models.DecisionRowNotFound, nil
	case err != nil:
		return nil, models.DecisionStoreError, err
	}
	if !utils.SameAddress(rec.Email, email) {
		return nil, models.DecisionIdentityMismatch, nil
	}
	return rec, "", nil
}

// checkSent rejects rows that were never sent and opens arriving too soon.
func (t *Tracker) checkSent(rec *models.CampaignRow, req models.OpenRequest) (models.Decision, bool) {
	if rec.SendStatus() != models.StatusSent {
		return models.DecisionNotSent, false
	}

	sentAt, ok := rec.SentTime(t.opts.Location)
	if !ok {
		sentAt, ok = parseEpoch(req.SentHint)
	}
	if !ok {
		// nothing to measure against
		return "", true
	}

	elapsed := req.ReceivedAt.Sub(sentAt)
	if elapsed < 0 || elapsed < t.opts.MinOpenDelay {
		return models.DecisionPremature, false
	}
	return "", true
}

func (t *Tracker) commit(ctx context.Context, rec *models.CampaignRow, req models.OpenRequest) (models.Decision, error) {
	openedAt := req.ReceivedAt.In(t.opts.Location).Format(models.TimestampLayout)

	if cw, ok := t.store.(store.ConditionalWriter); ok {
		won, err := cw.MarkOpened(ctx, rec.Sheet, rec.Row, openedAt)
		if err != nil {
			return models.DecisionStoreError, err
		}
		if !won {
			return models.DecisionAlreadyOpened, nil
		}
		t.notify(rec, req)
		return models.DecisionRecorded, nil
	}

	lease, ok, err := t.locker.TryLock(ctx, lock.OpenKey(rec.Sheet, rec.Row), t.opts.LockTTL)
	if err != nil {
		return models.DecisionStoreError, err
	}
	if !ok {
		return models.DecisionInFlight, nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.Printf("WARNING: releasing open lock for %s row %d: %v", rec.Sheet, rec.Row, err)
		}
	}()

	// re-read under the lease; another request may have committed meanwhile
	current, err := t.store.GetRow(ctx, rec.Sheet, rec.Row)
	if err != nil {
		return models.DecisionStoreError, err
	}
	if current.IsOpened() {
		return models.DecisionAlreadyOpened, nil
	}

	err = t.store.UpdateCells(ctx, rec.Sheet, models.RowUpdate{
		Row: rec.Row,
		Cells: map[string]string{
			models.ColumnOpened:        models.OpenedYes,
			models.ColumnOpenTimestamp: openedAt,
		},
	})
	if err != nil {
		return models.DecisionStoreError, err
	}

	t.notify(current, req)
	return models.DecisionRecorded, nil
}

// notify fans the event out in the background; failures are only logged.
func (t *Tracker) notify(rec *models.CampaignRow, req models.OpenRequest) {
	if len(t.notifiers) == 0 {
		return
	}

	event := models.OpenEvent{
		Sheet:     rec.Sheet,
		Row:       rec.Row,
		Email:     rec.Email,
		Subject:   rec.Subject,
		UserAgent: req.UserAgent,
		IPAddress: req.IPAddress,
		SentAt:    rec.SentAt,
		OpenedAt:  req.ReceivedAt.In(t.opts.Location),
	}

	for _, n := range t.notifiers {
		t.pending.Add(1)
		go func(n OpenNotifier) {
			defer t.pending.Done()

			ctx, cancel := context.WithTimeout(context.Background(), t.opts.NotifyTimeout)
			defer cancel()

			if err := n.NotifyOpen(ctx, event); err != nil {
				log.Printf("Failed to send open notification: %v", err)
			}
		}(n)
	}
}

// Wait blocks until in-flight notifications have finished.
func (t *Tracker) Wait() {
	t.pending.Wait()
}

func parseEpoch(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}
