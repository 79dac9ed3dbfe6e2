package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"campaign-tracker/lock"
	"campaign-tracker/models"
	"campaign-tracker/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSheet = "Nana_Mails"

var campaignHeader = []string{
	"Name", "Email ID", "Subject", "Message", "Schedule Date & Time",
	"Status", "Timestamp", "Open?", "Open Timestamp",
}

// column positions in campaignHeader, 1-based
const (
	colStatus    = 6
	colTimestamp = 7
)

var now = time.Date(2024, 1, 1, 10, 0, 5, 0, time.UTC)

func pendingRow(name, email, schedule string) []string {
	return []string{name, email, "Hello", "<p>Welcome aboard</p>", schedule, "", "", "", ""}
}

type sentMessage struct {
	batch   string
	to      []string
	subject string
	body    string
}

type fakeMailer struct {
	mu       sync.Mutex
	sent     []sentMessage
	archived int

	err error
	// onSend runs before the send decides its outcome
	onSend func()
	// block makes sends wait for ctx to end
	block bool
}

func (m *fakeMailer) SendEmail(ctx context.Context, batch models.Batch, to []string, subject, body string) ([]byte, error) {
	if m.onSend != nil {
		m.onSend()
	}
	if m.block {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %v", models.ErrDeliveryUnknown, ctx.Err())
	}
	if m.err != nil {
		return nil, m.err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{batch: batch.Sheet, to: to, subject: subject, body: body})
	return []byte("raw message"), nil
}

func (m *fakeMailer) ArchiveSent(ctx context.Context, batch models.Batch, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archived++
	return nil
}

func (m *fakeMailer) Sent() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

func testBatch(sheet string) models.Batch {
	return models.Batch{
		Sheet:       sheet,
		SenderEmail: "nana@example.com",
		SMTPHost:    "smtp.example.com",
		SMTPPort:    465,
		IMAPHost:    "imap.example.com",
		Password:    "secret",
		Timezone:    time.UTC,
	}
}

func newTestDispatcher(t *testing.T, mailer *fakeMailer, opts Options, rows ...[]string) (*Dispatcher, *store.MemoryGrid) {
	t.Helper()

	st, grid := store.NewMemoryStore(map[string][][]string{
		testSheet: append([][]string{campaignHeader}, rows...),
	})
	if opts.BaseURL == "" {
		opts.BaseURL = "https://track.example.com"
	}
	d := NewDispatcher(st, nil, mailer, opts)
	d.SetClock(func() time.Time { return now })
	return d, grid
}

func TestDispatchSendsDueRow(t *testing.T) {
	mailer := &fakeMailer{}
	d, grid := newTestDispatcher(t, mailer, Options{},
		pendingRow("Asha Rao", "asha@example.com", "01/01/2024 10:00:00"))

	summaries, err := d.Run(context.Background(), []models.Batch{testBatch(testSheet)})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries[0].Sent)

	sent := mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"asha@example.com"}, sent[0].to)
	assert.Equal(t, "Hello", sent[0].subject)
	assert.True(t, strings.HasPrefix(sent[0].body, "Hi <b>Asha</b>,<br><br><p>Welcome aboard</p><img"))
	assert.Contains(t, sent[0].body, "row=2")
	assert.Contains(t, sent[0].body, "t=1704103205")
	assert.Equal(t, 1, mailer.archived)

	assert.Equal(t, "Mail Sent Successfully", grid.Cell(testSheet, 2, colStatus))
	sentAt, err := time.ParseInLocation(models.TimestampLayout, grid.Cell(testSheet, 2, colTimestamp), time.UTC)
	require.NoError(t, err)
	assert.False(t, sentAt.Before(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)))
}

func TestDispatchRerunDoesNotResend(t *testing.T) {
	mailer := &fakeMailer{}
	d, _ := newTestDispatcher(t, mailer, Options{},
		pendingRow("Asha", "asha@example.com", "01/01/2024 10:00:00"))
	batches := []models.Batch{testBatch(testSheet)}

	_, err := d.Run(context.Background(), batches)
	require.NoError(t, err)
	summaries, err := d.Run(context.Background(), batches)
	require.NoError(t, err)

	assert.Len(t, mailer.Sent(), 1)
	assert.Equal(t, 0, summaries[0].Sent)
}

func TestDispatchInvalidSchedule(t *testing.T) {
	mailer := &fakeMailer{}
	d, grid := newTestDispatcher(t, mailer, Options{},
		pendingRow("Asha", "asha@example.com", "31/02/2024 25:00"),
		pendingRow("Ravi", "ravi@example.com", "tomorrow"))

	summary, err := d.DispatchBatch(context.Background(), testBatch(testSheet))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Invalid)
	assert.Empty(t, mailer.Sent())
	assert.Equal(t, "Invalid Schedule", grid.Cell(testSheet, 2, colStatus))
	assert.Equal(t, "Invalid Schedule", grid.Cell(testSheet, 3, colStatus))

	// terminal; a later pass leaves them alone
	summary, err = d.DispatchBatch(context.Background(), testBatch(testSheet))
	require.NoError(t, err)
	assert.Equal(t, Summary{Batch: testSheet}, summary)
}

func TestDispatchFutureRowUntouched(t *testing.T) {
	mailer := &fakeMailer{}
	d, grid := newTestDispatcher(t, mailer, Options{},
		pendingRow("Asha", "asha@example.com", "01-01-2024 11:00:00"))

	summary, err := d.DispatchBatch(context.Background(), testBatch(testSheet))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.NotDue)
	assert.Empty(t, mailer.Sent())
	assert.Equal(t, "", grid.Cell(testSheet, 2, colStatus))
	assert.Equal(t, 0, grid.Writes())
}

func TestDispatchLateWindow(t *testing.T) {
	row := pendingRow("Asha", "asha@example.com", "01/01/2024 09:00:00")

	mailer := &fakeMailer{}
	d, grid := newTestDispatcher(t, mailer, Options{}, row)
	summary, err := d.DispatchBatch(context.Background(), testBatch(testSheet))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Expired)
	assert.Empty(t, mailer.Sent())
	assert.Equal(t, "Skipped - Schedule Expired", grid.Cell(testSheet, 2, colStatus))

	mailer = &fakeMailer{}
	d, grid = newTestDispatcher(t, mailer, Options{Manual: true}, row)
	summary, err = d.DispatchBatch(context.Background(), testBatch(testSheet))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, "Mail Sent Successfully", grid.Cell(testSheet, 2, colStatus))

	// a negative window sends however late the row is
	mailer = &fakeMailer{}
	d, grid = newTestDispatcher(t, mailer, Options{LateWindow: -1}, row)
	summary, err = d.DispatchBatch(context.Background(), testBatch(testSheet))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, "Mail Sent Successfully", grid.Cell(testSheet, 2, colStatus))
}

func TestDispatchDefaultLateWindow(t *testing.T) {
	mailer := &fakeMailer{}
	d, grid := newTestDispatcher(t, mailer, Options{},
		pendingRow("Asha", "asha@example.com", "01/01/2024 09:55:06"),
		pendingRow("Ravi", "ravi@example.com", "01/01/2024 09:55:04"))

	summary, err := d.DispatchBatch(context.Background(), testBatch(testSheet))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 1, summary.Expired)
	assert.Equal(t, "Mail Sent Successfully", grid.Cell(testSheet, 2, colStatus))
	assert.Equal(t, "Skipped - Schedule Expired", grid.Cell(testSheet, 3, colStatus))
}

func TestDispatchMissingFields(t *testing.T) {
	mailer := &fakeMailer{}
	d, grid := newTestDispatcher(t, mailer, Options{},
		pendingRow("", "asha@example.com", "01/01/2024 10:00:00"),
		pendingRow("Ravi", "", "01/01/2024 10:00:00"),
		pendingRow("Meena", "not-an-address", "01/01/2024 10:00:00"))

	summary, err := d.DispatchBatch(context.Background(), testBatch(testSheet))
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Failed)
	assert.Empty(t, mailer.Sent())
	assert.Equal(t, "Failed to Send: missing recipient name", grid.Cell(testSheet, 2, colStatus))
	assert.Equal(t, "Failed to Send: missing recipient address", grid.Cell(testSheet, 3, colStatus))
	assert.Equal(t, "Failed to Send: invalid recipient address", grid.Cell(testSheet, 4, colStatus))
}

func TestDispatchSendFailure(t *testing.T) {
	mailer := &fakeMailer{err: errors.New("550 mailbox unavailable")}
	d, grid := newTestDispatcher(t, mailer, Options{},
		pendingRow("Asha", "asha@example.com", "01/01/2024 10:00:00"))

	summary, err := d.DispatchBatch(context.Background(), testBatch(testSheet))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, "Failed to Send: 550 mailbox unavailable", grid.Cell(testSheet, 2, colStatus))
	assert.Equal(t, "", grid.Cell(testSheet, 2, colTimestamp))
}

func TestDispatchSendTimeoutIsInterrupted(t *testing.T) {
	mailer := &fakeMailer{block: true}
	d, grid := newTestDispatcher(t, mailer, Options{SendTimeout: 20 * time.Millisecond},
		pendingRow("Asha", "asha@example.com", "01/01/2024 10:00:00"))

	summary, err := d.DispatchBatch(context.Background(), testBatch(testSheet))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Interrupted)
	assert.Equal(t, "Interrupted - Check Delivery", grid.Cell(testSheet, 2, colStatus))
	assert.Equal(t, "01-01-2024 10:00:05", grid.Cell(testSheet, 2, colTimestamp))
}

func TestDispatchCancelledMidBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mailer := &fakeMailer{block: true, onSend: cancel}
	d, grid := newTestDispatcher(t, mailer, Options{},
		pendingRow("Asha", "asha@example.com", "01/01/2024 10:00:00"),
		pendingRow("Ravi", "ravi@example.com", "01/01/2024 10:00:00"))

	summary, err := d.DispatchBatch(ctx, testBatch(testSheet))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Interrupted)
	// the final flush still lands after cancellation
	assert.Equal(t, "Interrupted - Check Delivery", grid.Cell(testSheet, 2, colStatus))
	assert.Equal(t, "", grid.Cell(testSheet, 3, colStatus))
}

func TestDispatchGroupsStatusWrites(t *testing.T) {
	var rows [][]string
	for i := 0; i < 5; i++ {
		rows = append(rows, pendingRow("Asha", fmt.Sprintf("asha%d@example.com", i), "01/01/2024 10:00:00"))
	}

	mailer := &fakeMailer{}
	d, grid := newTestDispatcher(t, mailer, Options{WriteBatchSize: 2}, rows...)

	summary, err := d.DispatchBatch(context.Background(), testBatch(testSheet))
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Sent)

	// one claim per row, then terminal statuses in groups of 2, 2 and 1
	assert.Equal(t, 5+3, grid.Writes())
	for row := 2; row <= 6; row++ {
		assert.Equal(t, "Mail Sent Successfully", grid.Cell(testSheet, row, colStatus))
	}
}

func TestDispatchSkipsLockedBatch(t *testing.T) {
	st, grid := store.NewMemoryStore(map[string][][]string{
		testSheet: {campaignHeader, pendingRow("Asha", "asha@example.com", "01/01/2024 10:00:00")},
	})
	locker := lock.NewMemoryLocker()
	mailer := &fakeMailer{}
	d := NewDispatcher(st, locker, mailer, Options{BaseURL: "https://track.example.com"})
	d.SetClock(func() time.Time { return now })

	_, ok, err := locker.TryLock(context.Background(), lock.DispatchKey(testSheet), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	summary, err := d.DispatchBatch(context.Background(), testBatch(testSheet))
	require.NoError(t, err)
	assert.True(t, summary.Locked)
	assert.Empty(t, mailer.Sent())
	assert.Equal(t, 0, grid.Writes())
}

// claimStore loses every conditional claim.
type claimStore struct {
	*store.GridStore
}

func (c claimStore) MarkOpened(ctx context.Context, sheet string, row int, openedAt string) (bool, error) {
	return false, nil
}

func (c claimStore) ClaimRow(ctx context.Context, sheet string, row int) (bool, error) {
	return false, nil
}

func TestDispatchClaimLost(t *testing.T) {
	st, _ := store.NewMemoryStore(map[string][][]string{
		testSheet: {campaignHeader, pendingRow("Asha", "asha@example.com", "01/01/2024 10:00:00")},
	})
	mailer := &fakeMailer{}
	d := NewDispatcher(claimStore{st}, nil, mailer, Options{BaseURL: "https://track.example.com"})
	d.SetClock(func() time.Time { return now })

	summary, err := d.DispatchBatch(context.Background(), testBatch(testSheet))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ClaimLost)
	assert.Empty(t, mailer.Sent())
}

func TestRunIsolatesBatches(t *testing.T) {
	st, grid := store.NewMemoryStore(map[string][][]string{
		"A": {campaignHeader, pendingRow("Asha", "asha@example.com", "01/01/2024 10:00:00")},
		"B": {campaignHeader, pendingRow("Ravi", "ravi@example.com", "01/01/2024 10:00:00")},
	})
	mailer := &fakeMailer{}
	d := NewDispatcher(st, nil, mailer, Options{BaseURL: "https://track.example.com", ParallelBatches: 2})
	d.SetClock(func() time.Time { return now })

	summaries, err := d.Run(context.Background(), []models.Batch{testBatch("A"), testBatch("Missing"), testBatch("B")})
	require.Error(t, err)
	assert.True(t, models.IsSheetNotFound(err))

	require.Len(t, summaries, 3)
	assert.Equal(t, 1, summaries[0].Sent)
	assert.Equal(t, 1, summaries[2].Sent)
	assert.Len(t, mailer.Sent(), 2)
	assert.Equal(t, "Mail Sent Successfully", grid.Cell("A", 2, colStatus))
	assert.Equal(t, "Mail Sent Successfully", grid.Cell("B", 2, colStatus))
}

func TestSummaryString(t *testing.T) {
	s := Summary{Batch: "A", Sent: 2, Failed: 1}
	assert.Equal(t, "A: sent=2 failed=1 invalid=0 expired=0 interrupted=0 not_due=0 claim_lost=0 errors=0", s.String())
	assert.Contains(t, Summary{Batch: "A", Locked: true}.String(), "locked")
}
