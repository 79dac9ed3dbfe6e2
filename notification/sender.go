package notification

import (
	"bytes"
	"context"
	"crypto/tls"
	_ "embed"
	"fmt"
	"html/template"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"campaign-tracker/models"

	"github.com/google/uuid"
	"github.com/jordan-wright/email"
)

//go:embed templates/notification.html
var notificationHTML string

var notificationTemplate = template.Must(template.New("notification").Parse(notificationHTML))

// Sender delivers mail through the SMTP endpoint of a batch and archives the
// sent copy over IMAP.
type Sender struct {
	archiveMailbox string
	archiveTimeout time.Duration

	// deliver and archive are swapped out in tests
	deliver func(batch models.Batch, e *email.Email) error
	archive func(ctx context.Context, batch models.Batch, mailbox string, raw []byte, timeout time.Duration) error
}

func NewSender(archiveMailbox string, archiveTimeout time.Duration) *Sender {
	if archiveMailbox == "" {
		archiveMailbox = "Sent"
	}
	if archiveTimeout <= 0 {
		archiveTimeout = 20 * time.Second
	}
	return &Sender{
		archiveMailbox: archiveMailbox,
		archiveTimeout: archiveTimeout,
		deliver:        deliverSMTP,
		archive:        appendToMailbox,
	}
}

// SendEmail sends an HTML message and returns its raw bytes for archiving.
// If ctx ends before the SMTP exchange finishes the error wraps
// models.ErrDeliveryUnknown: the message may or may not have gone out.
func (s *Sender) SendEmail(ctx context.Context, batch models.Batch, to []string, subject, body string) ([]byte, error) {
	e, err := buildEmail(batch, to, subject, body)
	if err != nil {
		return nil, err
	}

	raw, err := e.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to build email: %w", err)
	}

	// net/smtp has no context support. A stalled server keeps this goroutine
	// until the process exits, which is acceptable for the short-lived dispatch
	// command; the caller only learns the outcome is unknown.
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.deliver(batch, e)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("failed to send email: %w", err)
		}
		return raw, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", models.ErrDeliveryUnknown, ctx.Err())
	}
}

// ArchiveSent appends raw to the batch's sent mailbox. Batches without an IMAP
// host are skipped.
func (s *Sender) ArchiveSent(ctx context.Context, batch models.Batch, raw []byte) error {
	if batch.IMAPHost == "" {
		return nil
	}
	return s.archive(ctx, batch, s.archiveMailbox, raw, s.archiveTimeout)
}

// SendNotification renders the open-notification template and sends it.
func (s *Sender) SendNotification(ctx context.Context, batch models.Batch, to []string, subject string, data map[string]interface{}) error {
	var body bytes.Buffer
	if err := notificationTemplate.Execute(&body, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	_, err := s.SendEmail(ctx, batch, to, subject, body.String())
	return err
}

func buildEmail(batch models.Batch, to []string, subject, body string) (*email.Email, error) {
	if batch.SenderEmail == "" {
		return nil, fmt.Errorf("%w: batch %s has no sender address", models.ErrMissingCredentials, batch.Sheet)
	}

	e := email.NewEmail()
	from := mail.Address{Name: batch.SenderName, Address: strings.TrimSpace(batch.SenderEmail)}
	e.From = from.String()
	for _, addr := range to {
		e.To = append(e.To, strings.TrimSpace(addr))
	}
	e.Subject = strings.TrimSpace(subject)
	e.HTML = []byte(body)

	// pin the headers Bytes() would otherwise regenerate on every call, so the
	// archived copy matches what went out
	e.Headers = textproto.MIMEHeader{}
	e.Headers.Set("Date", time.Now().Format(time.RFC1123Z))
	e.Headers.Set("Message-Id", fmt.Sprintf("<%s@%s>", uuid.NewString(), senderDomain(batch.SenderEmail)))
	return e, nil
}

func deliverSMTP(batch models.Batch, e *email.Email) error {
	addr := net.JoinHostPort(batch.SMTPHost, strconv.Itoa(batch.SMTPPort))
	auth := smtp.PlainAuth("", batch.SenderEmail, batch.Password, batch.SMTPHost)
	tlsConfig := &tls.Config{
		ServerName: batch.SMTPHost,
		MinVersion: tls.VersionTLS12,
	}

	switch batch.SMTPSecurity {
	case "ssl":
		return e.SendWithTLS(addr, auth, tlsConfig)
	case "starttls":
		return e.SendWithStartTLS(addr, auth, tlsConfig)
	default:
		return e.Send(addr, auth)
	}
}

func senderDomain(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return strings.TrimSpace(addr[i+1:])
	}
	return "localhost"
}
