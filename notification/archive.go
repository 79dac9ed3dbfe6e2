package notification

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"campaign-tracker/models"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// appendToMailbox stores raw as a seen message in mailbox over IMAPS.
func appendToMailbox(ctx context.Context, batch models.Batch, mailbox string, raw []byte, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- imapAppend(batch, mailbox, raw, timeout)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return fmt.Errorf("imap archive for %s: %w", batch.Sheet, ctx.Err())
	}
}

func imapAppend(batch models.Batch, mailbox string, raw []byte, timeout time.Duration) error {
	port := batch.IMAPPort
	if port == 0 {
		port = 993
	}
	addr := net.JoinHostPort(batch.IMAPHost, strconv.Itoa(port))

	dialer := &net.Dialer{Timeout: timeout}
	c, err := client.DialWithDialerTLS(dialer, addr, &tls.Config{
		ServerName: batch.IMAPHost,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to imap %s: %w", addr, err)
	}
	defer c.Logout()
	c.Timeout = timeout

	if err := c.Login(batch.SenderEmail, batch.Password); err != nil {
		return fmt.Errorf("imap login: %w", err)
	}

	if err := c.Append(mailbox, []string{imap.SeenFlag}, time.Now(), bytes.NewBuffer(raw)); err != nil {
		return fmt.Errorf("imap append to %s: %w", mailbox, err)
	}
	return nil
}
