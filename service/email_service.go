package service

import (
	"context"
	"fmt"
	"html"
	"time"

	"campaign-tracker/models"
	"campaign-tracker/tracker"
)

// Mailer delivers a message for a batch and files the sent copy.
type Mailer interface {
	SendEmail(ctx context.Context, batch models.Batch, to []string, subject, body string) ([]byte, error)
	ArchiveSent(ctx context.Context, batch models.Batch, raw []byte) error
}

type EmailService struct {
	mailer  Mailer
	baseURL string
}

func NewEmailService(mailer Mailer, baseURL string) *EmailService {
	return &EmailService{
		mailer:  mailer,
		baseURL: baseURL,
	}
}

// RenderBody greets the recipient by first name ahead of the row's message.
func RenderBody(row *models.CampaignRow) string {
	return fmt.Sprintf("Hi <b>%s</b>,<br><br>%s", html.EscapeString(row.FirstName()), row.Message)
}

// SendTrackedEmail renders the row, embeds its tracking pixel and sends it.
// sentAt is stamped into the tracking reference. The raw message is returned
// for archiving.
func (s *EmailService) SendTrackedEmail(ctx context.Context, batch models.Batch, row *models.CampaignRow, sentAt time.Time) ([]byte, error) {
	trackingURL, err := tracker.TrackingURL(s.baseURL, row.Sheet, row.Row, row.Email, sentAt)
	if err != nil {
		return nil, fmt.Errorf("failed to build tracking url: %w", err)
	}

	// Embed tracking pixel in email body
	trackedBody, err := tracker.EmbedTrackingPixel(RenderBody(row), trackingURL)
	if err != nil {
		return nil, fmt.Errorf("failed to embed tracking pixel: %w", err)
	}

	return s.mailer.SendEmail(ctx, batch, []string{row.Email}, row.Subject, trackedBody)
}
