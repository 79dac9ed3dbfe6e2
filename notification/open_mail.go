package notification

import (
	"context"
	"fmt"
	"time"

	"campaign-tracker/models"
)

// OpenMailNotifier emails an operator whenever a recipient opens a message.
type OpenMailNotifier struct {
	sender *Sender
	batch  models.Batch
	to     []string
}

// NewOpenMailNotifier sends through batch's SMTP identity.
func NewOpenMailNotifier(sender *Sender, batch models.Batch, to []string) *OpenMailNotifier {
	return &OpenMailNotifier{sender: sender, batch: batch, to: to}
}

func (n *OpenMailNotifier) NotifyOpen(ctx context.Context, event models.OpenEvent) error {
	subject := fmt.Sprintf("📧 %s opened your email", event.Email)

	data := map[string]interface{}{
		"Recipient":    event.Email,
		"EmailSubject": event.Subject,
		"Sheet":        event.Sheet,
		"Row":          event.Row,
		"SentAt":       event.SentAt,
		"OpenedAt":     event.OpenedAt.Format(models.TimestampLayout),
		"IPAddress":    event.IPAddress,
		"UserAgent":    event.UserAgent,
		"Year":         time.Now().Year(),
	}

	return n.sender.SendNotification(ctx, n.batch, n.to, subject, data)
}
