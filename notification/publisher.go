package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"campaign-tracker/models"

	"github.com/streadway/amqp"
)

// EventPublisher puts committed opens on a durable AMQP queue.
type EventPublisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewEventPublisher(url, queue string) (*EventPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	return &EventPublisher{conn: conn, ch: ch, queue: queue}, nil
}

type openMessage struct {
	Sheet     string `json:"sheet"`
	Row       int    `json:"row"`
	Email     string `json:"email"`
	Subject   string `json:"subject,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	SentAt    string `json:"sent_at,omitempty"`
	OpenedAt  string `json:"opened_at"`
}

func encodeOpenEvent(event models.OpenEvent) ([]byte, error) {
	return json.Marshal(openMessage{
		Sheet:     event.Sheet,
		Row:       event.Row,
		Email:     event.Email,
		Subject:   event.Subject,
		UserAgent: event.UserAgent,
		IPAddress: event.IPAddress,
		SentAt:    event.SentAt,
		OpenedAt:  event.OpenedAt.Format(models.TimestampLayout),
	})
}

func (p *EventPublisher) NotifyOpen(ctx context.Context, event models.OpenEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := encodeOpenEvent(event)
	if err != nil {
		return fmt.Errorf("failed to encode open event: %w", err)
	}

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.Publish("", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.OpenedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish open event: %w", err)
	}
	return nil
}

func (p *EventPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}
