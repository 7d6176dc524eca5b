// Package kafka publishes reset-link emails to a Kafka topic consumed by a downstream mailer.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	writeTimeout = 5 * time.Second
	// EventPasswordReset is the type field of reset-link messages.
	EventPasswordReset = "password_reset"
)

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EmailMessage is the JSON payload written to the topic. The link carries a live reset token,
// so the topic must be readable only by the mailer.
type EmailMessage struct {
	Type   string    `json:"type"`
	To     string    `json:"to"`
	Link   string    `json:"link"`
	SentAt time.Time `json:"sentAt"`
}

// EmailPublisher implements notify.EmailSender using segmentio/kafka-go.
type EmailPublisher struct {
	writer messageWriter
	now    func() time.Time
}

// NewEmailPublisher creates a publisher that writes to topic. Returns nil when brokers or topic are
// empty so callers can fall back to another sink. Call Close when shutting down.
func NewEmailPublisher(brokers []string, topic string) *EmailPublisher {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newEmailPublisher(writer, time.Now)
}

func newEmailPublisher(w messageWriter, now func() time.Time) *EmailPublisher {
	return &EmailPublisher{writer: w, now: now}
}

// SendResetLink writes one message keyed by recipient so a recipient's messages stay ordered.
func (p *EmailPublisher) SendResetLink(ctx context.Context, email, link string) error {
	payload, err := json.Marshal(EmailMessage{
		Type:   EventPasswordReset,
		To:     email,
		Link:   link,
		SentAt: p.now().UTC(),
	})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(email),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(EventPasswordReset)},
		},
	})
}

// Close closes the Kafka writer. Safe to call on a nil publisher.
func (p *EmailPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
