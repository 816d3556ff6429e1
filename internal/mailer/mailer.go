// Package mailer delivers the confirmation and password-reset emails.
//
// Request handlers only ever call a Dispatcher, which must return without
// waiting for SMTP. Delivery happens either in-process (AsyncDispatcher) or
// in the mail worker fed through Kafka (KafkaDispatcher).
package mailer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrQueueFull        = errors.New("mail queue is full")
	ErrDispatcherClosed = errors.New("mail dispatcher is closed")
	ErrUnknownKind      = errors.New("unknown mail kind")
)

// Kind selects the email template
type Kind string

const (
	KindConfirmEmail  Kind = "confirm_email"
	KindResetPassword Kind = "reset_password"
)

// Message is one transactional email
type Message struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	To        string    `json:"to"`
	Username  string    `json:"username"`
	Host      string    `json:"host"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage creates a message with a fresh ID
func NewMessage(kind Kind, to, username, host, token string) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Kind:      kind,
		To:        to,
		Username:  username,
		Host:      host,
		Token:     token,
		CreatedAt: time.Now().UTC(),
	}
}

// Dispatcher hands a message off for delivery without blocking on it
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *Message) error
}

// Sender delivers a message synchronously
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}
