package sms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OhMinsSup/jwc-platform-sub001/internal/dispatch"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/normalize"
)

// Message is the payload of an sms dispatch job.
type Message struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// Validate checks that the message can be handed to a provider.
func (m Message) Validate() error {
	if len(normalize.PhoneDigits(m.Phone)) < 9 {
		return fmt.Errorf("sms: invalid phone %q", m.Phone)
	}
	if strings.TrimSpace(m.Message) == "" {
		return errors.New("sms: empty message")
	}
	return nil
}

// Sender delivers one message. Implementations return an error for any
// failure the dispatch pool should retry.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Handler adapts a Sender to the sms dispatch pool.
func Handler(sender Sender) dispatch.Handler {
	return func(ctx context.Context, job dispatch.Job) error {
		var msg Message
		if err := job.Decode(&msg); err != nil {
			return err
		}
		if err := msg.Validate(); err != nil {
			return dispatch.Permanent(err)
		}
		msg.Phone = normalize.ParsePhone(msg.Phone)
		if err := sender.Send(ctx, msg); err != nil {
			return fmt.Errorf("%s send: %w", sender.Name(), err)
		}
		return nil
	}
}
