package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mrz1836/postmark"
)

var ErrFailedToSendEmail = errors.New("failed to send email")

// Email delivers notifications through Postmark for contacts that have an
// address but no phone number.
type Email struct {
	client *postmark.Client
	from   string
	Skip   bool
	log    *slog.Logger
	now    func() time.Time
}

// NewEmail creates a Postmark sender. An empty server token puts the sender
// in dev mode.
func NewEmail(serverToken, accountToken, from string, log *slog.Logger) *Email {
	if log == nil {
		log = slog.Default()
	}
	return &Email{
		client: postmark.NewClient(serverToken, accountToken),
		from:   from,
		Skip:   serverToken == "",
		log:    log,
		now:    time.Now,
	}
}

func (e *Email) Send(ctx context.Context, msg Message) (Result, error) {
	if msg.To == "" {
		return Result{}, ErrEmptyRecipient
	}
	if e.Skip {
		e.log.DebugContext(ctx, "postmark dev mode, not sending",
			slog.String("event_type", msg.Event), slog.String("to", msg.To))
		return Result{MessageID: mockID(e.now()), Mock: true}, nil
	}

	subject := msg.Subject
	if subject == "" {
		subject = msg.Event
	}
	resp, err := e.client.SendEmail(ctx, postmark.Email{
		From:     e.from,
		To:       msg.To,
		Subject:  subject,
		Tag:      msg.Event,
		TextBody: msg.Text,
	})
	if err != nil {
		return Result{}, errors.Join(ErrFailedToSendEmail, err)
	}
	if resp.ErrorCode > 0 {
		return Result{}, errors.Join(
			ErrFailedToSendEmail,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message),
		)
	}
	return Result{MessageID: resp.MessageID}, nil
}
