// Package messaging contains the outbound provider clients: Kakao alimtalk
// through Solapi, transactional email through Postmark, and the Telegram
// monitoring channel.
package messaging

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// Channel names the delivery route of a message.
type Channel string

const (
	ChannelAlimtalk Channel = "alimtalk"
	ChannelEmail    Channel = "email"
	ChannelNone     Channel = ""
)

// Message is one outbound notification to one recipient.
type Message struct {
	Event     string
	To        string
	Subject   string
	Text      string
	Variables map[string]string
}

// Result describes an accepted message.
type Result struct {
	MessageID string
	Mock      bool
}

// Sender delivers a message over one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) (Result, error)
}

// Monitor mirrors a copy of outbound traffic to an operator channel.
type Monitor interface {
	Mirror(ctx context.Context, text string) error
}

var (
	ErrNotConfigured  = errors.New("provider not configured")
	ErrEmptyRecipient = errors.New("recipient required")
	ErrUnknownEvent   = errors.New("no provider template for event")
)

func mockID(now time.Time) string {
	return "mock_" + strconv.FormatInt(now.UnixMilli(), 10)
}
