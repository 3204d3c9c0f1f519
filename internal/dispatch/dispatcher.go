// Package dispatch sends replies through the originating provider and records them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/omnirouter/internal/conversation"
	"github.com/omnirouter/internal/logging"
	output "github.com/omnirouter/internal/provider_output"
)

// recordTimeout bounds the append of a delivered reply. It runs detached from the send
// deadline, which the provider call may have used up.
const recordTimeout = 5 * time.Second

var (
	// ErrUnsupportedPlatform is returned for platforms without an outbound sender (voice).
	ErrUnsupportedPlatform = errors.New("platform has no outbound sender")
	// ErrMissingCredentials is returned when the organization has no usable integration.
	// Senders wrap the same value.
	ErrMissingCredentials = output.ErrMissingCredentials
	// ErrRecordFailed means the provider accepted the reply but it could not be appended to
	// the log. The reply must not be sent again.
	ErrRecordFailed = errors.New("reply delivered but not recorded")
)

// Reply is one outbound message for a conversation.
type Reply struct {
	Conversation conversation.Conversation
	Text         string
	Sender       conversation.SenderType // AI or AGENT
}

// Dispatcher delivers replies and appends them to the log only after the provider accepted
// them.
type Dispatcher struct {
	senders  map[conversation.Platform]output.Sender
	messages conversation.MessageRepo
	logger   logging.Logger
	now      func() time.Time
}

func NewDispatcher(senders map[conversation.Platform]output.Sender, messages conversation.MessageRepo, logger logging.Logger) *Dispatcher {
	return &Dispatcher{
		senders:  senders,
		messages: messages,
		logger:   logging.Component(logger, "dispatch"),
		now:      time.Now,
	}
}

// Send delivers reply.Text to the conversation's contact. On failure nothing is appended.
func (d *Dispatcher) Send(ctx context.Context, reply Reply, creds *conversation.Integration) error {
	conv := reply.Conversation
	sender, ok := d.senders[conv.Platform]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedPlatform, conv.Platform)
	}
	if creds == nil {
		return fmt.Errorf("%w: org=%d platform=%s", ErrMissingCredentials, conv.OrganizationID, conv.Platform)
	}

	if err := sender.Send(ctx, creds, conv.CustomerContact, reply.Text); err != nil {
		d.logger.Error().
			Err(err).
			Str("failure", "dispatch").
			Str("conversation_id", conv.ID).
			Str("platform", string(conv.Platform)).
			Msg("outbound send failed, reply not recorded")
		return err
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	sent, _, err := d.messages.AppendMessage(recordCtx, conversation.AppendInput{
		ConversationID: conv.ID,
		Sender:         reply.Sender,
		Content:        reply.Text,
		At:             d.now(),
	})
	if err != nil {
		return fmt.Errorf("%w: conversation %s: %w", ErrRecordFailed, conv.ID, err)
	}

	d.logger.Info().
		Str("conversation_id", conv.ID).
		Str("message_id", sent.ID).
		Str("sender", string(reply.Sender)).
		Msg("reply delivered")
	return nil
}

// Delivered reports whether the provider accepted the reply despite err.
func Delivered(err error) bool {
	return errors.Is(err, ErrRecordFailed)
}

// Permanent reports whether a dispatch error can never succeed on redelivery.
func Permanent(err error) bool {
	return errors.Is(err, ErrUnsupportedPlatform) || errors.Is(err, ErrMissingCredentials)
}
