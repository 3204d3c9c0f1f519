package core_processor

import (
	"context"

	"github.com/omnirouter/internal/conversation"
	"github.com/omnirouter/internal/logging"
)

// UndeliveredReply is a reply the provider rejected. It is handed to an UndeliveredSink
// instead of being dropped.
type UndeliveredReply struct {
	ConversationID string                  `json:"conversation_id"`
	OrganizationID int64                   `json:"organization_id"`
	Platform       conversation.Platform   `json:"platform"`
	Text           string                  `json:"text"`
	Sender         conversation.SenderType `json:"sender"`
	Reason         string                  `json:"reason,omitempty"`
}

// UndeliveredSink receives replies that could not be delivered.
type UndeliveredSink interface {
	Enqueue(ctx context.Context, reply UndeliveredReply) error
}

// LogSink records undelivered replies in the log only. It is used when no durable queue is
// configured.
type LogSink struct {
	logger logging.Logger
}

func NewLogSink(logger logging.Logger) *LogSink {
	return &LogSink{logger: logging.Component(logger, "undelivered")}
}

func (s *LogSink) Enqueue(ctx context.Context, reply UndeliveredReply) error {
	s.logger.Error().
		Str("failure", "dispatch").
		Str("conversation_id", reply.ConversationID).
		Int64("org_id", reply.OrganizationID).
		Str("platform", string(reply.Platform)).
		Str("sender", string(reply.Sender)).
		Str("reason", reply.Reason).
		Str("text", reply.Text).
		Msg("reply undelivered and not queued for redelivery")
	return nil
}
