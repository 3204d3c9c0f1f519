package conversation

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups by id when the row does not exist.
var ErrNotFound = errors.New("not found")

type UpsertInput struct {
	SessionID       string
	Platform        Platform
	OrganizationID  int64
	CustomerName    string
	CustomerContact string
	At              time.Time
}

type AppendInput struct {
	ConversationID string
	Sender         SenderType
	Content        string
	ExternalID     string
	At             time.Time
}

// ConversationRepo creates or refreshes the single conversation for a session.
type ConversationRepo interface {
	UpsertConversation(ctx context.Context, in UpsertInput) (Conversation, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
}

// MessageRepo is the append-only message log. AppendMessage reports appended=false and
// returns the stored message when ExternalID was already recorded for the conversation.
type MessageRepo interface {
	AppendMessage(ctx context.Context, in AppendInput) (msg Message, appended bool, err error)
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
}

// ChannelRepo returns nil, nil when the organization has no enabled channel for platform.
type ChannelRepo interface {
	FindEnabledChannel(ctx context.Context, orgID int64, platform Platform) (*Channel, error)
}

// TakeoverRepo returns the latest takeover for a conversation, or nil.
type TakeoverRepo interface {
	GetTakeover(ctx context.Context, conversationID string) (*Takeover, error)
}

// IntegrationRepo returns nil, nil when no credentials are stored.
type IntegrationRepo interface {
	GetIntegration(ctx context.Context, orgID int64, platform Platform) (*Integration, error)
}

// Store bundles every port; both the in-memory and Postgres stores implement it.
type Store interface {
	ConversationRepo
	MessageRepo
	ChannelRepo
	TakeoverRepo
	IntegrationRepo
}
