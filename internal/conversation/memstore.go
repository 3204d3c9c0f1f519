package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type channelKey struct {
	orgID    int64
	platform Platform
}

// MemoryStore is a mutex-guarded implementation of every repository port. It backs tests
// and the "memory" storage driver.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // by id
	sessions      map[string]string        // session id -> conversation id
	messages      map[string][]Message     // by conversation id
	externalIDs   map[string]map[string]int
	channels      map[channelKey]Channel
	integrations  map[channelKey]Integration
	takeovers     map[string]Takeover
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		sessions:      make(map[string]string),
		messages:      make(map[string][]Message),
		externalIDs:   make(map[string]map[string]int),
		channels:      make(map[channelKey]Channel),
		integrations:  make(map[channelKey]Integration),
		takeovers:     make(map[string]Takeover),
		now:           time.Now,
	}
}

func (s *MemoryStore) UpsertConversation(ctx context.Context, in UpsertInput) (Conversation, error) {
	if in.SessionID == "" {
		return Conversation{}, fmt.Errorf("session id is required")
	}
	at := in.At
	if at.IsZero() {
		at = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.sessions[in.SessionID]; ok {
		conv := s.conversations[id]
		if !IsPlaceholderName(in.Platform, in.CustomerContact, in.CustomerName) ||
			IsPlaceholderName(conv.Platform, conv.CustomerContact, conv.CustomerName) {
			if in.CustomerName != "" {
				conv.CustomerName = in.CustomerName
			}
		}
		if at.After(conv.UpdatedAt) {
			conv.UpdatedAt = at
		}
		return *conv, nil
	}

	conv := &Conversation{
		ID:              uuid.NewString(),
		SessionID:       in.SessionID,
		Platform:        in.Platform,
		CustomerName:    in.CustomerName,
		CustomerContact: in.CustomerContact,
		OrganizationID:  in.OrganizationID,
		Status:          StatusActive,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
	s.conversations[conv.ID] = conv
	s.sessions[in.SessionID] = conv.ID
	return *conv, nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return *conv, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, in AppendInput) (Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[in.ConversationID]; !ok {
		return Message{}, false, fmt.Errorf("append to conversation %s: %w", in.ConversationID, ErrNotFound)
	}

	log := s.messages[in.ConversationID]
	if in.ExternalID != "" {
		if idx, seen := s.externalIDs[in.ConversationID][in.ExternalID]; seen {
			return log[idx], false, nil
		}
	}

	at := in.At
	if at.IsZero() {
		at = s.now()
	}
	if n := len(log); n > 0 && at.Before(log[n-1].CreatedAt) {
		at = log[n-1].CreatedAt
	}

	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: in.ConversationID,
		Sender:         in.Sender,
		Content:        in.Content,
		ExternalID:     in.ExternalID,
		CreatedAt:      at,
	}
	s.messages[in.ConversationID] = append(log, msg)
	if in.ExternalID != "" {
		if s.externalIDs[in.ConversationID] == nil {
			s.externalIDs[in.ConversationID] = make(map[string]int)
		}
		s.externalIDs[in.ConversationID][in.ExternalID] = len(log)
	}
	return msg, true, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.messages[conversationID]
	out := make([]Message, len(log))
	copy(out, log)
	return out, nil
}

func (s *MemoryStore) FindEnabledChannel(ctx context.Context, orgID int64, platform Platform) (*Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[channelKey{orgID, platform}]
	if !ok || !ch.Enabled {
		return nil, nil
	}
	return &ch, nil
}

func (s *MemoryStore) GetTakeover(ctx context.Context, conversationID string) (*Takeover, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.takeovers[conversationID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *MemoryStore) GetIntegration(ctx context.Context, orgID int64, platform Platform) (*Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.integrations[channelKey{orgID, platform}]
	if !ok {
		return nil, nil
	}
	return &in, nil
}

// PutChannel stores channel configuration, replacing any previous row for the same
// organization and platform.
func (s *MemoryStore) PutChannel(ch Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[channelKey{ch.OrganizationID, ch.Platform}] = ch
}

// PutIntegration stores provider credentials.
func (s *MemoryStore) PutIntegration(in Integration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.integrations[channelKey{in.OrganizationID, in.Platform}] = in
}

// PutTakeover records a takeover; the latest one wins.
func (s *MemoryStore) PutTakeover(t Takeover) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.takeovers[t.ConversationID] = t
}

// SetStatus changes a conversation's status, as the CRM does when an agent closes or
// reopens it.
func (s *MemoryStore) SetStatus(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.Status = status
	return nil
}

// ConversationCount is the number of stored conversations.
func (s *MemoryStore) ConversationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

// FindBySession returns the conversation for a session id.
func (s *MemoryStore) FindBySession(sessionID string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.sessions[sessionID]
	if !ok {
		return Conversation{}, false
	}
	return *s.conversations[id], true
}

var _ Store = (*MemoryStore)(nil)
