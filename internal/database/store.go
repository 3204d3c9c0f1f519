package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omnirouter/internal/conversation"
)

// Store implements the conversation repository ports on Postgres.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Pool exposes the underlying pool for components sharing the connection (job queue).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

const conversationColumns = `id::text, session_id, platform, customer_name, customer_contact, organization_id, status, created_at, updated_at`

// The name is refreshed only when the incoming name is a real one or the stored one is
// still the placeholder.
const upsertConversationSQL = `
INSERT INTO conversations (id, session_id, platform, customer_name, customer_contact, organization_id, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, 'ACTIVE', $7, $7)
ON CONFLICT (session_id) DO UPDATE SET
    customer_name = CASE
        WHEN EXCLUDED.customer_name <> '' AND ($8 OR conversations.customer_name = '' OR conversations.customer_name = $9)
        THEN EXCLUDED.customer_name
        ELSE conversations.customer_name
    END,
    updated_at = GREATEST(conversations.updated_at, EXCLUDED.updated_at)
RETURNING ` + conversationColumns

func (s *Store) UpsertConversation(ctx context.Context, in conversation.UpsertInput) (conversation.Conversation, error) {
	if in.SessionID == "" {
		return conversation.Conversation{}, fmt.Errorf("session id is required")
	}
	at := in.At
	if at.IsZero() {
		at = s.now()
	}
	realName := !conversation.IsPlaceholderName(in.Platform, in.CustomerContact, in.CustomerName)

	row := s.pool.QueryRow(ctx, upsertConversationSQL,
		uuid.NewString(), in.SessionID, string(in.Platform), in.CustomerName, in.CustomerContact,
		in.OrganizationID, at, realName, conversation.PlaceholderName(in.Platform, in.CustomerContact))
	conv, err := scanConversation(row)
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("upsert conversation %s: %w", in.SessionID, err)
	}
	return conv, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (conversation.Conversation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return conversation.Conversation{}, conversation.ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return conversation.Conversation{}, conversation.ErrNotFound
	}
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return conv, nil
}

func scanConversation(row pgx.Row) (conversation.Conversation, error) {
	var (
		c        conversation.Conversation
		platform string
		status   string
	)
	if err := row.Scan(&c.ID, &c.SessionID, &platform, &c.CustomerName, &c.CustomerContact,
		&c.OrganizationID, &status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return conversation.Conversation{}, err
	}
	c.Platform = conversation.Platform(platform)
	c.Status = conversation.Status(status)
	return c, nil
}

// created_at never precedes the conversation's latest message; a repeated provider event
// id inserts nothing.
const appendMessageSQL = `
INSERT INTO messages (id, conversation_id, sender, content, external_id, created_at)
SELECT $1, $2, $3, $4, $5,
       GREATEST($6::timestamptz, COALESCE((SELECT max(created_at) FROM messages WHERE conversation_id = $2), $6::timestamptz))
ON CONFLICT (conversation_id, external_id) WHERE external_id IS NOT NULL DO NOTHING
RETURNING created_at`

const messageColumns = `id::text, conversation_id::text, sender, content, COALESCE(external_id, ''), created_at`

func (s *Store) AppendMessage(ctx context.Context, in conversation.AppendInput) (conversation.Message, bool, error) {
	if _, err := uuid.Parse(in.ConversationID); err != nil {
		return conversation.Message{}, false, fmt.Errorf("append to conversation %s: %w", in.ConversationID, conversation.ErrNotFound)
	}
	at := in.At
	if at.IsZero() {
		at = s.now()
	}
	var externalID *string
	if in.ExternalID != "" {
		externalID = &in.ExternalID
	}

	msg := conversation.Message{
		ID:             uuid.NewString(),
		ConversationID: in.ConversationID,
		Sender:         in.Sender,
		Content:        in.Content,
		ExternalID:     in.ExternalID,
	}
	err := s.pool.QueryRow(ctx, appendMessageSQL,
		msg.ID, in.ConversationID, string(in.Sender), in.Content, externalID, at).Scan(&msg.CreatedAt)
	if err == nil {
		return msg, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return conversation.Message{}, false, fmt.Errorf("append message to %s: %w", in.ConversationID, err)
	}

	existing, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = $1 AND external_id = $2`,
		in.ConversationID, in.ExternalID))
	if err != nil {
		return conversation.Message{}, false, fmt.Errorf("load duplicate message %s: %w", in.ExternalID, err)
	}
	return existing, false, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	if _, err := uuid.Parse(conversationID); err != nil {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = $1 ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []conversation.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func scanMessage(row pgx.Row) (conversation.Message, error) {
	var (
		m      conversation.Message
		sender string
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &sender, &m.Content, &m.ExternalID, &m.CreatedAt); err != nil {
		return conversation.Message{}, err
	}
	m.Sender = conversation.SenderType(sender)
	return m, nil
}

func (s *Store) FindEnabledChannel(ctx context.Context, orgID int64, platform conversation.Platform) (*conversation.Channel, error) {
	var (
		ch           conversation.Channel
		platformName string
		mode         string
		agentCode    *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT organization_id, platform, enabled, mode, assistai_agent_code
		FROM channels
		WHERE organization_id = $1 AND platform = $2 AND enabled
		ORDER BY updated_at DESC
		LIMIT 1`, orgID, string(platform)).Scan(&ch.OrganizationID, &platformName, &ch.Enabled, &mode, &agentCode)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find channel org=%d platform=%s: %w", orgID, platform, err)
	}
	ch.Platform = conversation.Platform(platformName)
	ch.Mode = conversation.ChannelMode(mode)
	if agentCode != nil {
		ch.AssistAIAgentCode = *agentCode
	}
	return &ch, nil
}

func (s *Store) GetTakeover(ctx context.Context, conversationID string) (*conversation.Takeover, error) {
	if _, err := uuid.Parse(conversationID); err != nil {
		return nil, nil
	}
	var t conversation.Takeover
	err := s.pool.QueryRow(ctx, `
		SELECT conversation_id::text, expires_at, created_by
		FROM takeovers
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, conversationID).Scan(&t.ConversationID, &t.ExpiresAt, &t.CreatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get takeover for %s: %w", conversationID, err)
	}
	return &t, nil
}

func (s *Store) GetIntegration(ctx context.Context, orgID int64, platform conversation.Platform) (*conversation.Integration, error) {
	var (
		in           conversation.Integration
		platformName string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT organization_id, platform, access_token, account_id, verify_token, app_secret, from_address
		FROM integrations
		WHERE organization_id = $1 AND platform = $2`, orgID, string(platform)).
		Scan(&in.OrganizationID, &platformName, &in.AccessToken, &in.AccountID, &in.VerifyToken, &in.AppSecret, &in.FromAddress)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get integration org=%d platform=%s: %w", orgID, platform, err)
	}
	in.Platform = conversation.Platform(platformName)
	return &in, nil
}

var _ conversation.Store = (*Store)(nil)
