package takeover

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnirouter/internal/conversation"
)

type failingRepo struct{}

func (failingRepo) GetTakeover(ctx context.Context, conversationID string) (*conversation.Takeover, error) {
	return nil, errors.New("db unavailable")
}

func TestIsActive_LifecycleFollowsClock(t *testing.T) {
	store := conversation.NewMemoryStore()
	arb := NewArbitrator(store)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	active, err := arb.IsActive(ctx, "conv-1", now)
	require.NoError(t, err)
	assert.False(t, active, "no record means no takeover")

	store.PutTakeover(conversation.Takeover{ConversationID: "conv-1", ExpiresAt: now.Add(15 * time.Minute), CreatedBy: "agent-7"})

	active, err = arb.IsActive(ctx, "conv-1", now)
	require.NoError(t, err)
	assert.True(t, active)

	active, err = arb.IsActive(ctx, "conv-1", now.Add(15*time.Minute))
	require.NoError(t, err)
	assert.False(t, active, "expired exactly at expiresAt")
}

func TestIsActive_PropagatesRepoError(t *testing.T) {
	_, err := NewArbitrator(failingRepo{}).IsActive(context.Background(), "c", time.Now())
	assert.Error(t, err)
}
