// Package takeover answers whether a human agent currently owns a conversation.
package takeover

import (
	"context"
	"fmt"
	"time"

	"github.com/omnirouter/internal/conversation"
)

// Arbitrator reads takeover records on every call; expiry is evaluated lazily against the
// supplied instant and nothing is cached.
type Arbitrator struct {
	repo conversation.TakeoverRepo
}

func NewArbitrator(repo conversation.TakeoverRepo) *Arbitrator {
	return &Arbitrator{repo: repo}
}

// IsActive reports whether the latest takeover for the conversation expires after now.
func (a *Arbitrator) IsActive(ctx context.Context, conversationID string, now time.Time) (bool, error) {
	t, err := a.repo.GetTakeover(ctx, conversationID)
	if err != nil {
		return false, fmt.Errorf("read takeover for %s: %w", conversationID, err)
	}
	return t.Active(now), nil
}
