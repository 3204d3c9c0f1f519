// Package provider_output holds what the outbound senders share: per-organization rate
// limiting and the sender contract the dispatcher calls.
package provider_output

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/omnirouter/internal/conversation"
)

// ErrMissingCredentials is wrapped by senders whose integration lacks the token or account
// they need. No retry can fix it.
var ErrMissingCredentials = errors.New("missing provider credentials")

// Sender delivers one text reply to an external contact.
type Sender interface {
	Send(ctx context.Context, creds *conversation.Integration, recipient, text string) error
}

// RateConfig bounds outbound sends per organization.
type RateConfig struct {
	PerSecond float64 `koanf:"rate_per_second"`
	Burst     int     `koanf:"burst"`
}

// OrgLimiter hands out one token bucket per organization.
type OrgLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[int64]*rate.Limiter
}

// NewOrgLimiter creates a limiter; a non-positive rate disables limiting.
func NewOrgLimiter(cfg RateConfig) *OrgLimiter {
	limit := rate.Inf
	if cfg.PerSecond > 0 {
		limit = rate.Limit(cfg.PerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &OrgLimiter{limit: limit, burst: burst, limiters: make(map[int64]*rate.Limiter)}
}

// Wait blocks until the organization may send, or ctx is done.
func (l *OrgLimiter) Wait(ctx context.Context, orgID int64) error {
	if l == nil {
		return nil
	}
	return l.get(orgID).Wait(ctx)
}

func (l *OrgLimiter) get(orgID int64) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[orgID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[orgID] = lim
	}
	return lim
}
