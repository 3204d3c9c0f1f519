package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/omnirouter/internal/conversation"
	"github.com/omnirouter/internal/logging"
	"github.com/omnirouter/internal/webhookutils"
)

var (
	// ErrUnknownPlatform is returned when no adapter is registered for a platform.
	ErrUnknownPlatform = errors.New("unknown platform")
	// ErrInvalidSignature is returned when a delivery fails authenticity checks.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrUnrecognizedPayload is returned when the envelope is not a known variant.
	ErrUnrecognizedPayload = errors.New("unrecognized webhook payload")
)

// InboundEvent is the canonical projection of one provider messaging event.
type InboundEvent struct {
	ProviderEventID   string
	ExternalContactID string
	ContactName       string // empty when the payload carries no name
	Text              string
	Timestamp         time.Time
}

// SkippedEvent records an event that could not be projected.
type SkippedEvent struct {
	Index  int
	Reason string
}

type ParseResult struct {
	Events  []InboundEvent
	Skipped []SkippedEvent
}

// Skip records an event that could not be projected.
func (r *ParseResult) Skip(index int, format string, args ...interface{}) {
	r.Skipped = append(r.Skipped, SkippedEvent{Index: index, Reason: fmt.Sprintf(format, args...)})
}

// Adapter translates one provider's webhook deliveries into canonical events.
type Adapter interface {
	Platform() conversation.Platform
	// VerifyHandshake answers the provider's GET subscription challenge.
	VerifyHandshake(query url.Values, creds *conversation.Integration) (challenge string, ok bool)
	// VerifySignature authenticates a POST delivery body.
	VerifySignature(header http.Header, body []byte, creds *conversation.Integration) error
	// ParseEvents fails only when the envelope itself is unrecognized; malformed
	// individual events are reported in ParseResult.Skipped.
	ParseEvents(body []byte) (ParseResult, error)
}

// ProfileFetcher resolves a contact's display name from the provider.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, creds *conversation.Integration, externalContactID string) (string, error)
}

// Registry maps platforms to adapters.
type Registry struct {
	adapters map[conversation.Platform]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[conversation.Platform]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for its platform.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Platform()] = a
}

func (r *Registry) Get(platform conversation.Platform) (Adapter, error) {
	a, ok := r.adapters[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}
	return a, nil
}

// Platforms returns the registered platforms in sorted order.
func (r *Registry) Platforms() []conversation.Platform {
	out := make([]conversation.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// VerifyMetaHandshake implements the hub.mode/hub.verify_token/hub.challenge scheme.
func VerifyMetaHandshake(query url.Values, creds *conversation.Integration) (string, bool) {
	if creds == nil || creds.VerifyToken == "" {
		return "", false
	}
	if query.Get("hub.mode") != "subscribe" {
		return "", false
	}
	if !webhookutils.TokensEqual(creds.VerifyToken, query.Get("hub.verify_token")) {
		return "", false
	}
	return query.Get("hub.challenge"), true
}

// VerifyMetaSignature checks X-Hub-Signature-256. Without an app secret the check is off.
func VerifyMetaSignature(header http.Header, body []byte, creds *conversation.Integration) error {
	if creds == nil || creds.AppSecret == "" {
		return nil
	}
	sig, _ := webhookutils.FirstHeader(header, "X-Hub-Signature-256")
	if err := webhookutils.VerifyHMACSHA256(creds.AppSecret, body, sig, "sha256="); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// ResolveDisplayName returns the payload name when present, else a profile lookup bounded by
// timeout, else the deterministic placeholder. It never fails.
func ResolveDisplayName(ctx context.Context, fetcher ProfileFetcher, creds *conversation.Integration, platform conversation.Platform, event InboundEvent, timeout time.Duration, logger logging.Logger) string {
	if name := strings.TrimSpace(event.ContactName); name != "" {
		return name
	}
	placeholder := conversation.PlaceholderName(platform, event.ExternalContactID)
	if fetcher == nil || creds == nil {
		return placeholder
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	name, err := fetcher.FetchProfile(ctx, creds, event.ExternalContactID)
	if err != nil {
		logging.OrNop(logger).Warn().
			Err(err).
			Str("failure", "profile_lookup").
			Str("platform", string(platform)).
			Str("contact", event.ExternalContactID).
			Msg("profile lookup failed, using placeholder name")
		return placeholder
	}
	if name = strings.TrimSpace(name); name == "" {
		return placeholder
	}
	return name
}
