package providers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnirouter/internal/conversation"
	"github.com/omnirouter/internal/logging"
	"github.com/omnirouter/internal/webhookutils"
)

type stubAdapter struct{ platform conversation.Platform }

func (s stubAdapter) Platform() conversation.Platform { return s.platform }
func (s stubAdapter) VerifyHandshake(url.Values, *conversation.Integration) (string, bool) {
	return "", false
}
func (s stubAdapter) VerifySignature(http.Header, []byte, *conversation.Integration) error {
	return nil
}
func (s stubAdapter) ParseEvents([]byte) (ParseResult, error) { return ParseResult{}, nil }

type stubFetcher struct {
	name string
	err  error
}

func (s stubFetcher) FetchProfile(ctx context.Context, creds *conversation.Integration, id string) (string, error) {
	return s.name, s.err
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(stubAdapter{conversation.PlatformVoice}, stubAdapter{conversation.PlatformEmail})

	a, err := r.Get(conversation.PlatformEmail)
	require.NoError(t, err)
	assert.Equal(t, conversation.PlatformEmail, a.Platform())

	_, err = r.Get(conversation.PlatformWhatsApp)
	assert.ErrorIs(t, err, ErrUnknownPlatform)

	assert.Equal(t, []conversation.Platform{conversation.PlatformEmail, conversation.PlatformVoice}, r.Platforms())
}

func TestVerifyMetaHandshake(t *testing.T) {
	creds := &conversation.Integration{VerifyToken: "tok"}
	q := url.Values{"hub.mode": {"subscribe"}, "hub.verify_token": {"tok"}, "hub.challenge": {"42"}}

	challenge, ok := VerifyMetaHandshake(q, creds)
	assert.True(t, ok)
	assert.Equal(t, "42", challenge)

	_, ok = VerifyMetaHandshake(q, nil)
	assert.False(t, ok)

	q.Set("hub.verify_token", "other")
	_, ok = VerifyMetaHandshake(q, creds)
	assert.False(t, ok)

	q.Set("hub.verify_token", "tok")
	q.Set("hub.mode", "unsubscribe")
	_, ok = VerifyMetaHandshake(q, creds)
	assert.False(t, ok)
}

func TestVerifyMetaSignature(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)
	creds := &conversation.Integration{AppSecret: "shh"}

	h := http.Header{}
	h.Set("X-Hub-Signature-256", "sha256="+webhookutils.SignHMACSHA256("shh", body))
	assert.NoError(t, VerifyMetaSignature(h, body, creds))

	h.Set("X-Hub-Signature-256", "sha256="+webhookutils.SignHMACSHA256("wrong", body))
	assert.ErrorIs(t, VerifyMetaSignature(h, body, creds), ErrInvalidSignature)

	assert.ErrorIs(t, VerifyMetaSignature(http.Header{}, body, creds), ErrInvalidSignature)
	assert.NoError(t, VerifyMetaSignature(http.Header{}, body, &conversation.Integration{}))
}

func TestResolveDisplayName(t *testing.T) {
	creds := &conversation.Integration{AccessToken: "t"}
	ev := InboundEvent{ExternalContactID: "c1"}
	ctx := context.Background()

	named := ev
	named.ContactName = "  Ana  "
	assert.Equal(t, "Ana", ResolveDisplayName(ctx, stubFetcher{name: "ignored"}, creds, conversation.PlatformInstagram, named, time.Second, nil))

	assert.Equal(t, "Bruno", ResolveDisplayName(ctx, stubFetcher{name: "Bruno"}, creds, conversation.PlatformInstagram, ev, time.Second, nil))
	assert.Equal(t, "instagram:c1", ResolveDisplayName(ctx, nil, creds, conversation.PlatformInstagram, ev, time.Second, nil))
	assert.Equal(t, "instagram:c1", ResolveDisplayName(ctx, stubFetcher{name: "   "}, creds, conversation.PlatformInstagram, ev, time.Second, nil))

	var buf bytes.Buffer
	logger := logging.NewWithWriter(logging.Config{Level: "warn"}, &buf)
	name := ResolveDisplayName(ctx, stubFetcher{err: errors.New("graph down")}, creds, conversation.PlatformInstagram, ev, time.Second, logger)
	assert.Equal(t, "instagram:c1", name)
	assert.Contains(t, buf.String(), `"failure":"profile_lookup"`)
}
