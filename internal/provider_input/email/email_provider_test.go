package email

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnirouter/internal/conversation"
	"github.com/omnirouter/internal/providers"
	"github.com/omnirouter/internal/webhookutils"
)

func inboundForm(signingKey string) url.Values {
	form := url.Values{
		"recipient":     {"support@acme.test"},
		"sender":        {"Carla@Example.com"},
		"from":          {"Carla Dias <carla@example.com>"},
		"subject":       {"Invoice question"},
		"body-plain":    {"Hi,\nwhere is my invoice?\n\n> quoted"},
		"stripped-text": {"Hi,\nwhere is my invoice?"},
		"Message-Id":    {"<CAF1@mail.example.com>"},
		"timestamp":     {"1767261600"},
		"token":         {"a8ce0edb2dd8301dee6c2405235584e45aa91d1e9f979f3de0"},
	}
	form.Set("signature", webhookutils.SignHMACSHA256(signingKey, []byte(form.Get("timestamp")+form.Get("token"))))
	return form
}

func TestParseEvents(t *testing.T) {
	body := []byte(inboundForm("key").Encode())

	result, err := NewAdapter().ParseEvents(body)
	require.NoError(t, err)
	require.Len(t, result.Events, 1)

	ev := result.Events[0]
	assert.Equal(t, "<CAF1@mail.example.com>", ev.ProviderEventID)
	assert.Equal(t, "carla@example.com", ev.ExternalContactID)
	assert.Equal(t, "Carla Dias", ev.ContactName)
	assert.Equal(t, "Invoice question\n\nHi,\nwhere is my invoice?", ev.Text)
	assert.Equal(t, time.Unix(1767261600, 0).UTC(), ev.Timestamp)
}

func TestParseEvents_SkipsUnusableSender(t *testing.T) {
	form := url.Values{"recipient": {"support@acme.test"}, "from": {"not an address"}, "body-plain": {"hi"}}
	result, err := NewAdapter().ParseEvents([]byte(form.Encode()))
	require.NoError(t, err)
	assert.Empty(t, result.Events)
	require.Len(t, result.Skipped, 1)
}

func TestParseEvents_RejectsNonMailgunBody(t *testing.T) {
	_, err := NewAdapter().ParseEvents([]byte(`{"object":"instagram"}`))
	assert.ErrorIs(t, err, providers.ErrUnrecognizedPayload)
}

func TestVerifySignature(t *testing.T) {
	creds := &conversation.Integration{AppSecret: "key"}

	assert.NoError(t, NewAdapter().VerifySignature(http.Header{}, []byte(inboundForm("key").Encode()), creds))
	assert.ErrorIs(t, NewAdapter().VerifySignature(http.Header{}, []byte(inboundForm("other").Encode()), creds), providers.ErrInvalidSignature)
}

func TestVerifyHandshake_AlwaysRejected(t *testing.T) {
	_, ok := NewAdapter().VerifyHandshake(url.Values{"hub.mode": {"subscribe"}}, &conversation.Integration{VerifyToken: "x"})
	assert.False(t, ok)
}
