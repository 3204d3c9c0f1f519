package instagram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnirouter/internal/conversation"
	"github.com/omnirouter/internal/providers"
	"github.com/omnirouter/internal/retry"
)

const messagingPayload = `{
  "object": "instagram",
  "entry": [{
    "id": "17841400000",
    "time": 1767261600000,
    "messaging": [
      {"sender": {"id": "igsid-1"}, "recipient": {"id": "17841400000"}, "timestamp": 1767261600123, "message": {"mid": "mid.A", "text": "hello"}},
      {"sender": {"id": "17841400000"}, "recipient": {"id": "igsid-1"}, "timestamp": 1767261600200, "message": {"mid": "mid.B", "text": "echo", "is_echo": true}},
      {"sender": {"id": "igsid-1"}, "recipient": {"id": "17841400000"}, "timestamp": 1767261600300, "read": {"mid": "mid.A"}},
      {"sender": {"id": "igsid-1"}, "recipient": {"id": "17841400000"}, "timestamp": 1767261600400, "message": {"mid": "mid.C", "text": "second"}}
    ]
  }]
}`

func TestParseEvents(t *testing.T) {
	result, err := NewAdapter().ParseEvents([]byte(messagingPayload))
	require.NoError(t, err)

	require.Len(t, result.Events, 2)
	assert.Equal(t, "mid.A", result.Events[0].ProviderEventID)
	assert.Equal(t, "igsid-1", result.Events[0].ExternalContactID)
	assert.Equal(t, "hello", result.Events[0].Text)
	assert.Equal(t, time.UnixMilli(1767261600123).UTC(), result.Events[0].Timestamp)
	assert.Empty(t, result.Events[0].ContactName)
	assert.Equal(t, "mid.C", result.Events[1].ProviderEventID)

	require.Len(t, result.Skipped, 2)
	assert.Equal(t, 1, result.Skipped[0].Index)
	assert.Equal(t, 2, result.Skipped[1].Index)
}

func TestParseEvents_MalformedEventKeepsSiblings(t *testing.T) {
	body := `{"object":"instagram","entry":[{"id":"17841400000","time":"later","messaging":[
	  {"sender":{"id":"igsid-1"},"recipient":{"id":"17841400000"},"timestamp":"oops","message":{"mid":"mid.bad","text":"lost"}},
	  {"sender":{"id":"igsid-1"},"recipient":{"id":"17841400000"},"timestamp":1767261600500,"message":{"mid":"mid.ok","text":"kept"}}
	]}]}`

	result, err := NewAdapter().ParseEvents([]byte(body))
	require.NoError(t, err)

	require.Len(t, result.Events, 1)
	assert.Equal(t, "mid.ok", result.Events[0].ProviderEventID)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, 0, result.Skipped[0].Index)
	assert.Contains(t, result.Skipped[0].Reason, "malformed")
}

func TestParseEvents_UnknownObject(t *testing.T) {
	_, err := NewAdapter().ParseEvents([]byte(`{"object":"page"}`))
	assert.ErrorIs(t, err, providers.ErrUnrecognizedPayload)
}

func TestProfileFetcher_ReturnsName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/igsid-1", r.URL.Path)
		assert.Equal(t, "name,username", r.URL.Query().Get("fields"))
		assert.Equal(t, "Bearer page-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"igsid-1","name":"Ana Souza","username":"ana"}`))
	}))
	defer srv.Close()

	fetcher := NewProfileFetcher(retry.NewClient(srv.Client(), retry.DefaultConfig(), nil), srv.URL)
	name, err := fetcher.FetchProfile(context.Background(), &conversation.Integration{AccessToken: "page-token"}, "igsid-1")
	require.NoError(t, err)
	assert.Equal(t, "Ana Souza", name)
}

func TestProfileFetcher_SingleAttemptOnFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	fetcher := NewProfileFetcher(retry.NewClient(srv.Client(), retry.DefaultConfig(), nil), srv.URL)
	_, err := fetcher.FetchProfile(context.Background(), &conversation.Integration{AccessToken: "t"}, "igsid-1")

	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestResolveDisplayName_FallsBackToPlaceholder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	fetcher := NewProfileFetcher(retry.NewClient(srv.Client(), retry.DefaultConfig(), nil), srv.URL)
	event := providers.InboundEvent{ExternalContactID: "igsid-9"}

	name := providers.ResolveDisplayName(context.Background(), fetcher, &conversation.Integration{AccessToken: "t"},
		conversation.PlatformInstagram, event, time.Second, nil)
	assert.Equal(t, "instagram:igsid-9", name)
}
