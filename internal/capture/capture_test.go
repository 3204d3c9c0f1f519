package capture

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnirouter/internal/logging"
)

func TestNewRecorder_EmptyDirDisables(t *testing.T) {
	r := NewRecorder("", logging.Nop())
	assert.Nil(t, r)
	assert.False(t, r.Enabled())

	// Recording through a nil recorder is a no-op.
	r.RecordDelivery(Delivery{Platform: "INSTAGRAM"}, []byte(`{}`))
}

func TestRecordDelivery_WritesJSON(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, logging.Nop())
	require.True(t, r.Enabled())

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.RecordDelivery(Delivery{
		Platform:       "INSTAGRAM",
		OrganizationID: 7,
		Headers:        map[string][]string{"X-Hub-Signature-256": {"sha256=abc"}},
		ReceivedAt:     at,
	}, []byte(`{"object":"instagram"}`))
	r.RecordDelivery(Delivery{Platform: "EMAIL", OrganizationID: 7, ReceivedAt: at}, []byte("sender=a%40b.c"))

	igFiles, err := filepath.Glob(filepath.Join(r.Path("instagram"), "delivery-*.json"))
	require.NoError(t, err)
	require.Len(t, igFiles, 1)

	raw, err := os.ReadFile(igFiles[0])
	require.NoError(t, err)
	var got Delivery
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, int64(7), got.OrganizationID)
	assert.JSONEq(t, `{"object":"instagram"}`, string(got.Body))
	assert.Equal(t, []string{"sha256=abc"}, got.Headers["X-Hub-Signature-256"])

	emailFiles, err := filepath.Glob(filepath.Join(r.Path("email"), "delivery-*.json"))
	require.NoError(t, err)
	require.Len(t, emailFiles, 1)
	raw, err = os.ReadFile(emailFiles[0])
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "sender=a%40b.c", got.RawBody)
}
