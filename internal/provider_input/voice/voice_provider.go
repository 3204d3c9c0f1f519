package voice

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/omnirouter/internal/conversation"
	"github.com/omnirouter/internal/providers"
	"github.com/omnirouter/internal/webhookutils"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Voice-Signature"

// WebhookPayload is a batch of transcribed call events.
type WebhookPayload struct {
	Events []CallEvent `json:"events"`
}

type CallEvent struct {
	CallID     string `json:"call_id"`
	From       string `json:"from"`
	CallerName string `json:"caller_name"`
	Transcript string `json:"transcript"`
	Timestamp  string `json:"timestamp"` // RFC 3339
}

// Adapter parses voice transcription deliveries. Voice is inbound only.
type Adapter struct{}

func NewAdapter() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Platform() conversation.Platform {
	return conversation.PlatformVoice
}

func (a *Adapter) VerifyHandshake(query url.Values, creds *conversation.Integration) (string, bool) {
	return providers.VerifyMetaHandshake(query, creds)
}

func (a *Adapter) VerifySignature(header http.Header, body []byte, creds *conversation.Integration) error {
	if creds == nil || creds.AppSecret == "" {
		return nil
	}
	sig, _ := webhookutils.FirstHeader(header, SignatureHeader)
	if err := webhookutils.VerifyHMACSHA256(creds.AppSecret, body, sig, ""); err != nil {
		return fmt.Errorf("%w: %v", providers.ErrInvalidSignature, err)
	}
	return nil
}

func (a *Adapter) ParseEvents(body []byte) (providers.ParseResult, error) {
	var envelope struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return providers.ParseResult{}, fmt.Errorf("%w: %v", providers.ErrUnrecognizedPayload, err)
	}
	if envelope.Events == nil {
		return providers.ParseResult{}, fmt.Errorf("%w: missing events", providers.ErrUnrecognizedPayload)
	}

	var result providers.ParseResult
	for i, raw := range envelope.Events {
		var ev CallEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			result.Skip(i, "malformed call event: %v", err)
			continue
		}
		if ev.From == "" {
			result.Skip(i, "call event without caller")
			continue
		}
		if strings.TrimSpace(ev.Transcript) == "" {
			result.Skip(i, "call event without transcript")
			continue
		}
		ts, err := parseTimestamp(ev.Timestamp)
		if err != nil {
			result.Skip(i, "invalid timestamp %q", ev.Timestamp)
			continue
		}
		result.Events = append(result.Events, providers.InboundEvent{
			ProviderEventID:   ev.CallID,
			ExternalContactID: ev.From,
			ContactName:       strings.TrimSpace(ev.CallerName),
			Text:              ev.Transcript,
			Timestamp:         ts,
		})
	}
	return result, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

var _ providers.Adapter = (*Adapter)(nil)
