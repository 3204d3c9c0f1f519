package whatsapp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/omnirouter/internal/conversation"
	"github.com/omnirouter/internal/providers"
)

const objectType = "whatsapp_business_account"

// Adapter parses WhatsApp Cloud API deliveries. WhatsApp carries the contact name in the
// payload, so it has no profile fetcher.
type Adapter struct{}

func NewAdapter() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Platform() conversation.Platform {
	return conversation.PlatformWhatsApp
}

func (a *Adapter) VerifyHandshake(query url.Values, creds *conversation.Integration) (string, bool) {
	return providers.VerifyMetaHandshake(query, creds)
}

func (a *Adapter) VerifySignature(header http.Header, body []byte, creds *conversation.Integration) error {
	return providers.VerifyMetaSignature(header, body, creds)
}

func (a *Adapter) ParseEvents(body []byte) (providers.ParseResult, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return providers.ParseResult{}, fmt.Errorf("%w: %v", providers.ErrUnrecognizedPayload, err)
	}
	if payload.Object != objectType {
		return providers.ParseResult{}, fmt.Errorf("%w: object %q", providers.ErrUnrecognizedPayload, payload.Object)
	}

	var result providers.ParseResult
	index := 0
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			names := contactNames(change.Value.Contacts)
			for _, raw := range change.Value.Messages {
				var msg Message
				if err := json.Unmarshal(raw, &msg); err != nil {
					result.Skip(index, "malformed message: %v", err)
					index++
					continue
				}
				event, reason := projectMessage(msg, names)
				if reason != "" {
					result.Skip(index, "%s", reason)
				} else {
					result.Events = append(result.Events, event)
				}
				index++
			}
		}
	}
	return result, nil
}

// contactNames maps wa_id to profile name. Contacts that fail to decode only cost the name.
func contactNames(raws []json.RawMessage) map[string]string {
	names := make(map[string]string, len(raws))
	for _, raw := range raws {
		var c Contact
		if json.Unmarshal(raw, &c) != nil || c.WaID == "" {
			continue
		}
		names[c.WaID] = strings.TrimSpace(c.Profile.Name)
	}
	return names
}

func projectMessage(msg Message, names map[string]string) (providers.InboundEvent, string) {
	if msg.From == "" {
		return providers.InboundEvent{}, "message without sender"
	}
	if msg.Type != "text" || msg.Text == nil {
		return providers.InboundEvent{}, fmt.Sprintf("unsupported message type %q", msg.Type)
	}
	if strings.TrimSpace(msg.Text.Body) == "" {
		return providers.InboundEvent{}, "empty text"
	}
	ts, err := parseUnixSeconds(msg.Timestamp)
	if err != nil {
		return providers.InboundEvent{}, fmt.Sprintf("invalid timestamp %q", msg.Timestamp)
	}
	return providers.InboundEvent{
		ProviderEventID:   msg.ID,
		ExternalContactID: msg.From,
		ContactName:       names[msg.From],
		Text:              msg.Text.Body,
		Timestamp:         ts,
	}, ""
}

func parseUnixSeconds(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}

var _ providers.Adapter = (*Adapter)(nil)
