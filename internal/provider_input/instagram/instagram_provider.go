package instagram

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/omnirouter/internal/conversation"
	"github.com/omnirouter/internal/providers"
)

const objectType = "instagram"

// Adapter parses Instagram Messaging deliveries.
type Adapter struct{}

func NewAdapter() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Platform() conversation.Platform {
	return conversation.PlatformInstagram
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
		for _, raw := range entry.Messaging {
			var ev MessagingEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				result.Skip(index, "malformed messaging event: %v", err)
				index++
				continue
			}
			switch {
			case ev.Message == nil:
				result.Skip(index, "not a message event")
			case ev.Message.IsEcho:
				result.Skip(index, "echo of an outbound message")
			case ev.Message.IsDeleted:
				result.Skip(index, "deleted message")
			case ev.Sender.ID == "":
				result.Skip(index, "message without sender")
			case strings.TrimSpace(ev.Message.Text) == "":
				result.Skip(index, "message without text")
			default:
				result.Events = append(result.Events, providers.InboundEvent{
					ProviderEventID:   ev.Message.Mid,
					ExternalContactID: ev.Sender.ID,
					Text:              ev.Message.Text,
					Timestamp:         unixMillis(ev.Timestamp),
				})
			}
			index++
		}
	}
	return result, nil
}

func unixMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

var _ providers.Adapter = (*Adapter)(nil)
