package email

import (
	"fmt"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/omnirouter/internal/conversation"
	"github.com/omnirouter/internal/providers"
	"github.com/omnirouter/internal/webhookutils"
)

// Inbound holds the Mailgun inbound-route fields the router uses.
type Inbound struct {
	Recipient    string
	Sender       string
	From         string
	Subject      string
	StrippedText string
	BodyPlain    string
	MessageID    string
	Timestamp    string
	Token        string
	Signature    string
}

func decodeInbound(form url.Values) Inbound {
	return Inbound{
		Recipient:    form.Get("recipient"),
		Sender:       form.Get("sender"),
		From:         form.Get("from"),
		Subject:      form.Get("subject"),
		StrippedText: form.Get("stripped-text"),
		BodyPlain:    form.Get("body-plain"),
		MessageID:    firstNonEmpty(form.Get("Message-Id"), form.Get("message-id")),
		Timestamp:    form.Get("timestamp"),
		Token:        form.Get("token"),
		Signature:    form.Get("signature"),
	}
}

// Adapter parses Mailgun inbound-route deliveries. Email has no subscription handshake.
type Adapter struct{}

func NewAdapter() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Platform() conversation.Platform {
	return conversation.PlatformEmail
}

func (a *Adapter) VerifyHandshake(query url.Values, creds *conversation.Integration) (string, bool) {
	return "", false
}

// VerifySignature checks the Mailgun signature: hex HMAC-SHA256 of timestamp+token keyed
// by the webhook signing key.
func (a *Adapter) VerifySignature(header http.Header, body []byte, creds *conversation.Integration) error {
	if creds == nil || creds.AppSecret == "" {
		return nil
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return fmt.Errorf("%w: %v", providers.ErrInvalidSignature, err)
	}
	in := decodeInbound(form)
	if err := webhookutils.VerifyHMACSHA256(creds.AppSecret, []byte(in.Timestamp+in.Token), in.Signature, ""); err != nil {
		return fmt.Errorf("%w: %v", providers.ErrInvalidSignature, err)
	}
	return nil
}

func (a *Adapter) ParseEvents(body []byte) (providers.ParseResult, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return providers.ParseResult{}, fmt.Errorf("%w: %v", providers.ErrUnrecognizedPayload, err)
	}
	in := decodeInbound(form)
	if in.Sender == "" && in.From == "" && in.Recipient == "" {
		return providers.ParseResult{}, fmt.Errorf("%w: not a mailgun inbound form", providers.ErrUnrecognizedPayload)
	}

	var result providers.ParseResult
	address, name := senderIdentity(in)
	if address == "" {
		result.Skip(0, "no parseable sender address")
		return result, nil
	}
	text := composeText(in)
	if text == "" {
		result.Skip(0, "empty email body")
		return result, nil
	}

	result.Events = append(result.Events, providers.InboundEvent{
		ProviderEventID:   in.MessageID,
		ExternalContactID: address,
		ContactName:       name,
		Text:              text,
		Timestamp:         parseTimestamp(in.Timestamp),
	})
	return result, nil
}

func senderIdentity(in Inbound) (address, name string) {
	if in.From != "" {
		if parsed, err := mail.ParseAddress(in.From); err == nil {
			address = strings.ToLower(parsed.Address)
			name = strings.TrimSpace(parsed.Name)
		}
	}
	if in.Sender != "" {
		if parsed, err := mail.ParseAddress(in.Sender); err == nil {
			address = strings.ToLower(parsed.Address)
		}
	}
	return address, name
}

func composeText(in Inbound) string {
	body := strings.TrimSpace(firstNonEmpty(in.StrippedText, in.BodyPlain))
	subject := strings.TrimSpace(in.Subject)
	switch {
	case subject != "" && body != "":
		return subject + "\n\n" + body
	case body != "":
		return body
	default:
		return subject
	}
}

func parseTimestamp(s string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var _ providers.Adapter = (*Adapter)(nil)
