package email

import (
	"context"
	"fmt"
	"strings"
	"time"

	mg "github.com/mailgun/mailgun-go/v5"

	"github.com/omnirouter/internal/conversation"
	output "github.com/omnirouter/internal/provider_output"
)

const replySubject = "Re: your message"

type sendFunc func(ctx context.Context, apiKey, domain, from, subject, body, to string) (string, error)

// APIClient sends email replies through Mailgun. Integration.AccessToken is the API key and
// Integration.AccountID the sending domain.
type APIClient struct {
	apiBase string
	limiter *output.OrgLimiter
	timeout time.Duration
	send    sendFunc
}

// NewAPIClient builds a sender. apiBase selects the region ("eu" or a full URL); empty
// keeps the library default.
func NewAPIClient(apiBase string, limiter *output.OrgLimiter, timeout time.Duration) *APIClient {
	c := &APIClient{apiBase: apiBase, limiter: limiter, timeout: timeout}
	c.send = c.sendWithMailgun
	return c
}

func (c *APIClient) Send(ctx context.Context, creds *conversation.Integration, to, text string) error {
	if creds == nil || creds.AccessToken == "" || creds.AccountID == "" {
		return fmt.Errorf("%w: email credentials require api key and sending domain", output.ErrMissingCredentials)
	}
	if err := c.limiter.Wait(ctx, creds.OrganizationID); err != nil {
		return fmt.Errorf("email send rate limit: %w", err)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	from := creds.FromAddress
	if from == "" {
		from = fmt.Sprintf("noreply@%s", creds.AccountID)
	}
	if _, err := c.send(ctx, creds.AccessToken, creds.AccountID, from, replySubject, text, to); err != nil {
		return fmt.Errorf("email send to %s: %w", to, err)
	}
	return nil
}

func (c *APIClient) sendWithMailgun(ctx context.Context, apiKey, domain, from, subject, body, to string) (string, error) {
	client := mg.NewMailgun(apiKey)
	switch base := strings.TrimSpace(c.apiBase); {
	case strings.EqualFold(base, "eu"):
		client.SetAPIBase(mg.APIBaseEU)
	case base != "":
		client.SetAPIBase(base)
	}

	m := mg.NewMessage(domain, from, subject, body, to)
	resp, err := client.Send(ctx, m)
	if err != nil {
		return "", fmt.Errorf("mailgun send: %w", err)
	}
	return resp.ID, nil
}

var _ output.Sender = (*APIClient)(nil)
