package instagram

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/omnirouter/internal/conversation"
	output "github.com/omnirouter/internal/provider_output"
	"github.com/omnirouter/internal/retry"
)

const DefaultGraphBaseURL = "https://graph.instagram.com/v21.0"

type sendRequest struct {
	Recipient recipient `json:"recipient"`
	Message   message   `json:"message"`
}

type recipient struct {
	ID string `json:"id"`
}

type message struct {
	Text string `json:"text"`
}

// APIClient sends Instagram direct messages through the Graph API.
type APIClient struct {
	client  *retry.Client
	baseURL string
	limiter *output.OrgLimiter
	timeout time.Duration
}

// NewAPIClient builds a sender. Sends are single attempts; the caller decides what happens
// to a failed reply.
func NewAPIClient(client *retry.Client, baseURL string, limiter *output.OrgLimiter, timeout time.Duration) *APIClient {
	cfg := client.Config()
	cfg.SkipRetry = true
	if baseURL == "" {
		baseURL = DefaultGraphBaseURL
	}
	return &APIClient{
		client:  client.WithConfig(cfg),
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: limiter,
		timeout: timeout,
	}
}

func (c *APIClient) Send(ctx context.Context, creds *conversation.Integration, recipientID, text string) error {
	if creds == nil || creds.AccessToken == "" || creds.AccountID == "" {
		return fmt.Errorf("%w: instagram credentials require access token and account id", output.ErrMissingCredentials)
	}
	if err := c.limiter.Wait(ctx, creds.OrganizationID); err != nil {
		return fmt.Errorf("instagram send rate limit: %w", err)
	}

	err := c.client.DoJSON(ctx, retry.Request{
		Method:  http.MethodPost,
		URL:     fmt.Sprintf("%s/%s/messages", c.baseURL, creds.AccountID),
		Headers: map[string]string{"Authorization": "Bearer " + creds.AccessToken},
		Body: sendRequest{
			Recipient: recipient{ID: recipientID},
			Message:   message{Text: text},
		},
		Timeout: c.timeout,
	}, nil)
	if err != nil {
		return fmt.Errorf("instagram send to %s: %w", recipientID, err)
	}
	return nil
}

var _ output.Sender = (*APIClient)(nil)
