package whatsapp

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

const DefaultGraphBaseURL = "https://graph.facebook.com/v21.0"

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

// APIClient sends WhatsApp text messages through the Cloud API.
type APIClient struct {
	client  *retry.Client
	baseURL string
	limiter *output.OrgLimiter
	timeout time.Duration
}

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

func (c *APIClient) Send(ctx context.Context, creds *conversation.Integration, to, text string) error {
	if creds == nil || creds.AccessToken == "" || creds.AccountID == "" {
		return fmt.Errorf("%w: whatsapp credentials require access token and phone number id", output.ErrMissingCredentials)
	}
	if err := c.limiter.Wait(ctx, creds.OrganizationID); err != nil {
		return fmt.Errorf("whatsapp send rate limit: %w", err)
	}

	err := c.client.DoJSON(ctx, retry.Request{
		Method:  http.MethodPost,
		URL:     fmt.Sprintf("%s/%s/messages", c.baseURL, creds.AccountID),
		Headers: map[string]string{"Authorization": "Bearer " + creds.AccessToken},
		Body: sendRequest{
			MessagingProduct: "whatsapp",
			RecipientType:    "individual",
			To:               to,
			Type:             "text",
			Text:             textBody{Body: text},
		},
		Timeout: c.timeout,
	}, nil)
	if err != nil {
		return fmt.Errorf("whatsapp send to %s: %w", to, err)
	}
	return nil
}

var _ output.Sender = (*APIClient)(nil)
