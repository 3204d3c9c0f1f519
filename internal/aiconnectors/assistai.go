package aiconnectors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/omnirouter/internal/logging"
	"github.com/omnirouter/internal/retry"
)

// AssistAIConfig configures the AI delegate API.
type AssistAIConfig struct {
	BaseURL          string        `koanf:"base_url"`
	APIToken         string        `koanf:"api_token"`
	OrganizationCode string        `koanf:"organization_code"`
	TenantDomain     string        `koanf:"tenant_domain"`
	Timeout          time.Duration `koanf:"timeout"` // per attempt
	Retry            retry.Config  `koanf:"retry"`
}

// Contact identifies the customer on the remote side.
type Contact struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Channel    string `json:"channel"`
}

// RemoteConversation is the conversation the delegate keeps for a local conversation.
type RemoteConversation struct {
	ID        string  `json:"id"`
	AgentCode string  `json:"agent_code"`
	Contact   Contact `json:"contact"`
	Source    string  `json:"source"`
}

type Response struct {
	Text string
}

type sendMessageRequest struct {
	Content    string `json:"content"`
	SenderName string `json:"sender_name"`
}

type sendMessageResponse struct {
	Text string `json:"text"`
	Data *struct {
		Text string `json:"text"`
	} `json:"data,omitempty"`
}

// ErrEmptyReply is returned when the delegate answered without text.
var ErrEmptyReply = errors.New("ai delegate returned an empty reply")

// AssistAIClient talks to the external AI agent service.
type AssistAIClient struct {
	cfg       AssistAIConfig
	client    *retry.Client
	logger    logging.Logger
	skipRetry atomic.Bool
}

func NewAssistAIClient(cfg AssistAIConfig, httpClient *http.Client, logger logging.Logger) *AssistAIClient {
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.RetryDelay == 0 && len(cfg.Retry.RetryableStatuses) == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	logger = logging.Component(logger, "assistai")
	return &AssistAIClient{
		cfg:    cfg,
		client: retry.NewClient(httpClient, cfg.Retry, logger),
		logger: logger,
	}
}

// SetSkipRetry forces single attempts for subsequent calls.
func (c *AssistAIClient) SetSkipRetry(skip bool) {
	c.skipRetry.Store(skip)
}

func (c *AssistAIClient) headers() map[string]string {
	h := map[string]string{}
	if c.cfg.APIToken != "" {
		h["Authorization"] = "Bearer " + c.cfg.APIToken
	}
	if c.cfg.OrganizationCode != "" {
		h["X-Organization-Code"] = c.cfg.OrganizationCode
	}
	if c.cfg.TenantDomain != "" {
		h["X-Tenant-Domain"] = c.cfg.TenantDomain
	}
	return h
}

func (c *AssistAIClient) retryingClient() *retry.Client {
	if !c.skipRetry.Load() {
		return c.client
	}
	cfg := c.client.Config()
	cfg.SkipRetry = true
	return c.client.WithConfig(cfg)
}

// EnsureRemoteConversation creates the remote conversation if needed. It is best effort:
// failures, including "already exists" conflicts, are logged and swallowed.
func (c *AssistAIClient) EnsureRemoteConversation(ctx context.Context, conv RemoteConversation) {
	cfg := c.client.Config()
	cfg.SkipRetry = true
	err := c.client.WithConfig(cfg).DoJSON(ctx, retry.Request{
		Method:  http.MethodPost,
		URL:     c.cfg.BaseURL + "/conversations",
		Headers: c.headers(),
		Body:    conv,
		Timeout: c.cfg.Timeout,
	}, nil)
	if err == nil {
		return
	}

	var httpErr *retry.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusConflict {
		c.logger.Debug().Str("conversation_id", conv.ID).Msg("remote conversation already exists")
		return
	}
	c.logger.Warn().
		Err(err).
		Str("conversation_id", conv.ID).
		Str("agent_code", conv.AgentCode).
		Msg("ensure remote conversation failed, continuing")
}

// SendMessage forwards the customer's text and returns the delegate's reply under the retry
// contract.
func (c *AssistAIClient) SendMessage(ctx context.Context, remoteConversationID, text, displayName string) (Response, error) {
	var out sendMessageResponse
	err := c.retryingClient().DoJSON(ctx, retry.Request{
		Method:  http.MethodPost,
		URL:     fmt.Sprintf("%s/conversations/%s/messages", c.cfg.BaseURL, url.PathEscape(remoteConversationID)),
		Headers: c.headers(),
		Body:    sendMessageRequest{Content: text, SenderName: displayName},
		Timeout: c.cfg.Timeout,
	}, &out)
	if err != nil {
		return Response{}, err
	}

	reply := out.Text
	if reply == "" && out.Data != nil {
		reply = out.Data.Text
	}
	if strings.TrimSpace(reply) == "" {
		return Response{}, ErrEmptyReply
	}
	return Response{Text: reply}, nil
}
