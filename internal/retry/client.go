package retry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/omnirouter/internal/logging"
)

const maxErrorBodyBytes = 64 << 10

// Request describes one logical JSON call. Body is marshalled once and replayed per attempt.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    interface{}
	Timeout time.Duration // per attempt; zero means no extra deadline
}

// Client is the retrying HTTP helper shared by every outbound JSON call.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     logging.Logger
}

// NewClient creates a retrying client. A nil httpClient uses a client with a 30s timeout.
func NewClient(httpClient *http.Client, config Config, logger logging.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		config:     config,
		logger:     logging.OrNop(logger),
	}
}

// Config returns the client's retry configuration.
func (c *Client) Config() Config {
	return c.config
}

// WithConfig returns a copy of the client using a different retry configuration.
func (c *Client) WithConfig(config Config) *Client {
	clone := *c
	clone.config = config
	return &clone
}

// DoJSON performs req under the retry contract and decodes a 2xx JSON response into out
// (which may be nil).
func (c *Client) DoJSON(ctx context.Context, req Request, out interface{}) error {
	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	endpoint := req.Method + " " + redactQuery(req.URL)
	return RetryWithBackoff(ctx, c.config, endpoint, c.logger, func(ctx context.Context, attempt int) error {
		return c.attempt(ctx, req, payload, out)
	})
}

func (c *Client) attempt(ctx context.Context, req Request, payload []byte, out interface{}) error {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		httpErr := &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    ParseErrorMessage(raw),
			Body:       string(raw),
		}
		c.logger.Error().
			Int("status", resp.StatusCode).
			Str("endpoint", req.Method+" "+redactQuery(req.URL)).
			Str("error_message", httpErr.Message).
			Msg("remote call returned error status")
		return httpErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ParseErrorMessage extracts a human-readable message from a JSON error body. It
// understands {"error":{"message":..}}, {"message":..} and {"error":".."}; anything else
// falls back to the trimmed raw body.
func ParseErrorMessage(raw []byte) string {
	var shaped struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &shaped); err == nil {
		if len(shaped.Error) > 0 {
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(shaped.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
			var plain string
			if json.Unmarshal(shaped.Error, &plain) == nil && plain != "" {
				return plain
			}
		}
		if shaped.Message != "" {
			return shaped.Message
		}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return msg
}

// redactQuery drops the query string, which may carry access tokens, from logged URLs.
func redactQuery(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
