package instagram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/omnirouter/internal/conversation"
	"github.com/omnirouter/internal/providers"
	"github.com/omnirouter/internal/retry"
)

// DefaultGraphBaseURL is the Meta Graph API root used when none is configured.
const DefaultGraphBaseURL = "https://graph.instagram.com/v21.0"

// ProfileFetcher looks up a sender's name through the Graph API. Lookups are best effort,
// so the retrying client is forced to a single attempt.
type ProfileFetcher struct {
	client  *retry.Client
	baseURL string
}

func NewProfileFetcher(client *retry.Client, baseURL string) *ProfileFetcher {
	cfg := client.Config()
	cfg.SkipRetry = true
	if baseURL == "" {
		baseURL = DefaultGraphBaseURL
	}
	return &ProfileFetcher{
		client:  client.WithConfig(cfg),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (f *ProfileFetcher) FetchProfile(ctx context.Context, creds *conversation.Integration, externalContactID string) (string, error) {
	if creds == nil || creds.AccessToken == "" {
		return "", errors.New("no access token for profile lookup")
	}

	endpoint := fmt.Sprintf("%s/%s?fields=%s", f.baseURL, url.PathEscape(externalContactID), url.QueryEscape("name,username"))
	var profile ProfileResponse
	err := f.client.DoJSON(ctx, retry.Request{
		Method:  http.MethodGet,
		URL:     endpoint,
		Headers: map[string]string{"Authorization": "Bearer " + creds.AccessToken},
	}, &profile)
	if err != nil {
		return "", fmt.Errorf("fetch instagram profile %s: %w", externalContactID, err)
	}

	if name := strings.TrimSpace(profile.Name); name != "" {
		return name, nil
	}
	return strings.TrimSpace(profile.Username), nil
}

var _ providers.ProfileFetcher = (*ProfileFetcher)(nil)
