// Package provider_input assembles the inbound adapters for every supported platform.
package provider_input

import (
	"github.com/omnirouter/internal/conversation"
	"github.com/omnirouter/internal/provider_input/email"
	"github.com/omnirouter/internal/provider_input/instagram"
	"github.com/omnirouter/internal/provider_input/voice"
	"github.com/omnirouter/internal/provider_input/whatsapp"
	"github.com/omnirouter/internal/providers"
	"github.com/omnirouter/internal/retry"
)

// DefaultRegistry registers the adapters of all four platforms.
func DefaultRegistry() *providers.Registry {
	return providers.NewRegistry(
		whatsapp.NewAdapter(),
		instagram.NewAdapter(),
		email.NewAdapter(),
		voice.NewAdapter(),
	)
}

// DefaultProfileFetchers returns the platforms that support profile lookups.
func DefaultProfileFetchers(client *retry.Client, graphBaseURL string) map[conversation.Platform]providers.ProfileFetcher {
	return map[conversation.Platform]providers.ProfileFetcher{
		conversation.PlatformInstagram: instagram.NewProfileFetcher(client, graphBaseURL),
	}
}
