package provider_input

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/omnirouter/internal/conversation"
	"github.com/omnirouter/internal/retry"
)

func TestDefaultRegistryCoversEveryPlatform(t *testing.T) {
	assert.ElementsMatch(t, conversation.Platforms, DefaultRegistry().Platforms())
}

func TestDefaultProfileFetchers(t *testing.T) {
	fetchers := DefaultProfileFetchers(retry.NewClient(nil, retry.DefaultConfig(), nil), "")
	assert.Contains(t, fetchers, conversation.PlatformInstagram)
	assert.NotContains(t, fetchers, conversation.PlatformWhatsApp)
}
