// Package settings caches the read-mostly channel and integration configuration in front
// of the repositories. Takeovers are never cached.
package settings

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/omnirouter/internal/conversation"
)

const (
	DefaultTTL  = 30 * time.Second
	DefaultSize = 1024
)

type Config struct {
	TTL  time.Duration `koanf:"ttl"`
	Size int           `koanf:"size"`
}

type key struct {
	orgID    int64
	platform conversation.Platform
}

func (k key) String() string {
	return fmt.Sprintf("%d/%s", k.orgID, k.platform)
}

// Cache implements ChannelRepo and IntegrationRepo with a short TTL. Absent rows are
// cached too so an unconfigured organization does not hit the database per message.
type Cache struct {
	channels     conversation.ChannelRepo
	integrations conversation.IntegrationRepo

	channelCache     *expirable.LRU[key, *conversation.Channel]
	integrationCache *expirable.LRU[key, *conversation.Integration]
	group            singleflight.Group
}

func NewCache(channels conversation.ChannelRepo, integrations conversation.IntegrationRepo, cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	return &Cache{
		channels:         channels,
		integrations:     integrations,
		channelCache:     expirable.NewLRU[key, *conversation.Channel](cfg.Size, nil, cfg.TTL),
		integrationCache: expirable.NewLRU[key, *conversation.Integration](cfg.Size, nil, cfg.TTL),
	}
}

func (c *Cache) FindEnabledChannel(ctx context.Context, orgID int64, platform conversation.Platform) (*conversation.Channel, error) {
	k := key{orgID, platform}
	if ch, ok := c.channelCache.Get(k); ok {
		return copyChannel(ch), nil
	}

	v, err, _ := c.group.Do("channel/"+k.String(), func() (interface{}, error) {
		ch, err := c.channels.FindEnabledChannel(ctx, orgID, platform)
		if err != nil {
			return nil, err
		}
		c.channelCache.Add(k, ch)
		return ch, nil
	})
	if err != nil {
		return nil, err
	}
	return copyChannel(v.(*conversation.Channel)), nil
}

func (c *Cache) GetIntegration(ctx context.Context, orgID int64, platform conversation.Platform) (*conversation.Integration, error) {
	k := key{orgID, platform}
	if in, ok := c.integrationCache.Get(k); ok {
		return copyIntegration(in), nil
	}

	v, err, _ := c.group.Do("integration/"+k.String(), func() (interface{}, error) {
		in, err := c.integrations.GetIntegration(ctx, orgID, platform)
		if err != nil {
			return nil, err
		}
		c.integrationCache.Add(k, in)
		return in, nil
	})
	if err != nil {
		return nil, err
	}
	return copyIntegration(v.(*conversation.Integration)), nil
}

// Invalidate drops cached rows for an organization and platform.
func (c *Cache) Invalidate(orgID int64, platform conversation.Platform) {
	k := key{orgID, platform}
	c.channelCache.Remove(k)
	c.integrationCache.Remove(k)
}

func copyChannel(ch *conversation.Channel) *conversation.Channel {
	if ch == nil {
		return nil
	}
	out := *ch
	return &out
}

func copyIntegration(in *conversation.Integration) *conversation.Integration {
	if in == nil {
		return nil
	}
	out := *in
	return &out
}
