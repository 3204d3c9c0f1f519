package settings

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnirouter/internal/conversation"
)

type countingRepo struct {
	channelCalls     int32
	integrationCalls int32
	delay            time.Duration
	channel          *conversation.Channel
	err              error
}

func (r *countingRepo) FindEnabledChannel(ctx context.Context, orgID int64, platform conversation.Platform) (*conversation.Channel, error) {
	atomic.AddInt32(&r.channelCalls, 1)
	time.Sleep(r.delay)
	return r.channel, r.err
}

func (r *countingRepo) GetIntegration(ctx context.Context, orgID int64, platform conversation.Platform) (*conversation.Integration, error) {
	atomic.AddInt32(&r.integrationCalls, 1)
	return &conversation.Integration{OrganizationID: orgID, Platform: platform, AccessToken: "tok"}, nil
}

func TestCache_HitsWithinTTL(t *testing.T) {
	repo := &countingRepo{channel: &conversation.Channel{OrganizationID: 1, Enabled: true, Mode: conversation.ModeAIOnly}}
	cache := NewCache(repo, repo, Config{TTL: time.Minute})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ch, err := cache.FindEnabledChannel(ctx, 1, conversation.PlatformInstagram)
		require.NoError(t, err)
		assert.Equal(t, conversation.ModeAIOnly, ch.Mode)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&repo.channelCalls))

	in, err := cache.GetIntegration(ctx, 1, conversation.PlatformInstagram)
	require.NoError(t, err)
	in.AccessToken = "mutated"
	in, err = cache.GetIntegration(ctx, 1, conversation.PlatformInstagram)
	require.NoError(t, err)
	assert.Equal(t, "tok", in.AccessToken)
	assert.EqualValues(t, 1, atomic.LoadInt32(&repo.integrationCalls))
}

func TestCache_CachesAbsentChannel(t *testing.T) {
	repo := &countingRepo{}
	cache := NewCache(repo, repo, Config{})

	for i := 0; i < 3; i++ {
		ch, err := cache.FindEnabledChannel(context.Background(), 9, conversation.PlatformEmail)
		require.NoError(t, err)
		assert.Nil(t, ch)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&repo.channelCalls))
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	repo := &countingRepo{channel: &conversation.Channel{Enabled: true}}
	cache := NewCache(repo, repo, Config{TTL: 20 * time.Millisecond})
	ctx := context.Background()

	_, err := cache.FindEnabledChannel(ctx, 1, conversation.PlatformVoice)
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)
	_, err = cache.FindEnabledChannel(ctx, 1, conversation.PlatformVoice)
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt32(&repo.channelCalls))
}

func TestCache_CollapsesConcurrentMisses(t *testing.T) {
	repo := &countingRepo{channel: &conversation.Channel{Enabled: true}, delay: 50 * time.Millisecond}
	cache := NewCache(repo, repo, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.FindEnabledChannel(context.Background(), 3, conversation.PlatformWhatsApp)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&repo.channelCalls))
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	repo := &countingRepo{err: errors.New("db down")}
	cache := NewCache(repo, repo, Config{})
	ctx := context.Background()

	_, err := cache.FindEnabledChannel(ctx, 1, conversation.PlatformWhatsApp)
	assert.Error(t, err)

	repo.err = nil
	repo.channel = &conversation.Channel{Enabled: true}
	ch, err := cache.FindEnabledChannel(ctx, 1, conversation.PlatformWhatsApp)
	require.NoError(t, err)
	assert.NotNil(t, ch)
}

func TestCache_Invalidate(t *testing.T) {
	repo := &countingRepo{channel: &conversation.Channel{Enabled: true}}
	cache := NewCache(repo, repo, Config{})
	ctx := context.Background()

	_, _ = cache.FindEnabledChannel(ctx, 1, conversation.PlatformWhatsApp)
	cache.Invalidate(1, conversation.PlatformWhatsApp)
	_, _ = cache.FindEnabledChannel(ctx, 1, conversation.PlatformWhatsApp)

	assert.EqualValues(t, 2, atomic.LoadInt32(&repo.channelCalls))
}
