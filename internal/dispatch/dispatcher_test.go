package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnirouter/internal/conversation"
	output "github.com/omnirouter/internal/provider_output"
)

type failingLog struct {
	*conversation.MemoryStore
	err       error
	ctxErr    error
	hadExpiry bool
}

func (f *failingLog) AppendMessage(ctx context.Context, in conversation.AppendInput) (conversation.Message, bool, error) {
	f.ctxErr = ctx.Err()
	_, f.hadExpiry = ctx.Deadline()
	return conversation.Message{}, false, f.err
}

type fakeSender struct {
	err  error
	sent []string
}

func (f *fakeSender) Send(ctx context.Context, creds *conversation.Integration, recipient, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, recipient+"|"+text)
	return nil
}

func setup(t *testing.T, platform conversation.Platform) (*conversation.MemoryStore, conversation.Conversation) {
	t.Helper()
	store := conversation.NewMemoryStore()
	conv, err := store.UpsertConversation(context.Background(), conversation.UpsertInput{
		SessionID:       conversation.SessionID(platform, "contact-1"),
		Platform:        platform,
		OrganizationID:  4,
		CustomerContact: "contact-1",
	})
	require.NoError(t, err)
	return store, conv
}

func TestSend_AppendsAfterSuccessfulDelivery(t *testing.T) {
	store, conv := setup(t, conversation.PlatformInstagram)
	sender := &fakeSender{}
	d := NewDispatcher(map[conversation.Platform]output.Sender{conversation.PlatformInstagram: sender}, store, nil)

	err := d.Send(context.Background(), Reply{Conversation: conv, Text: "hi!", Sender: conversation.SenderAI}, &conversation.Integration{AccessToken: "t"})
	require.NoError(t, err)

	assert.Equal(t, []string{"contact-1|hi!"}, sender.sent)
	msgs, _ := store.ListMessages(context.Background(), conv.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, conversation.SenderAI, msgs[0].Sender)
	assert.Equal(t, "hi!", msgs[0].Content)
}

func TestSend_FailureDoesNotAppend(t *testing.T) {
	store, conv := setup(t, conversation.PlatformWhatsApp)
	d := NewDispatcher(map[conversation.Platform]output.Sender{
		conversation.PlatformWhatsApp: &fakeSender{err: errors.New("http status 400")},
	}, store, nil)

	err := d.Send(context.Background(), Reply{Conversation: conv, Text: "hi!", Sender: conversation.SenderAgent}, &conversation.Integration{})
	require.Error(t, err)
	assert.False(t, Permanent(err))

	msgs, _ := store.ListMessages(context.Background(), conv.ID)
	assert.Empty(t, msgs)
}

func TestSend_PermanentFailures(t *testing.T) {
	store, conv := setup(t, conversation.PlatformVoice)
	d := NewDispatcher(map[conversation.Platform]output.Sender{conversation.PlatformInstagram: &fakeSender{}}, store, nil)

	err := d.Send(context.Background(), Reply{Conversation: conv, Text: "x", Sender: conversation.SenderAI}, &conversation.Integration{})
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
	assert.True(t, Permanent(err))

	store2, conv2 := setup(t, conversation.PlatformInstagram)
	d = NewDispatcher(map[conversation.Platform]output.Sender{conversation.PlatformInstagram: &fakeSender{}}, store2, nil)
	err = d.Send(context.Background(), Reply{Conversation: conv2, Text: "x", Sender: conversation.SenderAI}, nil)
	assert.ErrorIs(t, err, ErrMissingCredentials)
	assert.True(t, Permanent(err))
}

func TestSend_RecordFailureAfterDelivery(t *testing.T) {
	store, conv := setup(t, conversation.PlatformInstagram)
	log := &failingLog{MemoryStore: store, err: errors.New("db: connection reset")}
	sender := &fakeSender{}
	d := NewDispatcher(map[conversation.Platform]output.Sender{conversation.PlatformInstagram: sender}, log, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Send(ctx, Reply{Conversation: conv, Text: "hi!", Sender: conversation.SenderAI}, &conversation.Integration{AccessToken: "t"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRecordFailed)
	assert.True(t, Delivered(err))
	assert.False(t, Permanent(err))
	assert.Len(t, sender.sent, 1)
	assert.NoError(t, log.ctxErr, "append must not inherit the caller's spent context")
	assert.True(t, log.hadExpiry)
}

func TestPermanent_SenderCredentialErrors(t *testing.T) {
	err := fmt.Errorf("instagram: %w", output.ErrMissingCredentials)
	assert.True(t, Permanent(err))
	assert.ErrorIs(t, err, ErrMissingCredentials)
}
