// Package core_processor runs inbound deliveries through the conversation pipeline: store,
// route, delegate to the AI, and dispatch the reply.
package core_processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/omnirouter/internal/aiconnectors"
	"github.com/omnirouter/internal/conversation"
	"github.com/omnirouter/internal/dispatch"
	"github.com/omnirouter/internal/logging"
	"github.com/omnirouter/internal/providers"
	"github.com/omnirouter/internal/routing"
	"github.com/omnirouter/internal/takeover"
)

// ErrTakeoverActive is returned when a human owns the conversation at dispatch time.
var ErrTakeoverActive = errors.New("human takeover active")

// Config tunes the router's workers and per-call bounds.
type Config struct {
	Workers         int           `koanf:"workers"`
	QueueSize       int           `koanf:"queue_size"`
	ProfileTimeout  time.Duration `koanf:"profile_timeout"`
	DelegateTimeout time.Duration `koanf:"delegate_timeout"` // whole AI round trip, retries included
	SendTimeout     time.Duration `koanf:"send_timeout"`
	DrainTimeout    time.Duration `koanf:"drain_timeout"`
	Source          string        `koanf:"source"`
}

func DefaultConfig() Config {
	return Config{
		Workers:         8,
		QueueSize:       256,
		ProfileTimeout:  3 * time.Second,
		DelegateTimeout: 60 * time.Second,
		SendTimeout:     15 * time.Second,
		DrainTimeout:    30 * time.Second,
		Source:          "omnirouter",
	}
}

// Delegate is the AI agent service.
type Delegate interface {
	EnsureRemoteConversation(ctx context.Context, conv aiconnectors.RemoteConversation)
	SendMessage(ctx context.Context, remoteConversationID, text, displayName string) (aiconnectors.Response, error)
}

// ReplySender delivers and records a reply.
type ReplySender interface {
	Send(ctx context.Context, reply dispatch.Reply, creds *conversation.Integration) error
}

// Delivery is one raw webhook POST accepted for processing.
type Delivery struct {
	OrganizationID int64
	Platform       conversation.Platform
	Body           []byte
	ReceivedAt     time.Time
}

// Dependencies are the collaborators the router is assembled from.
type Dependencies struct {
	Adapters        *providers.Registry
	ProfileFetchers map[conversation.Platform]providers.ProfileFetcher
	Conversations   conversation.ConversationRepo
	Messages        conversation.MessageRepo
	Integrations    conversation.IntegrationRepo
	Policy          *routing.Policy
	Takeovers       *takeover.Arbitrator
	Delegate        Delegate
	Dispatcher      ReplySender
	Undelivered     UndeliveredSink
	Logger          logging.Logger
	Now             func() time.Time
}

type Router struct {
	cfg      Config
	deps     Dependencies
	pool     *TaskPool
	sessions *SessionSerializer
}

func NewRouter(cfg Config, deps Dependencies) *Router {
	defaults := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.Source == "" {
		cfg.Source = defaults.Source
	}
	deps.Logger = logging.Component(deps.Logger, "router")
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Undelivered == nil {
		deps.Undelivered = NewLogSink(deps.Logger)
	}
	return &Router{
		cfg:      cfg,
		deps:     deps,
		pool:     NewTaskPool(cfg.Workers, cfg.QueueSize, deps.Logger),
		sessions: NewSessionSerializer(),
	}
}

// Start launches the delivery workers bound to ctx.
func (r *Router) Start(ctx context.Context) {
	r.pool.Start(ctx)
}

// Stop stops accepting deliveries and drains queued ones until ctx ends.
func (r *Router) Stop(ctx context.Context) error {
	return r.pool.Stop(ctx)
}

// Submit hands a delivery to the worker pool and returns immediately.
func (r *Router) Submit(d Delivery) error {
	if d.ReceivedAt.IsZero() {
		d.ReceivedAt = r.deps.Now()
	}
	return r.pool.Submit(func(ctx context.Context) {
		if err := r.ProcessDelivery(ctx, d); err != nil {
			r.deps.Logger.Error().
				Err(err).
				Str("failure", "parse").
				Int64("org_id", d.OrganizationID).
				Str("platform", string(d.Platform)).
				Msg("delivery rejected")
		}
	})
}

// ProcessDelivery parses a delivery and processes its events one after another. Only an
// unrecognized envelope is returned as an error; per-event failures are logged.
func (r *Router) ProcessDelivery(ctx context.Context, d Delivery) error {
	adapter, err := r.deps.Adapters.Get(d.Platform)
	if err != nil {
		return err
	}
	result, err := adapter.ParseEvents(d.Body)
	if err != nil {
		return fmt.Errorf("parse %s delivery: %w", d.Platform, err)
	}
	for _, skipped := range result.Skipped {
		r.deps.Logger.Warn().
			Str("failure", "parse").
			Int64("org_id", d.OrganizationID).
			Str("platform", string(d.Platform)).
			Int("event_index", skipped.Index).
			Str("reason", skipped.Reason).
			Msg("skipped webhook event")
	}
	if len(result.Events) == 0 {
		return nil
	}

	creds, err := r.deps.Integrations.GetIntegration(ctx, d.OrganizationID, d.Platform)
	if err != nil {
		r.deps.Logger.Warn().Err(err).Str("failure", "config_missing").Int64("org_id", d.OrganizationID).Msg("integration lookup failed")
		creds = nil
	}

	for _, ev := range result.Events {
		if ev.Timestamp.IsZero() {
			ev.Timestamp = d.ReceivedAt
		}
		if err := r.processEvent(ctx, d, creds, ev); err != nil {
			r.deps.Logger.Error().
				Err(err).
				Int64("org_id", d.OrganizationID).
				Str("platform", string(d.Platform)).
				Str("contact", ev.ExternalContactID).
				Str("event_id", ev.ProviderEventID).
				Msg("event processing failed")
		}
	}
	return nil
}

func (r *Router) processEvent(ctx context.Context, d Delivery, creds *conversation.Integration, ev providers.InboundEvent) error {
	sessionID := conversation.SessionID(d.Platform, ev.ExternalContactID)

	// Name lookup stays inside the session: deliveries for one contact are stored in arrival order.
	return r.sessions.Do(ctx, sessionID, func(ctx context.Context) error {
		name := providers.ResolveDisplayName(ctx, r.deps.ProfileFetchers[d.Platform], creds, d.Platform, ev, r.cfg.ProfileTimeout, r.deps.Logger)
		conv, err := r.deps.Conversations.UpsertConversation(ctx, conversation.UpsertInput{
			SessionID:       sessionID,
			Platform:        d.Platform,
			OrganizationID:  d.OrganizationID,
			CustomerName:    name,
			CustomerContact: ev.ExternalContactID,
			At:              ev.Timestamp,
		})
		if err != nil {
			return err
		}

		msg, appended, err := r.deps.Messages.AppendMessage(ctx, conversation.AppendInput{
			ConversationID: conv.ID,
			Sender:         conversation.SenderUser,
			Content:        ev.Text,
			ExternalID:     ev.ProviderEventID,
			At:             ev.Timestamp,
		})
		if err != nil {
			return err
		}
		if !appended {
			r.deps.Logger.Debug().
				Str("conversation_id", conv.ID).
				Str("event_id", ev.ProviderEventID).
				Msg("duplicate delivery ignored")
			return nil
		}
		r.deps.Logger.Info().
			Str("conversation_id", conv.ID).
			Str("message_id", msg.ID).
			Str("platform", string(conv.Platform)).
			Msg("inbound message stored")

		r.respond(ctx, conv, creds, ev.Text)
		return nil
	})
}

// respond runs routing, the AI round trip and dispatch. Failures here never undo the stored
// inbound message.
func (r *Router) respond(ctx context.Context, conv conversation.Conversation, creds *conversation.Integration, text string) {
	if conv.Status == conversation.StatusClosed {
		r.deps.Logger.Info().
			Str("conversation_id", conv.ID).
			Msg("conversation closed, left for human handling")
		return
	}
	decision := r.deps.Policy.Decide(ctx, conv.OrganizationID, conv.Platform, conv.ID)
	if !decision.Delegate() {
		r.deps.Logger.Info().
			Str("conversation_id", conv.ID).
			Str("reason", decision.Reason).
			Msg("left for human handling")
		return
	}

	reply, err := r.askDelegate(ctx, conv, decision.AgentCode, text)
	if err != nil {
		r.deps.Logger.Error().
			Err(err).
			Str("failure", "delegate").
			Str("conversation_id", conv.ID).
			Msg("ai delegate failed, no reply produced")
		return
	}

	active, err := r.deps.Takeovers.IsActive(ctx, conv.ID, r.deps.Now())
	if err != nil {
		r.enqueueUndelivered(ctx, conv, reply, conversation.SenderAI, fmt.Sprintf("takeover check failed: %v", err))
		return
	}
	if active {
		r.deps.Logger.Info().
			Str("conversation_id", conv.ID).
			Msg("human took over during ai round trip, reply discarded")
		return
	}

	if err := r.send(ctx, conv, creds, reply, conversation.SenderAI); err != nil {
		if dispatch.Permanent(err) {
			r.deps.Logger.Error().
				Err(err).
				Str("failure", "dispatch").
				Str("conversation_id", conv.ID).
				Msg("reply cannot be delivered on this platform")
			return
		}
		r.enqueueUndelivered(ctx, conv, reply, conversation.SenderAI, err.Error())
	}
}

func (r *Router) askDelegate(ctx context.Context, conv conversation.Conversation, agentCode, text string) (string, error) {
	if r.cfg.DelegateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.DelegateTimeout)
		defer cancel()
	}

	r.deps.Delegate.EnsureRemoteConversation(ctx, aiconnectors.RemoteConversation{
		ID:        conv.ID,
		AgentCode: agentCode,
		Contact: aiconnectors.Contact{
			Identifier: conv.CustomerContact,
			Name:       conv.CustomerName,
			Channel:    conv.Platform.Slug(),
		},
		Source: r.cfg.Source,
	})

	resp, err := r.deps.Delegate.SendMessage(ctx, conv.ID, text, conv.CustomerName)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (r *Router) send(ctx context.Context, conv conversation.Conversation, creds *conversation.Integration, text string, sender conversation.SenderType) error {
	if r.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.SendTimeout)
		defer cancel()
	}
	err := r.deps.Dispatcher.Send(ctx, dispatch.Reply{Conversation: conv, Text: text, Sender: sender}, creds)
	if dispatch.Delivered(err) {
		r.deps.Logger.Error().
			Err(err).
			Str("failure", "record").
			Str("conversation_id", conv.ID).
			Str("sender", string(sender)).
			Str("text", text).
			Msg("reply delivered but missing from the message log")
		return nil
	}
	return err
}

func (r *Router) enqueueUndelivered(ctx context.Context, conv conversation.Conversation, text string, sender conversation.SenderType, reason string) {
	err := r.deps.Undelivered.Enqueue(ctx, UndeliveredReply{
		ConversationID: conv.ID,
		OrganizationID: conv.OrganizationID,
		Platform:       conv.Platform,
		Text:           text,
		Sender:         sender,
		Reason:         reason,
	})
	if err != nil {
		r.deps.Logger.Error().
			Err(err).
			Str("failure", "dispatch").
			Str("conversation_id", conv.ID).
			Str("text", text).
			Msg("failed to queue undelivered reply")
		return
	}
	r.deps.Logger.Warn().
		Str("failure", "dispatch").
		Str("conversation_id", conv.ID).
		Str("reason", reason).
		Msg("reply queued for redelivery")
}

// SendAgentReply delivers a human agent's reply, serialized with inbound processing for the
// same conversation.
func (r *Router) SendAgentReply(ctx context.Context, conversationID, text string) error {
	conv, err := r.deps.Conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	creds, err := r.deps.Integrations.GetIntegration(ctx, conv.OrganizationID, conv.Platform)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	return r.sessions.Do(ctx, conv.SessionID, func(ctx context.Context) error {
		return r.send(ctx, conv, creds, text, conversation.SenderAgent)
	})
}

// Redeliver retries a previously undelivered reply. AI replies are dropped with
// ErrTakeoverActive when a human now owns the conversation.
func (r *Router) Redeliver(ctx context.Context, reply UndeliveredReply) error {
	conv, err := r.deps.Conversations.GetConversation(ctx, reply.ConversationID)
	if err != nil {
		return err
	}
	return r.sessions.Do(ctx, conv.SessionID, func(ctx context.Context) error {
		if reply.Sender == conversation.SenderAI {
			active, err := r.deps.Takeovers.IsActive(ctx, conv.ID, r.deps.Now())
			if err != nil {
				return err
			}
			if active {
				return ErrTakeoverActive
			}
		}
		creds, err := r.deps.Integrations.GetIntegration(ctx, conv.OrganizationID, conv.Platform)
		if err != nil {
			return fmt.Errorf("load credentials: %w", err)
		}
		return r.send(ctx, conv, creds, reply.Text, reply.Sender)
	})
}
