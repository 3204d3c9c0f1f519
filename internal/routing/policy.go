// Package routing decides whether the AI delegate should answer an inbound message.
package routing

import (
	"context"
	"time"

	"github.com/omnirouter/internal/conversation"
	"github.com/omnirouter/internal/takeover"
)

type Action string

const (
	ActionSkip         Action = "SKIP"
	ActionDelegateToAI Action = "DELEGATE_TO_AI"
)

// Skip reasons.
const (
	ReasonNoChannel     = "no_enabled_channel"
	ReasonHumanOnly     = "human_only"
	ReasonUnknownMode   = "unsupported_mode"
	ReasonNoAgent       = "no_agent_code"
	ReasonTakeover      = "takeover_active"
	ReasonConfigError   = "config_error"
	ReasonTakeoverError = "takeover_error"
	ReasonDelegateToAI  = "eligible"
)

type Decision struct {
	Action    Action
	Reason    string
	AgentCode string
	Channel   *conversation.Channel
}

func (d Decision) Delegate() bool {
	return d.Action == ActionDelegateToAI
}

// Policy is a side-effect free decision over channel configuration and takeover state.
type Policy struct {
	channels  conversation.ChannelRepo
	takeovers *takeover.Arbitrator
	now       func() time.Time
}

func NewPolicy(channels conversation.ChannelRepo, takeovers *takeover.Arbitrator, now func() time.Time) *Policy {
	if now == nil {
		now = time.Now
	}
	return &Policy{channels: channels, takeovers: takeovers, now: now}
}

// Decide resolves the enabled channel for the organization and platform and returns
// DELEGATE_TO_AI only when the channel is AI-capable, has an agent, and no human holds the
// conversation. Any lookup error yields SKIP.
func (p *Policy) Decide(ctx context.Context, orgID int64, platform conversation.Platform, conversationID string) Decision {
	ch, err := p.channels.FindEnabledChannel(ctx, orgID, platform)
	if err != nil {
		return Decision{Action: ActionSkip, Reason: ReasonConfigError}
	}
	if ch == nil || !ch.Enabled {
		return Decision{Action: ActionSkip, Reason: ReasonNoChannel}
	}

	switch ch.Mode {
	case conversation.ModeHumanOnly:
		return Decision{Action: ActionSkip, Reason: ReasonHumanOnly, Channel: ch}
	case conversation.ModeAIOnly, conversation.ModeHybrid:
	default:
		return Decision{Action: ActionSkip, Reason: ReasonUnknownMode, Channel: ch}
	}

	if ch.AssistAIAgentCode == "" {
		return Decision{Action: ActionSkip, Reason: ReasonNoAgent, Channel: ch}
	}

	active, err := p.takeovers.IsActive(ctx, conversationID, p.now())
	if err != nil {
		return Decision{Action: ActionSkip, Reason: ReasonTakeoverError, Channel: ch}
	}
	if active {
		return Decision{Action: ActionSkip, Reason: ReasonTakeover, Channel: ch}
	}

	return Decision{Action: ActionDelegateToAI, Reason: ReasonDelegateToAI, AgentCode: ch.AssistAIAgentCode, Channel: ch}
}
