package conversation

// Domain models for the omnichannel conversation timeline. Conversations and messages are
// owned by this router; channels, takeovers and integrations are provisioned elsewhere and
// only read here.

import (
	"fmt"
	"strings"
	"time"
)

type Platform string

const (
	PlatformWhatsApp  Platform = "WHATSAPP"
	PlatformInstagram Platform = "INSTAGRAM"
	PlatformEmail     Platform = "EMAIL"
	PlatformVoice     Platform = "VOICE"
)

// Platforms lists every supported platform.
var Platforms = []Platform{PlatformWhatsApp, PlatformInstagram, PlatformEmail, PlatformVoice}

// ParsePlatform accepts the lowercase URL segment or the stored enum value.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Platforms {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// Slug is the lowercase form used in URLs and display placeholders.
func (p Platform) Slug() string {
	return strings.ToLower(string(p))
}

type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusClosed Status = "CLOSED"
)

type SenderType string

const (
	SenderUser  SenderType = "USER"
	SenderAI    SenderType = "AI"
	SenderAgent SenderType = "AGENT"
)

type ChannelMode string

const (
	ModeAIOnly    ChannelMode = "AI_ONLY"
	ModeHybrid    ChannelMode = "HYBRID"
	ModeHumanOnly ChannelMode = "HUMAN_ONLY"
)

// SessionID derives the unique conversation key for an external contact on a platform.
func SessionID(platform Platform, externalContactID string) string {
	return string(platform) + ":" + externalContactID
}

// PlaceholderName is the deterministic display name used when no profile name is known.
func PlaceholderName(platform Platform, externalContactID string) string {
	return platform.Slug() + ":" + externalContactID
}

// IsPlaceholderName reports whether name is the placeholder for the contact.
func IsPlaceholderName(platform Platform, externalContactID, name string) bool {
	return name == "" || name == PlaceholderName(platform, externalContactID)
}

type Conversation struct {
	ID              string
	SessionID       string
	Platform        Platform
	CustomerName    string
	CustomerContact string // external contact id on the platform
	OrganizationID  int64
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Message struct {
	ID             string
	ConversationID string
	Sender         SenderType
	Content        string
	ExternalID     string // provider event id; empty for outbound messages
	CreatedAt      time.Time
}

type Takeover struct {
	ConversationID string
	ExpiresAt      time.Time
	CreatedBy      string
}

// Active reports whether a human owns the conversation at now.
func (t *Takeover) Active(now time.Time) bool {
	return t != nil && t.ExpiresAt.After(now)
}

type Channel struct {
	OrganizationID    int64
	Platform          Platform
	Enabled           bool
	Mode              ChannelMode
	AssistAIAgentCode string
}

// Integration holds the per-organization provider credentials.
type Integration struct {
	OrganizationID int64
	Platform       Platform
	AccessToken    string
	AccountID      string // WhatsApp phone number id, Instagram account id, or Mailgun domain
	VerifyToken    string
	AppSecret      string // signs inbound deliveries
	FromAddress    string // email only
}
