package instagram

import "encoding/json"

// WebhookPayload is the Instagram Messaging webhook envelope.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID        string            `json:"id"`
	Messaging []json.RawMessage `json:"messaging"`
}

// MessagingEvent is one entry of Entry.Messaging, decoded on its own.
type MessagingEvent struct {
	Sender    Party    `json:"sender"`
	Recipient Party    `json:"recipient"`
	Timestamp int64    `json:"timestamp"` // unix milliseconds
	Message   *Message `json:"message,omitempty"`
}

type Party struct {
	ID string `json:"id"`
}

type Message struct {
	Mid       string `json:"mid"`
	Text      string `json:"text"`
	IsEcho    bool   `json:"is_echo,omitempty"`
	IsDeleted bool   `json:"is_deleted,omitempty"`
}

// ProfileResponse is the Graph API user profile.
type ProfileResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}
