package utils

import (
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Mail provider folders
const (
	FolderInbox = "inbox"
	FolderSent  = "sent"
)

// RawAddress is a provider-side email address.
type RawAddress struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// RawBody carries the full message body with its content type.
type RawBody struct {
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
}

// RawMessage is a message as returned by the mail provider, before the
// sync engine has reconciled it with the message store.
type RawMessage struct {
	ProviderMessageID      string       `json:"provider_message_id"`
	ProviderConversationID string       `json:"provider_conversation_id"`
	Subject                string       `json:"subject"`
	BodyPreview            string       `json:"body_preview"`
	Body                   RawBody      `json:"body"`
	From                   RawAddress   `json:"from"`
	To                     []RawAddress `json:"to"`
	OccurredAt             time.Time    `json:"occurred_at"`
	IsRead                 bool         `json:"is_read"`
	HasAttachments         bool         `json:"has_attachments"`
}

// FetchOptions narrows a folder fetch.
type FetchOptions struct {
	Limit  int
	Offset int
	Filter string
}

// OutgoingMessage is a message to be sent through the provider.
type OutgoingMessage struct {
	To      []string
	CC      []string
	BCC     []string
	Subject string
	Body    string
}

// MailProvider is the external mailbox the sync engine polls and the
// senders deliver through. Implementations must treat FetchMessages as
// a snapshot of the most recent messages; callers rely on message-id
// dedup rather than cursors.
type MailProvider interface {
	FetchMessages(folder string, opts FetchOptions) ([]RawMessage, error)
	SendMessage(msg OutgoingMessage) error
}

// TokenCache holds a provider access token with its expiry. It refreshes
// through the configured oauth2 source when the cached token is within
// the safety margin of expiring. Owned by the provider client, passed
// by reference, never ambient state.
type TokenCache struct {
	mu     sync.Mutex
	source oauth2.TokenSource
	token  *oauth2.Token
	margin time.Duration
}

// NewTokenCache creates a cache over the given token source. margin is
// how long before expiry a token is already considered stale.
func NewTokenCache(source oauth2.TokenSource, margin time.Duration) *TokenCache {
	if margin <= 0 {
		margin = 2 * time.Minute
	}
	return &TokenCache{source: source, margin: margin}
}

// AccessToken returns a valid access token, refreshing if the cached
// one expires within the safety margin.
func (tc *TokenCache) AccessToken() (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.token != nil && tc.token.Valid() &&
		time.Until(tc.token.Expiry) > tc.margin {
		return tc.token.AccessToken, nil
	}

	token, err := tc.source.Token()
	if err != nil {
		return "", err
	}
	tc.token = token
	return token.AccessToken, nil
}
