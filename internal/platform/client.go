// Package platform defines the boundary to the external messaging platform:
// conversation listing, message fetching, and the error type that carries
// the token-expiration signal the sync pipeline treats as fatal.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crmsync/internal/models"
)

// Participant is the remote identity behind a conversation.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Conversation is one remote thread between a page and a participant.
type Conversation struct {
	ID          string          `json:"id"`
	Platform    models.Platform `json:"platform"`
	Participant Participant     `json:"participant"`
	UpdatedAt   *time.Time      `json:"updatedAt,omitempty"`
	MessageCnt  int             `json:"messageCount"`
}

// Message is one message inside a conversation. Timestamp may be nil when the
// platform does not report one; such messages are treated as unknown-recency.
type Message struct {
	Sender    string     `json:"sender"`
	Text      string     `json:"text"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// ConversationStream is a lazy sequence of conversations. Next returns
// (nil, false, nil) once the stream is exhausted. Implementations fetch pages
// on demand; a stream is single-consumer.
type ConversationStream interface {
	Next(ctx context.Context) (*Conversation, bool, error)
}

// Client is the messaging-platform API surface the sync pipeline depends on.
type Client interface {
	// Conversations opens a lazy stream of conversation descriptors for a
	// page on one platform surface. Each call restarts from the beginning.
	Conversations(ctx context.Context, pageID string, p models.Platform) (ConversationStream, error)

	// Messages fetches all messages of a conversation, newest first (the
	// platform's native order).
	Messages(ctx context.Context, conversationID string) ([]Message, error)
}

// Error is a platform API failure. TokenExpired marks authentication
// failures that abort the remaining stream for that platform.
type Error struct {
	Code         int
	TokenExpired bool
	Message      string
}

func (e *Error) Error() string {
	if e.TokenExpired {
		return fmt.Sprintf("platform: token expired (code %d): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("platform: error (code %d): %s", e.Code, e.Message)
}

// IsTokenExpired reports whether err carries the token-expiration signal.
func IsTokenExpired(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.TokenExpired
	}
	return false
}
