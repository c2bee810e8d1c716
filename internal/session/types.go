// Package session persists conversations: sessions and their ordered
// message history.
//
// Two invariants hold across both backends:
//   - sequence numbers are dense and strictly increasing per session
//   - created_at timestamps never move backwards within a session, even
//     under clock skew
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// Role identifies a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MaxTitleLength bounds auto-generated session titles.
const MaxTitleLength = 64

// Session is one conversation.
type Session struct {
	ID             uuid.UUID
	OwnerID        string
	Title          string
	Status         Status
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// Message is one turn in a conversation. SequenceNumber is assigned by the
// store at append time and is dense per session.
type Message struct {
	ID             uuid.UUID
	SessionID      uuid.UUID
	Role           Role
	Content        string
	TokenCount     int
	Truncated      bool
	SequenceNumber int64
	CreatedAt      time.Time
}

// TitleFromMessage derives a session title from the first user message by
// truncating on a rune boundary.
func TitleFromMessage(content string) string {
	title := strings.TrimSpace(content)
	runes := []rune(title)
	if len(runes) > MaxTitleLength {
		title = string(runes[:MaxTitleLength-1]) + "…"
	}
	if title == "" {
		title = "New conversation"
	}
	return title
}
