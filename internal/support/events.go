// Package support implements the live-chat bridge between client private
// chats and the manager group: ticket lifecycle, message routing and the
// labeling/timing rules shared by both.
package support

import "time"

// ChatKind classifies where an inbound message arrived.
type ChatKind string

const (
	ChatKindPrivate ChatKind = "private"
	ChatKindGroup   ChatKind = "group"
	ChatKindOther   ChatKind = "other"
)

// Party identifies one side of a conversation: a client or a manager.
type Party struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	IsBot     bool
}

// InboundMessage is the typed event the transport adapter produces from a
// raw bot update. The router classifies on this closed shape instead of
// probing provider-specific payloads.
type InboundMessage struct {
	MessageID int
	ChatID    int64
	ChatKind  ChatKind
	// ThreadID is the forum topic the message arrived in; zero outside
	// topics.
	ThreadID int
	Sender   Party
	Text     string
	Caption  string
	HasMedia bool
	SentAt   time.Time
}

// IsCommand reports whether the message text is a slash command.
func (m *InboundMessage) IsCommand() bool {
	return len(m.Text) > 0 && m.Text[0] == '/'
}
