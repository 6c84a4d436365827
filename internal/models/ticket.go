package models

import "time"

// TicketStatus is the lifecycle state of a support ticket.
type TicketStatus string

const (
	TicketStatusOpen   TicketStatus = "open"
	TicketStatusClosed TicketStatus = "closed"
)

// SupportTicket is one support conversation cycle for a client, bound to
// a forum topic in the manager group. A ticket is never deleted: closing
// and reopening reuses the same row and topic while resetting timing and
// assignment fields.
type SupportTicket struct {
	ID               int64  `db:"id" json:"id"`
	TelegramID       int64  `db:"telegram_id" json:"telegram_id"`
	TelegramUsername string `db:"telegram_username" json:"telegram_username"`
	CustomerName     string `db:"customer_name" json:"customer_name"`

	GroupChatID int64  `db:"group_chat_id" json:"group_chat_id"`
	ThreadID    int    `db:"thread_id" json:"thread_id"`
	TopicName   string `db:"topic_name" json:"topic_name"`

	Status TicketStatus `db:"status" json:"status"`

	// First-responder assignment. Set once by the first manager reply of a
	// cycle and cleared only on reopen.
	AssignedManagerTelegramID *int64  `db:"assigned_manager_telegram_id" json:"assigned_manager_telegram_id,omitempty"`
	AssignedManagerUsername   *string `db:"assigned_manager_username" json:"assigned_manager_username,omitempty"`

	// "First" timestamps are written exactly once per open/close cycle,
	// "last" timestamps on every event.
	FirstClientMessageAt   *time.Time `db:"first_client_message_at" json:"first_client_message_at,omitempty"`
	LastClientMessageAt    *time.Time `db:"last_client_message_at" json:"last_client_message_at,omitempty"`
	FirstManagerResponseAt *time.Time `db:"first_manager_response_at" json:"first_manager_response_at,omitempty"`
	LastManagerResponseAt  *time.Time `db:"last_manager_response_at" json:"last_manager_response_at,omitempty"`

	// CardMessageID points at the ticket card posted into the topic so the
	// card can be edited when the ticket closes.
	CardMessageID *int `db:"card_message_id" json:"card_message_id,omitempty"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	ClosedAt  *time.Time `db:"closed_at" json:"closed_at,omitempty"`
}

// IsOpen reports whether the ticket is in the open state.
func (t *SupportTicket) IsOpen() bool {
	return t.Status == TicketStatusOpen
}

// LastActivity returns the most recent activity on either side of the
// conversation, falling back to CreatedAt when a side has not spoken yet.
// The auto-close sweep compares this against its inactivity cutoff.
func (t *SupportTicket) LastActivity() time.Time {
	last := t.CreatedAt
	if t.LastClientMessageAt != nil && t.LastClientMessageAt.After(last) {
		last = *t.LastClientMessageAt
	}
	if t.LastManagerResponseAt != nil && t.LastManagerResponseAt.After(last) {
		last = *t.LastManagerResponseAt
	}
	return last
}
