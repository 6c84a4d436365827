package support

import (
	"context"
	"time"

	"github.com/petalia/florabot/internal/models"
)

// ChatInfo describes the support destination chat.
type ChatInfo struct {
	Title   string
	IsForum bool
}

// Transport is the messaging capability the support core needs. The core
// does not own retries or rate limits for these operations; failures are
// surfaced as errors and the caller decides whether they are fatal.
type Transport interface {
	// SendMessage posts text into a chat, scoped to a forum topic when
	// threadID is non-zero. Returns the new message id.
	SendMessage(ctx context.Context, chatID int64, threadID int, text string) (int, error)
	// SendTicketCard posts the ticket card together with its close
	// control, bound to the given ticket.
	SendTicketCard(ctx context.Context, chatID int64, threadID int, text string, ticketID int64) (int, error)
	// CopyMessage re-posts an existing message into another chat without a
	// forward header. A non-empty caption overrides the original one.
	CopyMessage(ctx context.Context, toChatID, fromChatID int64, messageID, threadID int, caption string) (int, error)
	EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error
	CreateTopic(ctx context.Context, chatID int64, name string) (int, error)
	ReopenTopic(ctx context.Context, chatID int64, threadID int) error
	CloseTopic(ctx context.Context, chatID int64, threadID int) error
	ChatInfo(ctx context.Context, chatID int64) (*ChatInfo, error)
}

// SessionStore is the ephemeral session-pointer side of the cache.
type SessionStore interface {
	SetActiveSession(ctx context.Context, telegramID, ticketID int64) error
	ActiveSession(ctx context.Context, telegramID int64) (int64, bool, error)
	ClearActiveSession(ctx context.Context, telegramID int64) error
}

// TicketStore is the durable side consumed by the lifecycle manager and
// router. Satisfied by repository.TicketSQLRepository.
type TicketStore interface {
	Create(ctx context.Context, t *models.SupportTicket) error
	Reopen(ctx context.Context, id int64) (*models.SupportTicket, error)
	CloseIfOpen(ctx context.Context, id int64, managerID *int64, managerUsername *string) (bool, error)
	RecordClientMessage(ctx context.Context, id int64, at time.Time) (*models.SupportTicket, error)
	RecordManagerResponse(ctx context.Context, id int64, managerID int64, managerUsername string, at time.Time) (*models.SupportTicket, error)
	GetOpenByTelegramID(ctx context.Context, telegramID int64) (*models.SupportTicket, error)
	GetLatestByTelegramID(ctx context.Context, telegramID int64) (*models.SupportTicket, error)
	GetByThread(ctx context.Context, groupChatID int64, threadID int) (*models.SupportTicket, error)
	SetCardMessageID(ctx context.Context, id int64, messageID int) error
}
