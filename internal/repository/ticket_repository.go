package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/petalia/florabot/internal/models"
)

// ErrDuplicateOpenTicket is returned when an insert loses the race against a
// concurrent startSupport for the same client (partial unique index on open
// status). Callers should re-read the winning row.
var ErrDuplicateOpenTicket = errors.New("open ticket already exists for client")

// TicketRepository defines the persistence operations of the support core.
// Absent rows are returned as (nil, nil), never as an error. Every status
// transition is a single conditional statement so the sweeper and live
// close actions stay correct when they race on the same ticket.
type TicketRepository interface {
	Create(ctx context.Context, t *models.SupportTicket) error
	Reopen(ctx context.Context, id int64) (*models.SupportTicket, error)
	CloseIfOpen(ctx context.Context, id int64, managerID *int64, managerUsername *string) (bool, error)
	RecordClientMessage(ctx context.Context, id int64, at time.Time) (*models.SupportTicket, error)
	RecordManagerResponse(ctx context.Context, id int64, managerID int64, managerUsername string, at time.Time) (*models.SupportTicket, error)
	GetOpenByTelegramID(ctx context.Context, telegramID int64) (*models.SupportTicket, error)
	GetLatestByTelegramID(ctx context.Context, telegramID int64) (*models.SupportTicket, error)
	GetByThread(ctx context.Context, groupChatID int64, threadID int) (*models.SupportTicket, error)
	FindInactiveOpen(ctx context.Context, cutoff time.Time, limit int) ([]*models.SupportTicket, error)
	SetCardMessageID(ctx context.Context, id int64, messageID int) error
}

const ticketColumns = `id, telegram_id, telegram_username, customer_name,
	group_chat_id, thread_id, topic_name, status,
	assigned_manager_telegram_id, assigned_manager_username,
	first_client_message_at, last_client_message_at,
	first_manager_response_at, last_manager_response_at,
	card_message_id, created_at, updated_at, closed_at`

// TicketSQLRepository implements TicketRepository on Postgres.
type TicketSQLRepository struct {
	db *sqlx.DB
}

// NewTicketRepository creates a new ticket repository.
func NewTicketRepository(db *sqlx.DB) *TicketSQLRepository {
	return &TicketSQLRepository{db: db}
}

// Create inserts a new open ticket and fills in the generated fields.
func (r *TicketSQLRepository) Create(ctx context.Context, t *models.SupportTicket) error {
	query := `
		INSERT INTO support_tickets
			(telegram_id, telegram_username, customer_name, group_chat_id, thread_id, topic_name, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'open')
		RETURNING id, status, created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		t.TelegramID, t.TelegramUsername, t.CustomerName,
		t.GroupChatID, t.ThreadID, t.TopicName,
	).Scan(&t.ID, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrDuplicateOpenTicket
		}
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

// Reopen resets a ticket to a fresh open cycle: status, closed_at, the
// manager assignment and all four timing fields are cleared while the bound
// topic identity stays untouched.
func (r *TicketSQLRepository) Reopen(ctx context.Context, id int64) (*models.SupportTicket, error) {
	query := `
		UPDATE support_tickets SET
			status = 'open',
			closed_at = NULL,
			assigned_manager_telegram_id = NULL,
			assigned_manager_username = NULL,
			first_client_message_at = NULL,
			last_client_message_at = NULL,
			first_manager_response_at = NULL,
			last_manager_response_at = NULL,
			card_message_id = NULL,
			updated_at = now()
		WHERE id = $1
		RETURNING ` + ticketColumns

	var t models.SupportTicket
	if err := r.db.QueryRowxContext(ctx, query, id).StructScan(&t); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("reopen ticket %d: %w", id, err)
	}
	return &t, nil
}

// CloseIfOpen transitions open -> closed in one conditional statement and
// reports whether this caller won the transition. The assignment is kept if
// already set; a closing manager only fills the gap (closing never
// unassigns). Zero affected rows means someone else closed first, which is
// expected and not an error.
func (r *TicketSQLRepository) CloseIfOpen(ctx context.Context, id int64, managerID *int64, managerUsername *string) (bool, error) {
	query := `
		UPDATE support_tickets SET
			status = 'closed',
			closed_at = now(),
			assigned_manager_telegram_id = COALESCE(assigned_manager_telegram_id, $2),
			assigned_manager_username = COALESCE(assigned_manager_username, $3),
			updated_at = now()
		WHERE id = $1 AND status = 'open'`

	res, err := r.db.ExecContext(ctx, query, id, managerID, managerUsername)
	if err != nil {
		return false, fmt.Errorf("close ticket %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close ticket %d: rows affected: %w", id, err)
	}
	return affected > 0, nil
}

// RecordClientMessage stamps a client message in one statement: the first
// timestamp only if still unset, the last timestamp always. Returns the
// updated row, or nil when the ticket is no longer open.
func (r *TicketSQLRepository) RecordClientMessage(ctx context.Context, id int64, at time.Time) (*models.SupportTicket, error) {
	query := `
		UPDATE support_tickets SET
			first_client_message_at = COALESCE(first_client_message_at, $2),
			last_client_message_at = $2,
			updated_at = now()
		WHERE id = $1 AND status = 'open'
		RETURNING ` + ticketColumns

	var t models.SupportTicket
	if err := r.db.QueryRowxContext(ctx, query, id, at).StructScan(&t); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("record client message on ticket %d: %w", id, err)
	}
	return &t, nil
}

// RecordManagerResponse stamps a manager reply and assigns the ticket to the
// first responder. Assignment and the first-response timestamp use COALESCE
// so later replies never overwrite them.
func (r *TicketSQLRepository) RecordManagerResponse(ctx context.Context, id int64, managerID int64, managerUsername string, at time.Time) (*models.SupportTicket, error) {
	query := `
		UPDATE support_tickets SET
			first_manager_response_at = COALESCE(first_manager_response_at, $2),
			last_manager_response_at = $2,
			assigned_manager_telegram_id = COALESCE(assigned_manager_telegram_id, $3),
			assigned_manager_username = COALESCE(assigned_manager_username, NULLIF($4, '')),
			updated_at = now()
		WHERE id = $1 AND status = 'open'
		RETURNING ` + ticketColumns

	var t models.SupportTicket
	if err := r.db.QueryRowxContext(ctx, query, id, at, managerID, managerUsername).StructScan(&t); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("record manager response on ticket %d: %w", id, err)
	}
	return &t, nil
}

// GetOpenByTelegramID returns the client's open ticket, newest first when
// duplicates exist.
func (r *TicketSQLRepository) GetOpenByTelegramID(ctx context.Context, telegramID int64) (*models.SupportTicket, error) {
	query := `SELECT ` + ticketColumns + `
		FROM support_tickets
		WHERE telegram_id = $1 AND status = 'open'
		ORDER BY id DESC LIMIT 1`
	return r.getOne(ctx, query, telegramID)
}

// GetLatestByTelegramID returns the client's most recent ticket regardless
// of status.
func (r *TicketSQLRepository) GetLatestByTelegramID(ctx context.Context, telegramID int64) (*models.SupportTicket, error) {
	query := `SELECT ` + ticketColumns + `
		FROM support_tickets
		WHERE telegram_id = $1
		ORDER BY id DESC LIMIT 1`
	return r.getOne(ctx, query, telegramID)
}

// GetByThread maps a (group, topic) pair to its ticket. Most recent by id
// wins when duplicates exist.
func (r *TicketSQLRepository) GetByThread(ctx context.Context, groupChatID int64, threadID int) (*models.SupportTicket, error) {
	query := `SELECT ` + ticketColumns + `
		FROM support_tickets
		WHERE group_chat_id = $1 AND thread_id = $2
		ORDER BY id DESC LIMIT 1`
	return r.getOne(ctx, query, groupChatID, threadID)
}

// FindInactiveOpen selects open tickets whose effective last activity
// (client or manager, defaulting to creation) is older than the cutoff.
func (r *TicketSQLRepository) FindInactiveOpen(ctx context.Context, cutoff time.Time, limit int) ([]*models.SupportTicket, error) {
	query := `SELECT ` + ticketColumns + `
		FROM support_tickets
		WHERE status = 'open'
		  AND GREATEST(COALESCE(last_client_message_at, created_at),
		               COALESCE(last_manager_response_at, created_at)) < $1
		ORDER BY id
		LIMIT $2`

	rows, err := r.db.QueryxContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("find inactive tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*models.SupportTicket
	for rows.Next() {
		var t models.SupportTicket
		if err := rows.StructScan(&t); err != nil {
			return nil, fmt.Errorf("scan inactive ticket: %w", err)
		}
		tickets = append(tickets, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inactive tickets: %w", err)
	}
	return tickets, nil
}

// SetCardMessageID remembers the ticket card posted into the topic.
func (r *TicketSQLRepository) SetCardMessageID(ctx context.Context, id int64, messageID int) error {
	query := `UPDATE support_tickets SET card_message_id = $2, updated_at = now() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, messageID); err != nil {
		return fmt.Errorf("set card message on ticket %d: %w", id, err)
	}
	return nil
}

func (r *TicketSQLRepository) getOne(ctx context.Context, query string, args ...any) (*models.SupportTicket, error) {
	var t models.SupportTicket
	if err := r.db.QueryRowxContext(ctx, query, args...).StructScan(&t); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return &t, nil
}
