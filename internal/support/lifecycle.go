package support

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/petalia/florabot/internal/models"
	"github.com/petalia/florabot/internal/repository"
)

// Config carries the support destination settings shared by the lifecycle
// manager and the router.
type Config struct {
	// GroupChatID is the forum-capable manager group.
	GroupChatID int64
	// LogThreadID optionally scopes activity-log posts to a dedicated
	// topic; zero posts to the group's general thread.
	LogThreadID int
	// Location renders human-readable timestamps in cards and log posts.
	Location *time.Location
}

func (c Config) location() *time.Location {
	if c.Location != nil {
		return c.Location
	}
	return time.UTC
}

// Manager owns ticket state transitions: it is the single entry point for
// opening, reopening and closing tickets and keeps the one-open-ticket-per-
// client invariant together with the database's partial unique index.
type Manager struct {
	store     TicketStore
	sessions  SessionStore
	transport Transport
	cfg       Config
	logger    *log.Logger
	now       func() time.Time
}

// NewManager wires the lifecycle manager. A nil logger falls back to the
// process default.
func NewManager(store TicketStore, sessions SessionStore, transport Transport, cfg Config, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		store:     store,
		sessions:  sessions,
		transport: transport,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Config exposes the destination settings to collaborators (router, bot).
func (m *Manager) Config() Config {
	return m.cfg
}

// TopicNameFor names the client's topic: username first, then full name,
// then the numeric id.
func TopicNameFor(client Party) string {
	if u := strings.TrimSpace(client.Username); u != "" {
		return "@" + u
	}
	name := strings.TrimSpace(strings.TrimSpace(client.FirstName) + " " + strings.TrimSpace(client.LastName))
	if name != "" {
		return name
	}
	return strconv.FormatInt(client.ID, 10)
}

// StartSupport opens a support conversation for the client and returns the
// ticket the client's messages will route into. Idempotent: an already-open
// ticket is returned unchanged with a refreshed session pointer. A previous
// ticket bound to the configured group is reopened together with its topic;
// only a client with no usable history gets a new topic and row.
func (m *Manager) StartSupport(ctx context.Context, client Party) (*models.SupportTicket, error) {
	if m.cfg.GroupChatID == 0 {
		return nil, ErrNoSupportGroup
	}

	open, err := m.store.GetOpenByTelegramID(ctx, client.ID)
	if err != nil {
		return nil, fmt.Errorf("look up open ticket: %w", err)
	}
	if open != nil {
		m.setSession(ctx, open)
		return open, nil
	}

	latest, err := m.store.GetLatestByTelegramID(ctx, client.ID)
	if err != nil {
		return nil, fmt.Errorf("look up latest ticket: %w", err)
	}
	if latest != nil && latest.GroupChatID == m.cfg.GroupChatID && latest.ThreadID != 0 {
		return m.reopenTicket(ctx, latest)
	}
	return m.createTicket(ctx, client)
}

func (m *Manager) reopenTicket(ctx context.Context, previous *models.SupportTicket) (*models.SupportTicket, error) {
	t, err := m.store.Reopen(ctx, previous.ID)
	if err != nil {
		return nil, fmt.Errorf("reopen ticket %d: %w", previous.ID, err)
	}
	if t == nil {
		return nil, fmt.Errorf("reopen ticket %d: ticket disappeared", previous.ID)
	}

	// A topic that cannot be reopened (deleted by an admin, already open)
	// does not block routing: messages still land in the thread.
	if err := m.transport.ReopenTopic(ctx, t.GroupChatID, t.ThreadID); err != nil {
		m.logger.Printf("support: reopen topic %d in chat %d for ticket %d: %v",
			t.ThreadID, t.GroupChatID, t.ID, err)
	}

	m.postCard(ctx, t)
	m.setSession(ctx, t)
	return t, nil
}

func (m *Manager) createTicket(ctx context.Context, client Party) (*models.SupportTicket, error) {
	info, err := m.transport.ChatInfo(ctx, m.cfg.GroupChatID)
	if err != nil {
		return nil, fmt.Errorf("inspect support group %d: %w", m.cfg.GroupChatID, err)
	}
	if !info.IsForum {
		return nil, ErrNotForum
	}

	topicName := TopicNameFor(client)
	threadID, err := m.transport.CreateTopic(ctx, m.cfg.GroupChatID, topicName)
	if err != nil {
		// No ticket without a destination.
		return nil, fmt.Errorf("create topic for client %d: %w", client.ID, err)
	}

	t := &models.SupportTicket{
		TelegramID:       client.ID,
		TelegramUsername: client.Username,
		CustomerName:     strings.TrimSpace(strings.TrimSpace(client.FirstName) + " " + strings.TrimSpace(client.LastName)),
		GroupChatID:      m.cfg.GroupChatID,
		ThreadID:         threadID,
		TopicName:        topicName,
	}
	if err := m.store.Create(ctx, t); err != nil {
		if errors.Is(err, repository.ErrDuplicateOpenTicket) {
			// Lost a concurrent startSupport for the same client: hand the
			// caller the winner's ticket and retire the topic we just made.
			if cerr := m.transport.CloseTopic(ctx, m.cfg.GroupChatID, threadID); cerr != nil {
				m.logger.Printf("support: close orphan topic %d: %v", threadID, cerr)
			}
			winner, werr := m.store.GetOpenByTelegramID(ctx, client.ID)
			if werr == nil && winner != nil {
				m.setSession(ctx, winner)
				return winner, nil
			}
		}
		return nil, fmt.Errorf("create ticket for client %d: %w", client.ID, err)
	}

	m.postCard(ctx, t)
	m.setSession(ctx, t)
	return t, nil
}

// CloseTicket transitions a ticket open -> closed and reports whether this
// caller won the transition. Losing the race to a concurrent close is
// expected and not an error. The session pointer is cleared regardless, and
// topic close plus card edit are best-effort: a notification failure never
// rolls back the committed status change.
func (m *Manager) CloseTicket(ctx context.Context, t *models.SupportTicket, closer *Party) (bool, error) {
	var managerID *int64
	var managerUsername *string
	if closer != nil {
		managerID = &closer.ID
		if u := strings.TrimSpace(closer.Username); u != "" {
			managerUsername = &u
		}
	}

	won, err := m.store.CloseIfOpen(ctx, t.ID, managerID, managerUsername)

	if cerr := m.sessions.ClearActiveSession(ctx, t.TelegramID); cerr != nil {
		m.logger.Printf("support: clear session for client %d: %v", t.TelegramID, cerr)
	}

	if err != nil {
		return false, fmt.Errorf("close ticket %d: %w", t.ID, err)
	}
	if !won {
		return false, nil
	}

	if cerr := m.transport.CloseTopic(ctx, t.GroupChatID, t.ThreadID); cerr != nil {
		m.logger.Printf("support: close topic %d for ticket %d: %v", t.ThreadID, t.ID, cerr)
	}
	if t.CardMessageID != nil {
		if eerr := m.transport.EditMessageText(ctx, t.GroupChatID, *t.CardMessageID, m.closedCardText(t)); eerr != nil {
			m.logger.Printf("support: edit card for ticket %d: %v", t.ID, eerr)
		}
	}
	return true, nil
}

// CloseByClient handles the client-side /close command. Returns the closed
// ticket, or nil when the client has nothing open.
func (m *Manager) CloseByClient(ctx context.Context, telegramID int64) (*models.SupportTicket, error) {
	t, err := m.store.GetOpenByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("look up open ticket: %w", err)
	}
	if t == nil {
		return nil, nil
	}
	won, err := m.CloseTicket(ctx, t, nil)
	if err != nil {
		return nil, err
	}
	if won {
		label := m.ticketClientLabel(t)
		if _, serr := m.transport.SendMessage(ctx, t.GroupChatID, t.ThreadID,
			fmt.Sprintf("🔒 %s closed the conversation.", label)); serr != nil {
			m.logger.Printf("support: notify topic about client close of ticket %d: %v", t.ID, serr)
		}
		m.PostSupportLog(ctx, fmt.Sprintf("🔒 Ticket #%d closed by client %s", t.ID, label))
	}
	return t, nil
}

// PostSupportLog posts a line into the manager-facing activity log. Always
// best-effort: the log is observability, not state.
func (m *Manager) PostSupportLog(ctx context.Context, text string) {
	if m.cfg.GroupChatID == 0 {
		return
	}
	if _, err := m.transport.SendMessage(ctx, m.cfg.GroupChatID, m.cfg.LogThreadID, text); err != nil {
		m.logger.Printf("support: post activity log: %v", err)
	}
}

func (m *Manager) setSession(ctx context.Context, t *models.SupportTicket) {
	if err := m.sessions.SetActiveSession(ctx, t.TelegramID, t.ID); err != nil {
		m.logger.Printf("support: set session for client %d: %v", t.TelegramID, err)
	}
}

// postCard posts the ticket card into the topic and remembers its message
// id so the card can be edited when the ticket closes.
func (m *Manager) postCard(ctx context.Context, t *models.SupportTicket) {
	msgID, err := m.transport.SendTicketCard(ctx, t.GroupChatID, t.ThreadID, m.cardText(t), t.ID)
	if err != nil {
		m.logger.Printf("support: post card for ticket %d: %v", t.ID, err)
		return
	}
	if err := m.store.SetCardMessageID(ctx, t.ID, msgID); err != nil {
		m.logger.Printf("support: remember card message for ticket %d: %v", t.ID, err)
		return
	}
	t.CardMessageID = &msgID
}

func (m *Manager) cardText(t *models.SupportTicket) string {
	return fmt.Sprintf("🎫 Ticket #%d\n👤 Client: %s\n🕒 Opened: %s\n🔗 Status: open",
		t.ID, m.ticketClientLabel(t), m.now().In(m.cfg.location()).Format("02.01.2006 15:04"))
}

func (m *Manager) closedCardText(t *models.SupportTicket) string {
	return fmt.Sprintf("🎫 Ticket #%d\n👤 Client: %s\n🔗 Status: closed · %s",
		t.ID, m.ticketClientLabel(t), m.now().In(m.cfg.location()).Format("02.01.2006 15:04"))
}

func (m *Manager) ticketClientLabel(t *models.SupportTicket) string {
	return DisplayLabel(Party{
		ID:        t.TelegramID,
		Username:  t.TelegramUsername,
		FirstName: t.CustomerName,
	})
}
