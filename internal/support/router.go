package support

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/petalia/florabot/internal/models"
)

const previewLimit = 500

// Router relays messages between client private chats and ticket topics in
// the manager group. It never opens tickets; that is the lifecycle
// manager's job. Messages it does not recognize are passed through to the
// rest of the bot untouched.
type Router struct {
	store     TicketStore
	sessions  SessionStore
	transport Transport
	manager   *Manager
	logger    *log.Logger
	metrics   *routerMetrics
}

// NewRouter wires the message router around an already-built lifecycle
// manager.
func NewRouter(store TicketStore, sessions SessionStore, transport Transport, manager *Manager, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.Default()
	}
	return &Router{
		store:     store,
		sessions:  sessions,
		transport: transport,
		manager:   manager,
		logger:    logger,
		metrics:   globalRouterMetrics(),
	}
}

// HandleMessage routes one inbound message. It reports whether the message
// belonged to the support bridge; false means the caller's other handlers
// own it.
func (r *Router) HandleMessage(ctx context.Context, msg *InboundMessage) (bool, error) {
	if msg == nil || msg.Sender.IsBot {
		return false, nil
	}

	switch {
	case msg.ChatKind == ChatKindGroup && msg.ChatID == r.manager.Config().GroupChatID && msg.ThreadID != 0:
		return r.handleManagerMessage(ctx, msg)
	case msg.ChatKind == ChatKindPrivate && !msg.IsCommand():
		return r.handleClientMessage(ctx, msg)
	default:
		return false, nil
	}
}

// handleManagerMessage covers messages posted inside the support group's
// topics. Topics with no ticket bound to them (the activity log, manually
// created ones) are not ours.
func (r *Router) handleManagerMessage(ctx context.Context, msg *InboundMessage) (bool, error) {
	t, err := r.store.GetByThread(ctx, msg.ChatID, msg.ThreadID)
	if err != nil {
		return false, fmt.Errorf("look up ticket for thread %d: %w", msg.ThreadID, err)
	}
	if t == nil {
		return false, nil
	}

	if isCloseCommand(msg.Text) {
		return true, r.closeFromThread(ctx, t, msg)
	}
	if msg.IsCommand() {
		// Other commands inside a ticket thread are not relayed to the
		// client.
		return false, nil
	}

	updated, err := r.store.RecordManagerResponse(ctx, t.ID, msg.Sender.ID, msg.Sender.Username, msg.SentAt)
	if err != nil {
		return true, fmt.Errorf("record manager response on ticket %d: %w", t.ID, err)
	}
	if updated == nil {
		// Closed between lookup and record; nothing to relay.
		return true, nil
	}

	if firstWrite(t.FirstManagerResponseAt, updated.FirstManagerResponseAt) {
		r.logFirstResponse(ctx, updated, msg)
	}

	r.relayToClient(ctx, updated, msg)
	r.metrics.recordRelay("manager_to_client")
	return true, nil
}

func (r *Router) closeFromThread(ctx context.Context, t *models.SupportTicket, msg *InboundMessage) error {
	won, err := r.manager.CloseTicket(ctx, t, &msg.Sender)
	if err != nil {
		return err
	}
	if !won {
		if _, serr := r.transport.SendMessage(ctx, msg.ChatID, msg.ThreadID,
			fmt.Sprintf("Ticket #%d is already closed.", t.ID)); serr != nil {
			r.logger.Printf("support: ack duplicate close of ticket %d: %v", t.ID, serr)
		}
		return nil
	}

	r.metrics.recordClose("manager")
	label := ManagerLabel(msg.Sender)

	if _, serr := r.transport.SendMessage(ctx, t.TelegramID, 0,
		"✅ Your support conversation has been closed. Send /support to start a new one."); serr != nil {
		r.logger.Printf("support: notify client %d about close of ticket %d: %v", t.TelegramID, t.ID, serr)
	}
	if _, serr := r.transport.SendMessage(ctx, msg.ChatID, msg.ThreadID,
		fmt.Sprintf("🔒 Ticket #%d closed by %s.", t.ID, label)); serr != nil {
		r.logger.Printf("support: ack close of ticket %d: %v", t.ID, serr)
	}
	r.manager.PostSupportLog(ctx, fmt.Sprintf("🔒 Ticket #%d (%s) closed by %s",
		t.ID, t.TopicName, label))
	return nil
}

func (r *Router) logFirstResponse(ctx context.Context, t *models.SupportTicket, msg *InboundMessage) {
	loc := r.manager.Config().location()
	since := t.CreatedAt
	if t.FirstClientMessageAt != nil {
		since = *t.FirstClientMessageAt
	}
	reaction := t.FirstManagerResponseAt.Sub(since)
	r.manager.PostSupportLog(ctx, fmt.Sprintf(
		"⚡ Ticket #%d: first response to %s by %s after %s (asked %s, answered %s)",
		t.ID, r.manager.ticketClientLabel(t), ManagerLabel(msg.Sender), FormatDuration(reaction),
		since.In(loc).Format("02.01.2006 15:04"),
		t.FirstManagerResponseAt.In(loc).Format("02.01.2006 15:04")))
}

// relayToClient delivers a manager message into the client's private chat,
// labeled with the manager's display label so the client never sees the
// manager's real account. Delivery failures (blocked bot, deleted account)
// are logged, never escalated: the response is already recorded.
func (r *Router) relayToClient(ctx context.Context, t *models.SupportTicket, msg *InboundMessage) {
	label := ManagerLabel(msg.Sender)
	if msg.HasMedia {
		// Preamble first, then a copy keeping the original caption: the
		// client sees who answered without a forward header exposing the
		// manager's account.
		if _, err := r.transport.SendMessage(ctx, t.TelegramID, 0, "💬 "+label+":"); err != nil {
			r.logger.Printf("support: media preamble to client %d on ticket %d: %v", t.TelegramID, t.ID, err)
		}
		if _, err := r.transport.CopyMessage(ctx, t.TelegramID, msg.ChatID, msg.MessageID, 0, ""); err != nil {
			r.logger.Printf("support: relay media to client %d on ticket %d: %v", t.TelegramID, t.ID, err)
		}
		return
	}
	if _, err := r.transport.SendMessage(ctx, t.TelegramID, 0,
		fmt.Sprintf("💬 %s:\n%s", label, msg.Text)); err != nil {
		r.logger.Printf("support: relay text to client %d on ticket %d: %v", t.TelegramID, t.ID, err)
	}
}

// handleClientMessage covers non-command private messages. Only clients
// with a live session pointer belong to the bridge; everyone else keeps
// talking to the shop flows.
func (r *Router) handleClientMessage(ctx context.Context, msg *InboundMessage) (bool, error) {
	ticketID, ok, err := r.sessions.ActiveSession(ctx, msg.Sender.ID)
	if err != nil {
		return false, fmt.Errorf("look up session for client %d: %w", msg.Sender.ID, err)
	}
	if !ok {
		return false, nil
	}

	t, err := r.store.GetOpenByTelegramID(ctx, msg.Sender.ID)
	if err != nil {
		return true, fmt.Errorf("look up open ticket for client %d: %w", msg.Sender.ID, err)
	}
	if t == nil || t.ID != ticketID {
		return true, r.handleDesync(ctx, msg.Sender.ID)
	}

	updated, err := r.store.RecordClientMessage(ctx, t.ID, msg.SentAt)
	if err != nil {
		return true, fmt.Errorf("record client message on ticket %d: %w", t.ID, err)
	}
	if updated == nil {
		// The ticket closed under us; the stale pointer is a desync too.
		return true, r.handleDesync(ctx, msg.Sender.ID)
	}

	if firstWrite(t.FirstClientMessageAt, updated.FirstClientMessageAt) {
		body := msg.Text
		if body == "" {
			body = msg.Caption
		}
		loc := r.manager.Config().location()
		r.manager.PostSupportLog(ctx, fmt.Sprintf("🆕 Ticket #%d (%s): first message from %s at %s: %s",
			updated.ID, updated.TopicName, DisplayLabel(msg.Sender),
			msg.SentAt.In(loc).Format("02.01.2006 15:04"), Preview(body, previewLimit)))
	}

	r.relayToTopic(ctx, updated, msg)
	r.metrics.recordRelay("client_to_manager")
	return true, nil
}

// handleDesync heals a session pointer with no open ticket behind it: the
// pointer goes away and the client is told how to start over.
func (r *Router) handleDesync(ctx context.Context, telegramID int64) error {
	r.metrics.recordDesync()
	if err := r.sessions.ClearActiveSession(ctx, telegramID); err != nil {
		return fmt.Errorf("clear stale session for client %d: %w", telegramID, err)
	}
	if _, err := r.transport.SendMessage(ctx, telegramID, 0,
		"Your support conversation is no longer active. Send /support to start a new one."); err != nil {
		r.logger.Printf("support: notify client %d about stale session: %v", telegramID, err)
	}
	return nil
}

func (r *Router) relayToTopic(ctx context.Context, t *models.SupportTicket, msg *InboundMessage) {
	label := DisplayLabel(msg.Sender)
	if msg.HasMedia {
		caption := "👤 " + label
		if c := strings.TrimSpace(msg.Caption); c != "" {
			caption += "\n" + c
		}
		if _, err := r.transport.CopyMessage(ctx, t.GroupChatID, msg.ChatID, msg.MessageID, t.ThreadID, caption); err != nil {
			r.logger.Printf("support: relay media to topic %d on ticket %d: %v", t.ThreadID, t.ID, err)
		}
		return
	}
	if _, err := r.transport.SendMessage(ctx, t.GroupChatID, t.ThreadID,
		fmt.Sprintf("👤 %s:\n%s", label, msg.Text)); err != nil {
		r.logger.Printf("support: relay text to topic %d on ticket %d: %v", t.ThreadID, t.ID, err)
	}
}

// firstWrite reports whether this update filled a first-* timestamp that was
// still empty on the row read before the update. Comparing rows instead of
// timestamps keeps two messages arriving within the same second apart.
func firstWrite(before, after *time.Time) bool {
	return before == nil && after != nil
}

// isCloseCommand matches /close and its bot-addressed form /close@BotName.
func isCloseCommand(text string) bool {
	text = strings.TrimSpace(text)
	if text == "/close" {
		return true
	}
	return strings.HasPrefix(text, "/close@")
}
