package support

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/petalia/florabot/internal/models"
	"github.com/petalia/florabot/internal/repository"
)

// fakeStore is an in-memory TicketStore mirroring the repository's
// conditional-update semantics: first-* fields written once, status
// transitions guarded on 'open', absent rows as (nil, nil).
type fakeStore struct {
	mu      sync.Mutex
	nextID  int64
	tickets map[int64]*models.SupportTicket

	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{nextID: 1, tickets: make(map[int64]*models.SupportTicket)}
}

func (s *fakeStore) Create(_ context.Context, t *models.SupportTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	for _, existing := range s.tickets {
		if existing.TelegramID == t.TelegramID && existing.Status == models.TicketStatusOpen {
			return repository.ErrDuplicateOpenTicket
		}
	}
	t.ID = s.nextID
	s.nextID++
	t.Status = models.TicketStatusOpen
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	clone := *t
	s.tickets[t.ID] = &clone
	return nil
}

func (s *fakeStore) Reopen(_ context.Context, id int64) (*models.SupportTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, nil
	}
	t.Status = models.TicketStatusOpen
	t.ClosedAt = nil
	t.AssignedManagerTelegramID = nil
	t.AssignedManagerUsername = nil
	t.FirstClientMessageAt = nil
	t.LastClientMessageAt = nil
	t.FirstManagerResponseAt = nil
	t.LastManagerResponseAt = nil
	t.CardMessageID = nil
	t.UpdatedAt = time.Now()
	clone := *t
	return &clone, nil
}

func (s *fakeStore) CloseIfOpen(_ context.Context, id int64, managerID *int64, managerUsername *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok || t.Status != models.TicketStatusOpen {
		return false, nil
	}
	t.Status = models.TicketStatusClosed
	now := time.Now()
	t.ClosedAt = &now
	if t.AssignedManagerTelegramID == nil && managerID != nil {
		v := *managerID
		t.AssignedManagerTelegramID = &v
	}
	if t.AssignedManagerUsername == nil && managerUsername != nil {
		v := *managerUsername
		t.AssignedManagerUsername = &v
	}
	t.UpdatedAt = now
	return true, nil
}

func (s *fakeStore) RecordClientMessage(_ context.Context, id int64, at time.Time) (*models.SupportTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok || t.Status != models.TicketStatusOpen {
		return nil, nil
	}
	if t.FirstClientMessageAt == nil {
		v := at
		t.FirstClientMessageAt = &v
	}
	v := at
	t.LastClientMessageAt = &v
	t.UpdatedAt = time.Now()
	clone := *t
	return &clone, nil
}

func (s *fakeStore) RecordManagerResponse(_ context.Context, id int64, managerID int64, managerUsername string, at time.Time) (*models.SupportTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok || t.Status != models.TicketStatusOpen {
		return nil, nil
	}
	if t.FirstManagerResponseAt == nil {
		v := at
		t.FirstManagerResponseAt = &v
	}
	v := at
	t.LastManagerResponseAt = &v
	if t.AssignedManagerTelegramID == nil {
		id := managerID
		t.AssignedManagerTelegramID = &id
	}
	if t.AssignedManagerUsername == nil && managerUsername != "" {
		u := managerUsername
		t.AssignedManagerUsername = &u
	}
	t.UpdatedAt = time.Now()
	clone := *t
	return &clone, nil
}

func (s *fakeStore) GetOpenByTelegramID(_ context.Context, telegramID int64) (*models.SupportTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.SupportTicket
	for _, t := range s.tickets {
		if t.TelegramID == telegramID && t.Status == models.TicketStatusOpen {
			if best == nil || t.ID > best.ID {
				best = t
			}
		}
	}
	if best == nil {
		return nil, nil
	}
	clone := *best
	return &clone, nil
}

func (s *fakeStore) GetLatestByTelegramID(_ context.Context, telegramID int64) (*models.SupportTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.SupportTicket
	for _, t := range s.tickets {
		if t.TelegramID == telegramID {
			if best == nil || t.ID > best.ID {
				best = t
			}
		}
	}
	if best == nil {
		return nil, nil
	}
	clone := *best
	return &clone, nil
}

func (s *fakeStore) GetByThread(_ context.Context, groupChatID int64, threadID int) (*models.SupportTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.SupportTicket
	for _, t := range s.tickets {
		if t.GroupChatID == groupChatID && t.ThreadID == threadID {
			if best == nil || t.ID > best.ID {
				best = t
			}
		}
	}
	if best == nil {
		return nil, nil
	}
	clone := *best
	return &clone, nil
}

func (s *fakeStore) SetCardMessageID(_ context.Context, id int64, messageID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tickets[id]; ok {
		v := messageID
		t.CardMessageID = &v
	}
	return nil
}

// get returns the stored row for assertions.
func (s *fakeStore) get(id int64) *models.SupportTicket {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tickets[id]; ok {
		clone := *t
		return &clone
	}
	return nil
}

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[int64]int64

	setErr error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[int64]int64)}
}

func (s *fakeSessions) SetActiveSession(_ context.Context, telegramID, ticketID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.sessions[telegramID] = ticketID
	return nil
}

func (s *fakeSessions) ActiveSession(_ context.Context, telegramID int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.sessions[telegramID]
	return id, ok, nil
}

func (s *fakeSessions) ClearActiveSession(_ context.Context, telegramID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, telegramID)
	return nil
}

// sentMessage records one SendMessage call.
type sentMessage struct {
	ChatID   int64
	ThreadID int
	Text     string
}

// copiedMessage records one CopyMessage call.
type copiedMessage struct {
	ToChatID   int64
	FromChatID int64
	MessageID  int
	ThreadID   int
	Caption    string
}

// editedMessage records one EditMessageText call.
type editedMessage struct {
	ChatID    int64
	MessageID int
	Text      string
}

// fakeTransport records every outbound call and lets tests force failures
// per operation.
type fakeTransport struct {
	mu sync.Mutex

	sent   []sentMessage
	copied []copiedMessage
	edited []editedMessage
	cards  []int64

	createdTopics  []string
	reopenedTopics []int
	closedTopics   []int

	nextThreadID  int
	nextMessageID int

	forum bool

	sendErr     error
	createErr   error
	chatInfoErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{nextThreadID: 100, nextMessageID: 1000, forum: true}
}

func (t *fakeTransport) SendMessage(_ context.Context, chatID int64, threadID int, text string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return 0, t.sendErr
	}
	t.sent = append(t.sent, sentMessage{ChatID: chatID, ThreadID: threadID, Text: text})
	t.nextMessageID++
	return t.nextMessageID, nil
}

func (t *fakeTransport) SendTicketCard(_ context.Context, chatID int64, threadID int, text string, ticketID int64) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return 0, t.sendErr
	}
	t.sent = append(t.sent, sentMessage{ChatID: chatID, ThreadID: threadID, Text: text})
	t.cards = append(t.cards, ticketID)
	t.nextMessageID++
	return t.nextMessageID, nil
}

func (t *fakeTransport) CopyMessage(_ context.Context, toChatID, fromChatID int64, messageID, threadID int, caption string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.copied = append(t.copied, copiedMessage{
		ToChatID: toChatID, FromChatID: fromChatID,
		MessageID: messageID, ThreadID: threadID, Caption: caption,
	})
	t.nextMessageID++
	return t.nextMessageID, nil
}

func (t *fakeTransport) EditMessageText(_ context.Context, chatID int64, messageID int, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.edited = append(t.edited, editedMessage{ChatID: chatID, MessageID: messageID, Text: text})
	return nil
}

func (t *fakeTransport) CreateTopic(_ context.Context, _ int64, name string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.createErr != nil {
		return 0, t.createErr
	}
	t.createdTopics = append(t.createdTopics, name)
	t.nextThreadID++
	return t.nextThreadID, nil
}

func (t *fakeTransport) ReopenTopic(_ context.Context, _ int64, threadID int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reopenedTopics = append(t.reopenedTopics, threadID)
	return nil
}

func (t *fakeTransport) CloseTopic(_ context.Context, _ int64, threadID int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closedTopics = append(t.closedTopics, threadID)
	return nil
}

func (t *fakeTransport) ChatInfo(_ context.Context, chatID int64) (*ChatInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.chatInfoErr != nil {
		return nil, t.chatInfoErr
	}
	return &ChatInfo{Title: fmt.Sprintf("chat %d", chatID), IsForum: t.forum}, nil
}

// sentTo filters recorded sends by chat.
func (t *fakeTransport) sentTo(chatID int64) []sentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []sentMessage
	for _, m := range t.sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}
