package support

import (
	"context"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petalia/florabot/internal/models"
)

type routerFixture struct {
	router    *Router
	manager   *Manager
	store     *fakeStore
	sessions  *fakeSessions
	transport *fakeTransport
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	store := newFakeStore()
	sessions := newFakeSessions()
	transport := newFakeTransport()
	logger := log.New(io.Discard, "", 0)
	cfg := Config{GroupChatID: testGroupID, LogThreadID: testLogThread}
	manager := NewManager(store, sessions, transport, cfg, logger)
	return &routerFixture{
		router:    NewRouter(store, sessions, transport, manager, logger),
		manager:   manager,
		store:     store,
		sessions:  sessions,
		transport: transport,
	}
}

// openTicket starts a conversation and returns the stored row.
func (f *routerFixture) openTicket(t *testing.T) *models.SupportTicket {
	t.Helper()
	ticket, err := f.manager.StartSupport(context.Background(), testClient())
	require.NoError(t, err)
	return f.store.get(ticket.ID)
}

func clientText(text string) *InboundMessage {
	return &InboundMessage{
		MessageID: 11,
		ChatID:    555,
		ChatKind:  ChatKindPrivate,
		Sender:    testClient(),
		Text:      text,
		SentAt:    time.Now(),
	}
}

func managerText(ticket *models.SupportTicket, text string) *InboundMessage {
	return &InboundMessage{
		MessageID: 21,
		ChatID:    testGroupID,
		ChatKind:  ChatKindGroup,
		ThreadID:  ticket.ThreadID,
		Sender:    Party{ID: 900, Username: "rosa", FirstName: "Rosa"},
		Text:      text,
		SentAt:    time.Now(),
	}
}

func TestRouterRelaysClientMessageIntoTopic(t *testing.T) {
	f := newRouterFixture(t)
	ticket := f.openTicket(t)
	ctx := context.Background()

	handled, err := f.router.HandleMessage(ctx, clientText("my tulips arrived wilted"))
	require.NoError(t, err)
	assert.True(t, handled)

	// Relayed into the bound topic with the client label.
	group := f.transport.sentTo(testGroupID)
	var relayed *sentMessage
	for i := range group {
		if group[i].ThreadID == ticket.ThreadID && strings.Contains(group[i].Text, "wilted") {
			relayed = &group[i]
		}
	}
	require.NotNil(t, relayed)
	assert.Contains(t, relayed.Text, "@daisy")

	// Timestamps stamped: first and last both set to this message.
	stored := f.store.get(ticket.ID)
	require.NotNil(t, stored.FirstClientMessageAt)
	require.NotNil(t, stored.LastClientMessageAt)
	assert.Equal(t, *stored.FirstClientMessageAt, *stored.LastClientMessageAt)

	// First message announced in the activity log with a preview.
	var sawLog bool
	for _, m := range f.transport.sentTo(testGroupID) {
		if m.ThreadID == testLogThread && strings.Contains(m.Text, "wilted") {
			sawLog = true
		}
	}
	assert.True(t, sawLog)
}

func TestRouterSecondClientMessageOnlyMovesLast(t *testing.T) {
	f := newRouterFixture(t)
	ticket := f.openTicket(t)
	ctx := context.Background()

	first := clientText("hello")
	first.SentAt = time.Now().Add(-time.Minute)
	_, err := f.router.HandleMessage(ctx, first)
	require.NoError(t, err)

	second := clientText("anyone there?")
	_, err = f.router.HandleMessage(ctx, second)
	require.NoError(t, err)

	stored := f.store.get(ticket.ID)
	assert.True(t, stored.FirstClientMessageAt.Equal(first.SentAt), "first timestamp sticks")
	assert.True(t, stored.LastClientMessageAt.Equal(second.SentAt), "last timestamp advances")
}

func TestRouterClientMediaIsCopiedWithCaption(t *testing.T) {
	f := newRouterFixture(t)
	ticket := f.openTicket(t)

	msg := clientText("")
	msg.HasMedia = true
	msg.Caption = "photo of the bouquet"
	handled, err := f.router.HandleMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, handled)

	require.Len(t, f.transport.copied, 1)
	c := f.transport.copied[0]
	assert.Equal(t, testGroupID, c.ToChatID)
	assert.Equal(t, ticket.ThreadID, c.ThreadID)
	assert.Contains(t, c.Caption, "@daisy")
	assert.Contains(t, c.Caption, "photo of the bouquet")
}

func TestRouterPassesThroughClientsWithoutSession(t *testing.T) {
	f := newRouterFixture(t)

	handled, err := f.router.HandleMessage(context.Background(), clientText("I want to order roses"))
	require.NoError(t, err)
	assert.False(t, handled, "shop flows own clients outside support")
	assert.Empty(t, f.transport.sent)
}

func TestRouterPassesThroughClientCommands(t *testing.T) {
	f := newRouterFixture(t)
	f.openTicket(t)

	handled, err := f.router.HandleMessage(context.Background(), clientText("/start"))
	require.NoError(t, err)
	assert.False(t, handled, "commands are not relayed")
}

func TestRouterHealsSessionDesync(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	// Pointer exists but no open ticket backs it.
	require.NoError(t, f.sessions.SetActiveSession(ctx, 555, 99))

	handled, err := f.router.HandleMessage(ctx, clientText("hello?"))
	require.NoError(t, err)
	assert.True(t, handled)

	_, ok, _ := f.sessions.ActiveSession(ctx, 555)
	assert.False(t, ok, "stale pointer removed")

	prompts := f.transport.sentTo(555)
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0].Text, "/support")
}

func TestRouterDesyncWhenTicketClosesMidFlight(t *testing.T) {
	f := newRouterFixture(t)
	ticket := f.openTicket(t)
	ctx := context.Background()

	// Session points at a ticket that is open at lookup but closed by the
	// time the pointer is followed: simulate with a mismatched pointer.
	won, err := f.store.CloseIfOpen(ctx, ticket.ID, nil, nil)
	require.NoError(t, err)
	require.True(t, won)

	handled, err := f.router.HandleMessage(ctx, clientText("still there?"))
	require.NoError(t, err)
	assert.True(t, handled)

	_, ok, _ := f.sessions.ActiveSession(ctx, 555)
	assert.False(t, ok)
}

func TestRouterManagerReplyRelayedToClient(t *testing.T) {
	f := newRouterFixture(t)
	ticket := f.openTicket(t)
	ctx := context.Background()

	// Client writes first so reaction time has an anchor.
	first := clientText("hello")
	first.SentAt = time.Now().Add(-3 * time.Minute)
	_, err := f.router.HandleMessage(ctx, first)
	require.NoError(t, err)

	handled, err := f.router.HandleMessage(ctx, managerText(ticket, "on it, sorry for the wait"))
	require.NoError(t, err)
	assert.True(t, handled)

	// Delivered to the client's private chat with the manager label.
	private := f.transport.sentTo(555)
	require.NotEmpty(t, private)
	last := private[len(private)-1]
	assert.Contains(t, last.Text, "@rosa")
	assert.Contains(t, last.Text, "on it")

	// First responder wins the assignment.
	stored := f.store.get(ticket.ID)
	require.NotNil(t, stored.AssignedManagerTelegramID)
	assert.Equal(t, int64(900), *stored.AssignedManagerTelegramID)
	require.NotNil(t, stored.FirstManagerResponseAt)

	// Reaction time lands in the activity log.
	var sawReaction bool
	for _, m := range f.transport.sentTo(testGroupID) {
		if m.ThreadID == testLogThread && strings.Contains(m.Text, "first response") {
			sawReaction = true
		}
	}
	assert.True(t, sawReaction)
}

func TestRouterManagerMediaRelayedWithPreamble(t *testing.T) {
	f := newRouterFixture(t)
	ticket := f.openTicket(t)

	msg := managerText(ticket, "")
	msg.HasMedia = true
	msg.Caption = "care instructions"
	handled, err := f.router.HandleMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, handled)

	// Label lands as its own message, then the media is copied with its
	// caption untouched.
	private := f.transport.sentTo(555)
	require.NotEmpty(t, private)
	assert.Contains(t, private[len(private)-1].Text, "@rosa")

	require.Len(t, f.transport.copied, 1)
	c := f.transport.copied[0]
	assert.Equal(t, int64(555), c.ToChatID)
	assert.Zero(t, c.ThreadID)
	assert.Empty(t, c.Caption)
}

func TestRouterSameSecondRepliesLogFirstResponseOnce(t *testing.T) {
	f := newRouterFixture(t)
	ticket := f.openTicket(t)
	ctx := context.Background()

	// Telegram timestamps carry second granularity, so two managers racing
	// for the first reply can share the exact same SentAt.
	at := time.Now().Truncate(time.Second)
	first := managerText(ticket, "on it")
	first.SentAt = at
	_, err := f.router.HandleMessage(ctx, first)
	require.NoError(t, err)

	second := managerText(ticket, "taking this one")
	second.Sender = Party{ID: 901, Username: "tulip"}
	second.SentAt = at
	_, err = f.router.HandleMessage(ctx, second)
	require.NoError(t, err)

	var reactions []string
	for _, m := range f.transport.sentTo(testGroupID) {
		if m.ThreadID == testLogThread && strings.Contains(m.Text, "first response") {
			reactions = append(reactions, m.Text)
		}
	}
	require.Len(t, reactions, 1, "reaction time is announced exactly once")
	assert.Contains(t, reactions[0], "@rosa")
	assert.NotContains(t, reactions[0], "@tulip")
}

func TestRouterSameSecondClientMessagesAnnounceOnce(t *testing.T) {
	f := newRouterFixture(t)
	f.openTicket(t)
	ctx := context.Background()

	at := time.Now().Truncate(time.Second)
	for _, text := range []string{"hello", "hello again"} {
		msg := clientText(text)
		msg.SentAt = at
		_, err := f.router.HandleMessage(ctx, msg)
		require.NoError(t, err)
	}

	announcements := 0
	for _, m := range f.transport.sentTo(testGroupID) {
		if m.ThreadID == testLogThread && strings.Contains(m.Text, "first message") {
			announcements++
		}
	}
	assert.Equal(t, 1, announcements)
}

func TestRouterAssignmentSticksToFirstResponder(t *testing.T) {
	f := newRouterFixture(t)
	ticket := f.openTicket(t)
	ctx := context.Background()

	_, err := f.router.HandleMessage(ctx, managerText(ticket, "first"))
	require.NoError(t, err)

	other := managerText(ticket, "second")
	other.Sender = Party{ID: 901, Username: "tulip"}
	_, err = f.router.HandleMessage(ctx, other)
	require.NoError(t, err)

	stored := f.store.get(ticket.ID)
	require.NotNil(t, stored.AssignedManagerTelegramID)
	assert.Equal(t, int64(900), *stored.AssignedManagerTelegramID)
	require.NotNil(t, stored.AssignedManagerUsername)
	assert.Equal(t, "rosa", *stored.AssignedManagerUsername)
	assert.True(t, stored.LastManagerResponseAt.After(*stored.FirstManagerResponseAt) ||
		stored.LastManagerResponseAt.Equal(*stored.FirstManagerResponseAt))
}

func TestRouterManagerCloseCommand(t *testing.T) {
	f := newRouterFixture(t)
	ticket := f.openTicket(t)
	ctx := context.Background()

	handled, err := f.router.HandleMessage(ctx, managerText(ticket, "/close"))
	require.NoError(t, err)
	assert.True(t, handled)

	stored := f.store.get(ticket.ID)
	assert.Equal(t, models.TicketStatusClosed, stored.Status)
	require.NotNil(t, stored.AssignedManagerTelegramID)
	assert.Equal(t, int64(900), *stored.AssignedManagerTelegramID, "unanswered close assigns the closer")

	// Client is notified directly, managers see thread ack and log line.
	private := f.transport.sentTo(555)
	require.NotEmpty(t, private)
	assert.Contains(t, private[len(private)-1].Text, "closed")

	var sawAck, sawLog bool
	for _, m := range f.transport.sentTo(testGroupID) {
		if m.ThreadID == ticket.ThreadID && strings.Contains(m.Text, "closed by @rosa") {
			sawAck = true
		}
		if m.ThreadID == testLogThread && strings.Contains(m.Text, "closed by @rosa") {
			sawLog = true
		}
	}
	assert.True(t, sawAck)
	assert.True(t, sawLog)
	assert.Contains(t, f.transport.closedTopics, ticket.ThreadID)
}

func TestRouterManagerCloseLosesRace(t *testing.T) {
	f := newRouterFixture(t)
	ticket := f.openTicket(t)
	ctx := context.Background()

	won, err := f.store.CloseIfOpen(ctx, ticket.ID, nil, nil)
	require.NoError(t, err)
	require.True(t, won)

	privateBefore := len(f.transport.sentTo(555))
	handled, err := f.router.HandleMessage(ctx, managerText(ticket, "/close"))
	require.NoError(t, err)
	assert.True(t, handled)

	// The loser only gets a thread ack; the client is not notified twice.
	assert.Len(t, f.transport.sentTo(555), privateBefore)
	var sawAlready bool
	for _, m := range f.transport.sentTo(testGroupID) {
		if m.ThreadID == ticket.ThreadID && strings.Contains(m.Text, "already closed") {
			sawAlready = true
		}
	}
	assert.True(t, sawAlready)
}

func TestRouterManagerMessageOnClosedTicketIsSwallowed(t *testing.T) {
	f := newRouterFixture(t)
	ticket := f.openTicket(t)
	ctx := context.Background()

	_, err := f.store.CloseIfOpen(ctx, ticket.ID, nil, nil)
	require.NoError(t, err)

	privateBefore := len(f.transport.sentTo(555))
	handled, err := f.router.HandleMessage(ctx, managerText(ticket, "too late"))
	require.NoError(t, err)
	assert.True(t, handled, "still ours, just nothing to relay")
	assert.Len(t, f.transport.sentTo(555), privateBefore)
}

func TestRouterIgnoresUnboundThreadsAndBots(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	t.Run("unbound thread passes through", func(t *testing.T) {
		msg := &InboundMessage{
			ChatID: testGroupID, ChatKind: ChatKindGroup, ThreadID: 9999,
			Sender: Party{ID: 900}, Text: "general chatter", SentAt: time.Now(),
		}
		handled, err := f.router.HandleMessage(ctx, msg)
		require.NoError(t, err)
		assert.False(t, handled)
	})

	t.Run("bot sender ignored", func(t *testing.T) {
		ticket := f.openTicket(t)
		msg := managerText(ticket, "card text")
		msg.Sender.IsBot = true
		handled, err := f.router.HandleMessage(ctx, msg)
		require.NoError(t, err)
		assert.False(t, handled)
		assert.Nil(t, f.store.get(ticket.ID).FirstManagerResponseAt)
	})

	t.Run("group message outside topics passes through", func(t *testing.T) {
		msg := &InboundMessage{
			ChatID: testGroupID, ChatKind: ChatKindGroup, ThreadID: 0,
			Sender: Party{ID: 900}, Text: "hi all", SentAt: time.Now(),
		}
		handled, err := f.router.HandleMessage(ctx, msg)
		require.NoError(t, err)
		assert.False(t, handled)
	})
}

func TestIsCloseCommand(t *testing.T) {
	assert.True(t, isCloseCommand("/close"))
	assert.True(t, isCloseCommand(" /close "))
	assert.True(t, isCloseCommand("/close@FloraSupportBot"))
	assert.False(t, isCloseCommand("/closeish"))
	assert.False(t, isCloseCommand("please /close this"))
}
