// Package telegram owns everything Bot API specific: the long-polling bot,
// command handlers and the transport adapter the support core talks
// through. The core never sees telebot types.
package telegram

import (
	"context"
	"fmt"
	"log"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/petalia/florabot/internal/config"
	"github.com/petalia/florabot/internal/support"
)

// closeCallbackUnique tags the inline close button on ticket cards.
const closeCallbackUnique = "support_close"

const handlerTimeout = 30 * time.Second

// NewBot builds the long-polling telebot instance. Kept separate from the
// service so the transport adapter can be constructed before the support
// core that the handlers need.
func NewBot(cfg config.TelegramConfig, logger *log.Logger) (*tele.Bot, error) {
	timeout := cfg.LongPollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, c tele.Context) {
			logger.Printf("telegram: handler error: %v", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init bot: %w", err)
	}
	return bot, nil
}

// Service registers the support handlers on a bot and runs the update loop.
type Service struct {
	bot     *tele.Bot
	manager *support.Manager
	router  *support.Router
	logger  *log.Logger
}

// NewService wires handlers for the support bridge onto the bot.
func NewService(bot *tele.Bot, manager *support.Manager, router *support.Router, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	s := &Service{bot: bot, manager: manager, router: router, logger: logger}
	s.registerHandlers()
	return s
}

func (s *Service) registerHandlers() {
	s.bot.Handle("/start", s.handleStart)
	s.bot.Handle("/support", s.handleSupport)
	s.bot.Handle("/close", s.handleClose)
	s.bot.Handle(tele.OnText, s.routeMessage)
	s.bot.Handle(tele.OnMedia, s.routeMessage)
	s.bot.Handle(&tele.Btn{Unique: closeCallbackUnique}, s.handleCloseButton)
}

// Start runs the long-polling loop. Blocks until Stop is called.
func (s *Service) Start() {
	s.logger.Printf("telegram: bot @%s polling", s.bot.Me.Username)
	s.bot.Start()
}

// Stop halts the update loop.
func (s *Service) Stop() {
	s.bot.Stop()
}

func (s *Service) handleStart(c tele.Context) error {
	if c.Chat().Type != tele.ChatPrivate {
		return nil
	}
	return c.Send("🌸 Welcome to Petalia! Send /support to talk to our team.")
}

func (s *Service) handleSupport(c tele.Context) error {
	if c.Chat().Type != tele.ChatPrivate || c.Sender() == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	_, err := s.manager.StartSupport(ctx, partyFrom(c.Sender()))
	if err != nil {
		if support.IsConfigurationError(err) {
			s.logger.Printf("telegram: support unavailable: %v", err)
			return c.Send("Support is temporarily unavailable. Please try again later.")
		}
		s.logger.Printf("telegram: start support for %d: %v", c.Sender().ID, err)
		return c.Send("Something went wrong on our side. Please try again in a minute.")
	}
	return c.Send("✅ You're connected to support. Describe your issue and a manager will reply right here. Send /close when you're done.")
}

// handleClose serves both sides: a client closes their own conversation
// from the private chat, a manager closes a ticket from its topic.
func (s *Service) handleClose(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	switch {
	case c.Chat().Type == tele.ChatPrivate && c.Sender() != nil:
		closed, err := s.manager.CloseByClient(ctx, c.Sender().ID)
		if err != nil {
			s.logger.Printf("telegram: client close for %d: %v", c.Sender().ID, err)
			return c.Send("Could not close the conversation. Please try again.")
		}
		if closed == nil {
			return c.Send("You have no open support conversation. Send /support to start one.")
		}
		return c.Send("✅ Conversation closed. Thanks for reaching out!")
	default:
		msg := inboundFromMessage(c.Message())
		if msg == nil {
			return nil
		}
		if _, err := s.router.HandleMessage(ctx, msg); err != nil {
			s.logger.Printf("telegram: close in thread %d: %v", msg.ThreadID, err)
		}
		return nil
	}
}

// handleCloseButton closes the ticket bound to the topic the card lives in.
func (s *Service) handleCloseButton(c tele.Context) error {
	msg := c.Message()
	if msg == nil || c.Sender() == nil || msg.ThreadID == 0 {
		return c.Respond()
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	// The button behaves exactly like the pressing manager typing /close
	// in the thread, so both paths share the close flow.
	synthetic := inboundFromMessage(msg)
	if synthetic == nil {
		return c.Respond()
	}
	synthetic.Sender = partyFrom(c.Sender())
	synthetic.Text = "/close"

	if _, err := s.router.HandleMessage(ctx, synthetic); err != nil {
		s.logger.Printf("telegram: close button in thread %d: %v", msg.ThreadID, err)
		return c.Respond(&tele.CallbackResponse{Text: "Close failed, try again"})
	}
	return c.Respond(&tele.CallbackResponse{Text: "Ticket closed"})
}

func (s *Service) routeMessage(c tele.Context) error {
	msg := inboundFromMessage(c.Message())
	if msg == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	handled, err := s.router.HandleMessage(ctx, msg)
	if err != nil {
		s.logger.Printf("telegram: route message %d: %v", msg.MessageID, err)
		return nil
	}
	if handled {
		return nil
	}
	// Not support traffic. Order flows and other shop features hook in
	// here; until then unmatched messages are left alone.
	return nil
}

// inboundFromMessage converts a raw update into the closed event shape the
// router classifies on.
func inboundFromMessage(m *tele.Message) *support.InboundMessage {
	if m == nil || m.Sender == nil {
		return nil
	}
	kind := support.ChatKindOther
	switch m.Chat.Type {
	case tele.ChatPrivate:
		kind = support.ChatKindPrivate
	case tele.ChatGroup, tele.ChatSuperGroup:
		kind = support.ChatKindGroup
	}
	return &support.InboundMessage{
		MessageID: m.ID,
		ChatID:    m.Chat.ID,
		ChatKind:  kind,
		ThreadID:  m.ThreadID,
		Sender:    partyFrom(m.Sender),
		Text:      m.Text,
		Caption:   m.Caption,
		HasMedia:  m.Media() != nil,
		SentAt:    m.Time(),
	}
}

func partyFrom(u *tele.User) support.Party {
	return support.Party{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		IsBot:     u.IsBot,
	}
}
