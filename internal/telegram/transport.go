package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v3"

	"github.com/petalia/florabot/internal/support"
)

// Transport adapts a telebot instance to the messaging surface the support
// core consumes. Operations the high-level client does not cover (forum
// topic management, copy with caption override) go through the raw Bot API.
type Transport struct {
	bot *tele.Bot
}

// NewTransport wraps an initialized bot.
func NewTransport(bot *tele.Bot) *Transport {
	return &Transport{bot: bot}
}

// SendMessage posts text into a chat, scoped to a forum topic when threadID
// is non-zero.
func (t *Transport) SendMessage(ctx context.Context, chatID int64, threadID int, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg, err := t.bot.Send(tele.ChatID(chatID), text, &tele.SendOptions{ThreadID: threadID})
	if err != nil {
		return 0, fmt.Errorf("send message to chat %d: %w", chatID, err)
	}
	return msg.ID, nil
}

// SendTicketCard posts the ticket card with an inline close button, so
// managers can close without typing the command.
func (t *Transport) SendTicketCard(ctx context.Context, chatID int64, threadID int, text string, ticketID int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	markup := &tele.ReplyMarkup{}
	btn := markup.Data("🔒 Close ticket", closeCallbackUnique, strconv.FormatInt(ticketID, 10))
	markup.Inline(markup.Row(btn))

	msg, err := t.bot.Send(tele.ChatID(chatID), text, &tele.SendOptions{
		ThreadID:    threadID,
		ReplyMarkup: markup,
	})
	if err != nil {
		return 0, fmt.Errorf("send ticket card to chat %d: %w", chatID, err)
	}
	return msg.ID, nil
}

// CopyMessage re-posts a message without a forward header, preserving its
// media. Telegram applies a non-empty caption only to media messages; that
// is fine here because plain text is relayed with SendMessage instead.
func (t *Transport) CopyMessage(ctx context.Context, toChatID, fromChatID int64, messageID, threadID int, caption string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	params := map[string]any{
		"chat_id":      toChatID,
		"from_chat_id": fromChatID,
		"message_id":   messageID,
	}
	if threadID != 0 {
		params["message_thread_id"] = threadID
	}
	if caption != "" {
		params["caption"] = caption
	}

	resp, err := t.bot.Raw("copyMessage", params)
	if err != nil {
		return 0, fmt.Errorf("copy message %d to chat %d: %w", messageID, toChatID, err)
	}
	var result struct {
		Ok     bool `json:"ok"`
		Result struct {
			MessageID int `json:"message_id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, fmt.Errorf("parse copyMessage response: %w", err)
	}
	if !result.Ok {
		return 0, fmt.Errorf("copy message %d to chat %d: telegram declined", messageID, toChatID)
	}
	return result.Result.MessageID, nil
}

// EditMessageText rewrites an already-posted message in place.
func (t *Transport) EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID}
	if _, err := t.bot.Edit(stored, text); err != nil {
		return fmt.Errorf("edit message %d in chat %d: %w", messageID, chatID, err)
	}
	return nil
}

// CreateTopic makes a new forum topic and returns its thread id.
func (t *Transport) CreateTopic(ctx context.Context, chatID int64, name string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	resp, err := t.bot.Raw("createForumTopic", map[string]any{
		"chat_id": chatID,
		"name":    name,
	})
	if err != nil {
		return 0, fmt.Errorf("create topic %q in chat %d: %w", name, chatID, err)
	}
	var result struct {
		Ok     bool `json:"ok"`
		Result struct {
			MessageThreadID int `json:"message_thread_id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, fmt.Errorf("parse createForumTopic response: %w", err)
	}
	if !result.Ok || result.Result.MessageThreadID == 0 {
		return 0, fmt.Errorf("create topic %q in chat %d: telegram declined", name, chatID)
	}
	return result.Result.MessageThreadID, nil
}

// ReopenTopic reopens a previously closed forum topic.
func (t *Transport) ReopenTopic(ctx context.Context, chatID int64, threadID int) error {
	return t.topicCall(ctx, "reopenForumTopic", chatID, threadID)
}

// CloseTopic closes a forum topic without deleting it.
func (t *Transport) CloseTopic(ctx context.Context, chatID int64, threadID int) error {
	return t.topicCall(ctx, "closeForumTopic", chatID, threadID)
}

func (t *Transport) topicCall(ctx context.Context, method string, chatID int64, threadID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Raw(method, map[string]any{
		"chat_id":           chatID,
		"message_thread_id": threadID,
	}); err != nil {
		return fmt.Errorf("%s topic %d in chat %d: %w", method, threadID, chatID, err)
	}
	return nil
}

// ChatInfo fetches the chat's title and whether it can host forum topics.
func (t *Transport) ChatInfo(ctx context.Context, chatID int64) (*support.ChatInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := t.bot.Raw("getChat", map[string]any{"chat_id": chatID})
	if err != nil {
		return nil, fmt.Errorf("get chat %d: %w", chatID, err)
	}
	var result struct {
		Ok     bool `json:"ok"`
		Result struct {
			Title   string `json:"title"`
			IsForum bool   `json:"is_forum"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("parse getChat response: %w", err)
	}
	if !result.Ok {
		return nil, fmt.Errorf("get chat %d: telegram declined", chatID)
	}
	return &support.ChatInfo{Title: result.Result.Title, IsForum: result.Result.IsForum}, nil
}
