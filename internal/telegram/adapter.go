// Package telegram relays tracker notifications to a Telegram chat and
// answers a few read-only status commands from that chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const maxTelegramMessage = 4096

// StatusSource renders the tracker state for chat commands.
type StatusSource interface {
	StatusText() string
	StatsText() string
	BufferText() string
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter bridges the tracker to one Telegram chat.
type Adapter struct {
	bot    *tgbotapi.BotAPI
	send   sender
	chatID int64
	status StatusSource
}

// New creates a Telegram adapter posting to chatID.
func New(token string, chatID int64, status StatusSource) (*Adapter, error) {
	if chatID == 0 {
		return nil, errors.New("telegram chat_id not configured")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Adapter{bot: bot, send: bot, chatID: chatID, status: status}, nil
}

// Notify sends message to the configured chat.
func (a *Adapter) Notify(_ context.Context, message string) error {
	return a.sendResponse(a.chatID, message)
}

// Start long-polls for updates and answers commands from the configured
// chat until ctx is done.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			msg := update.Message
			if msg == nil || msg.Chat == nil || msg.Chat.ID != a.chatID || !msg.IsCommand() {
				continue
			}
			if err := a.sendResponse(msg.Chat.ID, a.commandReply(msg.Command())); err != nil {
				slog.Warn("telegram reply failed", "command", msg.Command(), "error", err)
			}
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) commandReply(cmd string) string {
	switch cmd {
	case "start":
		return "Kill tracker connected. Commands: /status, /stats, /buffer"
	case "status":
		return a.status.StatusText()
	case "stats":
		return a.status.StatsText()
	case "buffer":
		return a.status.BufferText()
	default:
		return "Unknown command. Available: /status, /stats, /buffer"
	}
}

func (a *Adapter) sendResponse(chatID int64, text string) error {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := a.send.Send(msg); err != nil {
			// Ship and weapon names carry underscores; retry as plain text.
			msg.ParseMode = ""
			if _, err := a.send.Send(msg); err != nil {
				return wrapSendError(err)
			}
		}
	}
	return nil
}

// SendError is a failed send. Code is the Bot API error code, or 0 when the
// request never got an API answer.
type SendError struct {
	Code          int
	RetryAfterSec int
	Err           error
}

func (e *SendError) Error() string { return fmt.Sprintf("send message: %v", e.Err) }
func (e *SendError) Unwrap() error { return e.Err }

// Temporary is false for API rejections such as an unknown chat or a
// revoked token.
func (e *SendError) Temporary() bool {
	return e.Code == 0 || e.Code == 429 || e.Code >= 500
}

func (e *SendError) RetryAfter() time.Duration {
	return time.Duration(e.RetryAfterSec) * time.Second
}

func wrapSendError(err error) error {
	se := &SendError{Err: err}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		se.Code = apiErr.Code
		se.RetryAfterSec = apiErr.RetryAfter
	}
	return se
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := min(maxTelegramMessage, len(text))
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
