package notify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MessageSender is the part of tgbotapi.BotAPI used by TelegramSink.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink posts notifications to a Telegram chat.
type TelegramSink struct {
	bot            MessageSender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// DefaultTelegramTimeout bounds a single Bot API request.
const DefaultTelegramTimeout = 10 * time.Second

// NewTelegramSink connects to the Bot API with the given token. Every request
// is bounded by timeout, DefaultTelegramTimeout when zero.
func NewTelegramSink(botToken, chatID string, maxRetries int, retryDelayBase, timeout time.Duration) (*TelegramSink, error) {
	if timeout <= 0 {
		timeout = DefaultTelegramTimeout
	}
	bot, err := tgbotapi.NewBotAPIWithClient(botToken, tgbotapi.APIEndpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return NewTelegramSinkWithSender(bot, chatID, maxRetries, retryDelayBase)
}

// NewTelegramSinkWithSender builds a sink around an existing sender.
func NewTelegramSinkWithSender(bot MessageSender, chatID string, maxRetries int, retryDelayBase time.Duration) (*TelegramSink, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id: %w", err)
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &TelegramSink{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

// Send posts the notification, retrying with a linear backoff.
func (s *TelegramSink) Send(ctx context.Context, n Notification) error {
	msg := tgbotapi.NewMessage(s.chatID, formatTelegram(n))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

	var lastErr error
	for i := 0; i < s.maxRetries; i++ {
		_, err := s.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == s.maxRetries-1 {
			break
		}

		timer := time.NewTimer(s.retryDelayBase * time.Duration(i+1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("send telegram message after %d attempts: %w", s.maxRetries, lastErr)
}

func formatTelegram(n Notification) string {
	var b strings.Builder
	b.WriteString("*")
	b.WriteString(escapeMarkdownV2(n.Title))
	b.WriteString("*\n")
	b.WriteString(escapeMarkdownV2(n.Description))
	if n.Link != "" {
		// Inside the URL part only ')' and '\' need escaping.
		link := strings.NewReplacer(`\`, `\\`, `)`, `\)`).Replace(n.Link)
		fmt.Fprintf(&b, "\n[View transaction](%s)", link)
	}
	return b.String()
}

// escapeMarkdownV2 escapes the characters reserved by Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
