package sinks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"repowatch/internal/notifier"
)

// teleSender is the part of *tele.Bot the Telegram sink uses.
type teleSender interface {
	Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error)
}

// Telegram posts notifications to one chat (and optional forum thread).
type Telegram struct {
	bot      teleSender
	chatID   int64
	threadID int
}

// NewTelegram builds an offline bot client: no getMe round trip and no
// update polling, it only sends.
func NewTelegram(token string, chatID int64, threadID int) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram sink: token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, fmt.Errorf("telegram sink: %w", err)
	}
	return &Telegram{bot: b, chatID: chatID, threadID: threadID}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Show(ctx context.Context, n notifier.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := n.Title
	if n.Body != "" {
		text += "\n\n" + n.Body
	}
	_, err := t.bot.Send(&tele.Chat{ID: t.chatID}, text, &tele.SendOptions{
		ThreadID:              t.threadID,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
