package service

import (
	"context"
	"fmt"

	"deux_backend/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier: операторские уведомления: паника, возобновление, сбои ордеров.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string)
}

type sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// Telegram шлёт всё в один служебный чат.
type Telegram struct {
	bot    sender
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chatID: chatID}, nil
}

func (t *Telegram) Notify(_ context.Context, userID int64, text string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	msg := tgbot.NewMessage(t.chatID, fmt.Sprintf("[user %d] %s", userID, text))
	if _, err := t.bot.Send(msg); err != nil {
		logger.Warn("[NOTIFY] telegram send: %v", err)
	}
}

// Log: запасной вариант, когда телеграм не настроен.
type Log struct{}

func (Log) Notify(_ context.Context, userID int64, text string) {
	logger.Info("[NOTIFY] user:%d %s", userID, text)
}
