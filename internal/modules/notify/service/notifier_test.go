package service

import (
	"context"
	"errors"
	"testing"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
)

type fakeSender struct {
	sent []tgbot.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbot.Chattable) (tgbot.Message, error) {
	if m, ok := c.(tgbot.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbot.Message{}, f.err
}

func TestTelegramPrefixesUser(t *testing.T) {
	s := &fakeSender{}
	tg := &Telegram{bot: s, chatID: 100}

	tg.Notify(context.Background(), 7, "panic stop")
	if assert.Len(t, s.sent, 1) {
		assert.Equal(t, int64(100), s.sent[0].ChatID)
		assert.Equal(t, "[user 7] panic stop", s.sent[0].Text)
	}
}

func TestTelegramSendErrorIsSwallowed(t *testing.T) {
	tg := &Telegram{bot: &fakeSender{err: errors.New("429")}, chatID: 1}
	assert.NotPanics(t, func() { tg.Notify(context.Background(), 1, "x") })

	var nilTG *Telegram
	assert.NotPanics(t, func() { nilTG.Notify(context.Background(), 1, "x") })
}
