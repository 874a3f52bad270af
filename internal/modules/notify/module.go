package notify

import (
	"deux_backend/internal/modules/config"
	"deux_backend/internal/modules/notify/service"
	"deux_backend/pkg/logger"

	"go.uber.org/fx"
)

func NewNotifier(cfg *config.Config) service.Notifier {
	if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == 0 {
		return service.Log{}
	}
	t, err := service.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
	if err != nil {
		logger.Error("[NOTIFY] telegram disabled: %v", err)
		return service.Log{}
	}
	return t
}

func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(NewNotifier),
	)
}
