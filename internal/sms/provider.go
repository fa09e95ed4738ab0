package sms

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/OhMinsSup/jwc-platform-sub001/internal/config"
)

// LogSender only logs; it is the default when no provider is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("component", "sms.log")}
}

func (l *LogSender) Name() string { return "log" }

func (l *LogSender) Send(_ context.Context, msg Message) error {
	l.logger.Info("sms not sent (log provider)", "phone", msg.Phone, "message", msg.Message)
	return nil
}

// NewSender builds the provider selected by cfg.SMSProvider.
func NewSender(cfg config.Config, logger *slog.Logger) (Sender, error) {
	switch cfg.SMSProvider {
	case config.ProviderLog, "":
		return NewLogSender(logger), nil
	case config.ProviderHTTP:
		return NewGatewayClient(cfg.SMSGatewayURL, cfg.SMSAPIKey, cfg.SMSSender), nil
	case config.ProviderTelegram:
		return NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID)
	default:
		return nil, fmt.Errorf("unknown sms provider: %s", cfg.SMSProvider)
	}
}
