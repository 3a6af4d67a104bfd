package notify

import (
	"fmt"
	"sync"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kelseyhightower/envconfig"
	logger "github.com/sirupsen/logrus"
)

// Notifier is the outbound operator channel. Delivery is best effort:
// failures are logged and swallowed, they must never affect order flow.
type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

type Config struct {
	TelegramToken  string `envconfig:"TELEGRAM_TOKEN"`
	TelegramChatID int64  `envconfig:"TELEGRAM_CHAT_ID"`
}

var (
	config     *Config
	configOnce sync.Once
)

func GetConfig() *Config {
	configOnce.Do(func() {
		config = &Config{}
		if err := envconfig.Process("", config); err != nil {
			logger.WithError(err).Fatal("Failed to load notify config")
		}
	})
	return config
}

// FromConfig returns a Telegram notifier when credentials are configured and
// a no-op notifier otherwise, so callers never have to nil-check.
func FromConfig() Notifier {
	cfg := GetConfig()
	if cfg.TelegramToken == "" || cfg.TelegramChatID == 0 {
		logger.Info("Telegram not configured, notifications disabled")
		return Nop{}
	}

	tg, err := NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		logger.WithError(err).Error("Failed to initialise Telegram notifier, notifications disabled")
		return Nop{}
	}
	return tg
}

// Telegram pushes messages to a single operator chat.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		logger.WithError(err).Warn("Telegram send failed")
	}
}

func (t *Telegram) Sendf(format string, args ...any) {
	t.Send(fmt.Sprintf(format, args...))
}

// Nop discards every message.
type Nop struct{}

func (Nop) Send(msg string)                  {}
func (Nop) Sendf(format string, args ...any) {}
