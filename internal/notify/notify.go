// Package notify delivers ledger events to the operators' Telegram chat.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/AssistantHub/internal/config"
)

type Notifier interface {
	Notify(ctx context.Context, text string)
	Close()
}

// New returns a Telegram notifier, or a no-op one when no bot token is configured.
func New(cfg config.Config, log *slog.Logger) (Notifier, error) {
	if cfg.TelegramBotToken == "" {
		return Nop{}, nil
	}
	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewTelegram(api, cfg.TelegramAdminChatID, log), nil
}

type Nop struct{}

func (Nop) Notify(context.Context, string) {}
func (Nop) Close()                         {}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends messages in the background so a slow Bot API never holds
// up a webhook response. Close waits for in-flight sends.
type Telegram struct {
	api    sender
	chatID int64
	log    *slog.Logger
	wg     sync.WaitGroup
}

func NewTelegram(api sender, chatID int64, log *slog.Logger) *Telegram {
	return &Telegram{api: api, chatID: chatID, log: log}
}

func (t *Telegram) Notify(_ context.Context, text string) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		msg := tgbotapi.NewMessage(t.chatID, text)
		msg.DisableWebPagePreview = true
		if _, err := t.api.Send(msg); err != nil {
			t.log.Warn("failed to notify operators", "err", err)
		}
	}()
}

func (t *Telegram) Close() {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.log.Warn("notifier closed with pending messages")
	}
}
