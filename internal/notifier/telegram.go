package notifier

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "autoposter/pkg/logx"
)

type TelegramConfig struct {
	Token  string
	ChatID int64
	// Listen enables long polling so the operator can answer a
	// verification challenge with "/code <digits>" in the alert chat.
	Listen      bool
	PollTimeout time.Duration
}

// Telegram sends alerts to one chat and optionally accepts verification
// codes from it.
type Telegram struct {
	bot  *tele.Bot
	chat tele.ChatID
	log  logx.Logger
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	settings := tele.Settings{Token: cfg.Token, Offline: !cfg.Listen}
	if cfg.Listen {
		timeout := cfg.PollTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		settings.Poller = &tele.LongPoller{Timeout: timeout}
	}
	b, err := tele.NewBot(settings)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Telegram{bot: b, chat: tele.ChatID(cfg.ChatID), log: log}, nil
}

func (t *Telegram) SendText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, text, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}

// ListenCodes polls for "/code <digits>" in the alert chat and hands each code
// to onCode until ctx is done. Messages from other chats are ignored.
func (t *Telegram) ListenCodes(ctx context.Context, onCode func(ctx context.Context, code string) error) error {
	t.bot.Handle("/code", func(c tele.Context) error {
		if c.Chat() == nil || tele.ChatID(c.Chat().ID) != t.chat {
			return nil
		}
		code := strings.TrimSpace(c.Message().Payload)
		if code == "" {
			return c.Send("Usage: /code <digits>")
		}
		if err := onCode(ctx, code); err != nil {
			t.log.Warn("verification code not delivered", logx.Err(err))
			return c.Send("Code not accepted: " + err.Error())
		}
		return c.Send("Code received, checking…")
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.bot.Start()
	}()
	<-ctx.Done()
	t.bot.Stop()
	<-done
	return nil
}
