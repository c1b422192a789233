package challenge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/common"
)

// StatsFunc renders a short status report for /stats
type StatsFunc func(ctx context.Context) (string, error)

// Telegram announces challenges to one chat and accepts /confirm, /pending and
// /stats from it.
type Telegram struct {
	bot    *bot.Bot
	chatID int64
	gate   *Gate
	stats  StatsFunc
	logger arbor.ILogger
}

// NewTelegram connects the bot; commands from chats other than config.ChatID are ignored
func NewTelegram(config common.TelegramConfig, gate *Gate, stats StatsFunc, logger arbor.ILogger) (*Telegram, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	t := &Telegram{chatID: config.ChatID, gate: gate, stats: stats, logger: logger}

	b, err := bot.New(config.Token, bot.WithDefaultHandler(t.defaultHandler))
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	t.bot = b

	for _, command := range []string{"/confirm", "/pending", "/stats"} {
		b.RegisterHandler(bot.HandlerTypeMessageText, command, bot.MatchTypePrefix, t.handleCommand)
	}
	return t, nil
}

// Start polls for updates until ctx ends
func (t *Telegram) Start(ctx context.Context) {
	t.logger.Info().Int64("chat_id", t.chatID).Msg("Telegram bot started")
	t.bot.Start(ctx)
}

// Notify sends message to the configured chat
func (t *Telegram) Notify(ctx context.Context, message string) error {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	_, err := t.bot.SendMessage(sendCtx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   message,
	})
	return err
}

func (t *Telegram) defaultHandler(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
	if update.Message == nil {
		return
	}
	if strings.HasPrefix(update.Message.Text, "/") {
		t.logger.Debug().Str("text", update.Message.Text).Msg("Unknown telegram command")
	}
}

func (t *Telegram) handleCommand(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	if msg.Chat.ID != t.chatID {
		t.logger.Warn().Int64("chat_id", msg.Chat.ID).Msg("Ignoring telegram command from unknown chat")
		return
	}

	reply := t.reply(ctx, msg.Text)
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: msg.Chat.ID, Text: reply}); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to answer telegram command")
	}
}

// reply computes the answer to a command line
func (t *Telegram) reply(ctx context.Context, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "Commands: /confirm [account], /pending, /stats"
	}
	// "/confirm@SomeBot" in group chats
	command := strings.SplitN(fields[0], "@", 2)[0]

	switch command {
	case "/confirm":
		accountID := ""
		if len(fields) > 1 {
			accountID = fields[1]
		}
		pending, err := t.gate.Confirm(accountID)
		if err != nil {
			return err.Error()
		}
		return "Confirmed challenge for " + pending.AccountID

	case "/pending":
		list := t.gate.Pending()
		if len(list) == 0 {
			return "No pending challenges"
		}
		var sb strings.Builder
		for _, p := range list {
			fmt.Fprintf(&sb, "%s waiting %s at %s\n", p.AccountID, time.Since(p.Since).Round(time.Second), p.URL)
		}
		return strings.TrimSpace(sb.String())

	case "/stats":
		if t.stats == nil {
			return "Stats unavailable"
		}
		report, err := t.stats(ctx)
		if err != nil {
			return "Stats unavailable: " + err.Error()
		}
		return report
	}
	return "Commands: /confirm [account], /pending, /stats"
}
