package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"greetbot/internal/domain"
	"greetbot/internal/session"
)

const telegramMaxMsgLen = 4000

// Telegram is a session driver for a Telegram bot. Login is the bot token,
// so there is no QR step: the session is Ready once getMe succeeds.
type Telegram struct {
	token     string
	endpoint  string
	client    *http.Client
	allowFrom []int64 // empty = allow all

	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // user ids as strings
	Endpoint  string   // API endpoint format; defaults to tgbotapi.APIEndpoint
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	return &Telegram{
		token:     cfg.Token,
		endpoint:  cfg.Endpoint,
		client:    &http.Client{Timeout: 60 * time.Second},
		allowFrom: allowed,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return DriverTelegram }

// Run logs the bot in and long-polls for updates until ctx is cancelled.
func (t *Telegram) Run(ctx context.Context, sink session.Sink) error {
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.client)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)
	sink.Authenticated()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				sink.Disconnected(nil)
				return nil
			}
			if msg, ok := t.inbound(update); ok {
				sink.Message(msg)
			}
		}
	}
}

// inbound converts an update to an InboundMessage. The sender is the chat
// id, which is also where replies go.
func (t *Telegram) inbound(update tgbotapi.Update) (domain.InboundMessage, bool) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil || m.Text == "" {
		return domain.InboundMessage{}, false
	}
	if !t.isAllowed(m.From.ID) {
		t.logger.Warn("unauthorized telegram user", "user_id", m.From.ID, "username", m.From.UserName)
		return domain.InboundMessage{}, false
	}
	return domain.InboundMessage{
		ID:        strconv.Itoa(m.MessageID),
		Channel:   DriverTelegram,
		Sender:    strconv.FormatInt(m.Chat.ID, 10),
		Text:      m.Text,
		Timestamp: time.Unix(int64(m.Date), 0),
	}, true
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// Send delivers text as plain-text messages of at most telegramMaxMsgLen
// bytes each. Every chunk is attempted once.
func (t *Telegram) Send(_ context.Context, to, text string) error {
	if t.bot == nil {
		return domain.ErrNotReady
	}
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", to, err)
	}
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return fmt.Errorf("telegram sendMessage: %w", err)
		}
	}
	return nil
}

// splitMessage cuts text into chunks of at most max bytes, preferring a
// newline in the second half of the window and never splitting a rune.
func splitMessage(text string, max int) []string {
	var chunks []string
	for len(text) > max {
		cut := strings.LastIndex(text[:max], "\n")
		if cut < max/2 {
			cut = max
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
