package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/chromedp"

	"greetbot/internal/browser"
	"greetbot/internal/domain"
	"greetbot/internal/session"
)

const (
	whatsappWebDefaultURL   = "https://web.whatsapp.com"
	whatsappWebMaxProbeErrs = 5
	whatsappWebSendTimeout  = 45 * time.Second

	whatsappWebSendButton = `span[data-icon="send"], button[aria-label="Send"]`
)

// probeScript reports the pairing QR payload and whether the chat list is
// visible.
const probeScript = `(() => {
	const qr = document.querySelector('div[data-ref]');
	return {
		qr: qr ? (qr.getAttribute('data-ref') || '') : '',
		ready: !!document.querySelector('#pane-side'),
	};
})()`

// collectScript opens the first chat with an unread badge and returns the
// incoming messages rendered in the open conversation. unread is the badge
// count of the chat that was opened, reported once when the open chat changes.
const collectScript = `(() => {
	const badge = document.querySelector('#pane-side span[aria-label*="unread" i]');
	if (badge) {
		const row = badge.closest('[role="listitem"], [role="row"]');
		if (row) {
			window.__greetbotUnread = parseInt(badge.innerText, 10) || 1;
			row.dispatchEvent(new MouseEvent('mousedown', {bubbles: true}));
		}
	}
	const header = document.querySelector('#main header span[title]');
	const chat = header ? header.getAttribute('title') : '';
	let unread = 0;
	if (chat && chat !== window.__greetbotChat) {
		window.__greetbotChat = chat;
		unread = window.__greetbotUnread || 0;
		window.__greetbotUnread = 0;
	}
	const messages = [];
	document.querySelectorAll('#main div[data-id^="false_"]').forEach(el => {
		const t = el.querySelector('span.selectable-text');
		messages.push({id: el.getAttribute('data-id'), text: t ? t.innerText : ''});
	});
	return {chat, unread, messages};
})()`

// WhatsAppWeb drives web.whatsapp.com in Chrome. The browser profile keeps
// the device pairing between runs, so the QR code is only needed once.
type WhatsAppWeb struct {
	url    string
	poll   time.Duration
	bridge *browser.Bridge
	logger *slog.Logger

	mu  sync.Mutex // serializes page actions on tab
	tab context.Context

	navigated atomic.Bool // set by Send; the page reloads and the next batch is resynced
}

type WhatsAppWebConfig struct {
	URL          string
	PollInterval time.Duration
	Bridge       *browser.Bridge
	Logger       *slog.Logger
}

func NewWhatsAppWeb(cfg WhatsAppWebConfig) *WhatsAppWeb {
	if cfg.URL == "" {
		cfg.URL = whatsappWebDefaultURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1500 * time.Millisecond
	}
	return &WhatsAppWeb{
		url:    strings.TrimRight(cfg.URL, "/"),
		poll:   cfg.PollInterval,
		bridge: cfg.Bridge,
		logger: cfg.Logger,
	}
}

func (w *WhatsAppWeb) Name() string { return DriverWhatsAppWeb }

// Run opens WhatsApp Web and polls the page until ctx is cancelled or the
// device is logged out.
func (w *WhatsAppWeb) Run(ctx context.Context, sink session.Sink) error {
	tab, cancel := w.bridge.NewContext(ctx)
	defer cancel()

	if err := chromedp.Run(tab, chromedp.Navigate(w.url)); err != nil {
		return fmt.Errorf("open %s: %w", w.url, err)
	}
	w.logger.Info("whatsapp web opened", "url", w.url, "profile", w.bridge.ProfileDir())

	w.mu.Lock()
	w.tab = tab
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.tab = nil
		w.mu.Unlock()
	}()

	var (
		obs     pageObserver
		tracker = newMessageTracker()
		errs    int
	)
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		var p pageProbe
		if err := w.evaluate(tab, probeScript, &p); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			errs++
			w.logger.Debug("whatsapp web probe failed", "err", err, "consecutive", errs)
			if errs >= whatsappWebMaxProbeErrs {
				sink.Disconnected(fmt.Errorf("whatsapp web page unresponsive: %w", err))
				return nil
			}
			continue
		}
		errs = 0

		if obs.observe(p, sink) {
			return nil
		}
		if !obs.ready {
			continue
		}

		if w.navigated.Swap(false) {
			tracker.reloaded()
		}
		var batch webBatch
		if err := w.evaluate(tab, collectScript, &batch); err != nil {
			w.logger.Debug("whatsapp web collect failed", "err", err)
			continue
		}
		for _, msg := range tracker.fresh(batch) {
			sink.Message(msg)
		}
	}
}

func (w *WhatsAppWeb) evaluate(tab context.Context, script string, res any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return chromedp.Run(tab, chromedp.Evaluate(script, res))
}

// Send opens the click-to-chat URL for the recipient with the text
// prefilled and presses send.
func (w *WhatsAppWeb) Send(ctx context.Context, to, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.tab == nil {
		return domain.ErrNotReady
	}

	runCtx, cancel := context.WithTimeout(w.tab, whatsappWebSendTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	w.navigated.Store(true)
	err := chromedp.Run(runCtx,
		chromedp.Navigate(sendURL(w.url, to, text)),
		chromedp.WaitVisible(whatsappWebSendButton, chromedp.ByQuery),
		chromedp.Click(whatsappWebSendButton, chromedp.ByQuery),
		chromedp.Sleep(time.Second),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("send button not found for %s: %w", to, err)
		}
		return fmt.Errorf("send via whatsapp web: %w", err)
	}
	return nil
}

// sendURL builds the click-to-chat URL. Only digits of the phone are kept.
func sendURL(base, phone, text string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	q := url.Values{}
	q.Set("phone", digits)
	q.Set("text", text)
	return base + "/send?" + q.Encode()
}

type pageProbe struct {
	QR    string `json:"qr"`
	Ready bool   `json:"ready"`
}

// pageObserver turns page probes into session observations.
type pageObserver struct {
	lastQR string
	ready  bool
}

// observe applies one probe and reports whether the session is over.
func (o *pageObserver) observe(p pageProbe, sink session.Sink) bool {
	switch {
	case p.Ready:
		if !o.ready {
			o.ready = true
			o.lastQR = ""
			sink.Authenticated()
		}
	case p.QR != "":
		if o.ready {
			sink.Disconnected(domain.ErrLoggedOut)
			return true
		}
		if p.QR != o.lastQR {
			if o.lastQR != "" {
				sink.AuthFailed(domain.ErrQRExpired)
			}
			o.lastQR = p.QR
			sink.QR(p.QR)
		}
	}
	return false
}

type webMessage struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// webBatch is what collectScript sees in the open conversation.
type webBatch struct {
	Chat     string       `json:"chat"`
	Unread   int          `json:"unread"`
	Messages []webMessage `json:"messages"`
}

// messageTracker filters collected messages down to ones not seen before.
// The first batch only records what is already on screen. When another
// chat is opened, its history is recorded and only the trailing Unread
// messages count as new.
type messageTracker struct {
	seen   map[string]struct{}
	chat   string
	primed bool
	resync bool
}

func newMessageTracker() *messageTracker {
	return &messageTracker{seen: make(map[string]struct{})}
}

// reloaded marks the next batch as coming from a freshly loaded page,
// where the open chat and its unread counter are no longer reliable.
func (t *messageTracker) reloaded() { t.resync = true }

func (t *messageTracker) fresh(batch webBatch) []domain.InboundMessage {
	newFrom := 0
	switch {
	case !t.primed:
		newFrom = len(batch.Messages)
	case t.resync || batch.Chat != t.chat:
		// Everything up to the last message already seen is history.
		newFrom = max(len(batch.Messages)-batch.Unread, 0)
		for i, m := range batch.Messages {
			if _, ok := t.seen[m.ID]; ok {
				newFrom = i + 1
			}
		}
	}
	t.chat = batch.Chat
	t.primed = true
	t.resync = false

	var out []domain.InboundMessage
	for i, m := range batch.Messages {
		if _, ok := t.seen[m.ID]; ok {
			continue
		}
		t.seen[m.ID] = struct{}{}
		if i < newFrom || strings.TrimSpace(m.Text) == "" {
			continue
		}
		sender, ok := parseDataID(m.ID)
		if !ok {
			continue
		}
		out = append(out, domain.InboundMessage{
			ID:        m.ID,
			Channel:   DriverWhatsAppWeb,
			Sender:    sender,
			Text:      m.Text,
			Timestamp: time.Now(),
		})
	}
	return out
}

// parseDataID extracts the sender phone from a message element id of the
// form "false_<phone>@c.us_<msgid>". Outgoing and group messages are
// rejected.
func parseDataID(id string) (string, bool) {
	parts := strings.SplitN(id, "_", 3)
	if len(parts) != 3 || parts[0] != "false" {
		return "", false
	}
	user, server, ok := strings.Cut(parts[1], "@")
	if !ok || server != "c.us" || user == "" {
		return "", false
	}
	return user, true
}
