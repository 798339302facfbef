package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"greetbot/internal/domain"
	"greetbot/internal/session"
)

const (
	whatsappDefaultAPIBase     = "https://graph.facebook.com/v21.0"
	whatsappDefaultWebhookPath = "/webhook/whatsapp"
	whatsappMaxBody            = 1 << 20
)

// WhatsAppCloud is a session driver for the WhatsApp Business Cloud API.
// Inbound messages arrive on a webhook; replies are posted to the Graph API.
// There is no QR step: the session is Ready once the webhook listener is up.
type WhatsAppCloud struct {
	listenAddr    string
	webhookPath   string
	apiBase       string
	appSecret     string
	accessToken   string
	verifyToken   string
	phoneNumberID string

	client *http.Client
	logger *slog.Logger
}

type WhatsAppCloudConfig struct {
	ListenAddr    string
	WebhookPath   string
	APIBase       string
	AppSecret     string // empty disables X-Hub-Signature-256 checks
	AccessToken   string
	VerifyToken   string
	PhoneNumberID string
	Logger        *slog.Logger
}

func NewWhatsAppCloud(cfg WhatsAppCloudConfig) *WhatsAppCloud {
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = whatsappDefaultWebhookPath
	}
	if cfg.APIBase == "" {
		cfg.APIBase = whatsappDefaultAPIBase
	}
	return &WhatsAppCloud{
		listenAddr:    cfg.ListenAddr,
		webhookPath:   cfg.WebhookPath,
		apiBase:       strings.TrimRight(cfg.APIBase, "/"),
		appSecret:     cfg.AppSecret,
		accessToken:   cfg.AccessToken,
		verifyToken:   cfg.VerifyToken,
		phoneNumberID: cfg.PhoneNumberID,
		client:        &http.Client{Timeout: 30 * time.Second},
		logger:        cfg.Logger,
	}
}

func (w *WhatsAppCloud) Name() string { return DriverWhatsAppCloud }

// Run serves the webhook until ctx is cancelled.
func (w *WhatsAppCloud) Run(ctx context.Context, sink session.Sink) error {
	ln, err := net.Listen("tcp", w.listenAddr)
	if err != nil {
		return fmt.Errorf("whatsapp webhook listen %s: %w", w.listenAddr, err)
	}

	srv := &http.Server{
		Handler:           w.Handler(sink),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	w.logger.Info("whatsapp webhook listening", "addr", ln.Addr().String(), "path", w.webhookPath)
	sink.Authenticated()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		sink.Disconnected(err)
		return nil
	}
}

// Handler returns the webhook mux. Verified messages are passed to sink.
func (w *WhatsAppCloud) Handler(sink session.Sink) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+w.webhookPath, w.handleVerification)
	mux.HandleFunc("POST "+w.webhookPath, func(rw http.ResponseWriter, r *http.Request) {
		w.handleIncoming(rw, r, sink)
	})
	return mux
}

// handleVerification answers the hub.challenge subscription handshake.
func (w *WhatsAppCloud) handleVerification(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")

	if mode == "subscribe" && w.verifyToken != "" && q.Get("hub.verify_token") == w.verifyToken {
		w.logger.Info("whatsapp webhook verified")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(q.Get("hub.challenge")))
		return
	}

	w.logger.Warn("whatsapp webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

func (w *WhatsAppCloud) handleIncoming(rw http.ResponseWriter, r *http.Request, sink session.Sink) {
	body, err := io.ReadAll(io.LimitReader(r.Body, whatsappMaxBody))
	if err != nil {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	if w.appSecret != "" && !verifySignature(w.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		w.logger.Warn("whatsapp invalid signature")
		http.Error(rw, "Forbidden", http.StatusForbidden)
		return
	}

	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("whatsapp bad payload", "err", err)
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	for _, msg := range payload.messages() {
		sink.Message(msg)
	}
	rw.WriteHeader(http.StatusOK)
}

// verifySignature checks an X-Hub-Signature-256 header against body.
func verifySignature(secret string, body []byte, signature string) bool {
	hexSig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(hexSig), []byte(computed))
}

// Send posts a text message to the Graph API.
func (w *WhatsAppCloud) Send(ctx context.Context, to, text string) error {
	url := fmt.Sprintf("%s/%s/messages", w.apiBase, w.phoneNumberID)

	body, err := json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": text},
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.accessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// --- webhook payload ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Messages         []waMessage `json:"messages"`
}

type waMessage struct {
	From        string         `json:"from"`
	ID          string         `json:"id"`
	Timestamp   string         `json:"timestamp"`
	Type        string         `json:"type"`
	Text        *waText        `json:"text,omitempty"`
	Button      *waButton      `json:"button,omitempty"`
	Interactive *waInteractive `json:"interactive,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waButton struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

// waInteractive is a tap on a reply button or a list row.
type waInteractive struct {
	Type        string   `json:"type"`
	ButtonReply *waReply `json:"button_reply,omitempty"`
	ListReply   *waReply `json:"list_reply,omitempty"`
}

type waReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// title returns the label the user tapped.
func (i *waInteractive) title() (string, bool) {
	switch {
	case i == nil:
		return "", false
	case i.Type == "button_reply" && i.ButtonReply != nil:
		return i.ButtonReply.Title, true
	case i.Type == "list_reply" && i.ListReply != nil:
		return i.ListReply.Title, true
	}
	return "", false
}

// messages extracts text, template button and interactive replies. Other
// message types are skipped.
func (p waPayload) messages() []domain.InboundMessage {
	var out []domain.InboundMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				var text string
				switch {
				case m.Type == "text" && m.Text != nil:
					text = m.Text.Body
				case m.Type == "button" && m.Button != nil:
					text = m.Button.Text
				case m.Type == "interactive":
					title, ok := m.Interactive.title()
					if !ok {
						continue
					}
					text = title
				default:
					continue
				}
				ts := time.Now()
				if sec, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil {
					ts = time.Unix(sec, 0)
				}
				out = append(out, domain.InboundMessage{
					ID:        m.ID,
					Channel:   DriverWhatsAppCloud,
					Sender:    m.From,
					Text:      text,
					Timestamp: ts,
				})
			}
		}
	}
	return out
}
