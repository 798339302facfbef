package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chromedp/chromedp"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Bridge launches Chrome with a persistent profile so that web logins
// survive restarts.
type Bridge struct {
	profileDir string
	headless   bool
	noSandbox  bool
	userAgent  string
	logger     *slog.Logger
}

// BridgeConfig holds configuration for the browser bridge.
type BridgeConfig struct {
	ProfileDir string // Chrome user data directory (persists cookies/sessions)
	Headless   bool   // Run headless (true) or with visible UI (false)
	NoSandbox  bool   // pass --no-sandbox, needed when running as root or in containers
	UserAgent  string
	Logger     *slog.Logger
}

func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.ProfileDir == "" {
		home, _ := os.UserHomeDir()
		cfg.ProfileDir = filepath.Join(home, ".greetbot", "browser-profile")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return &Bridge{
		profileDir: cfg.ProfileDir,
		headless:   cfg.Headless,
		noSandbox:  cfg.NoSandbox,
		userAgent:  cfg.UserAgent,
		logger:     cfg.Logger,
	}
}

func (b *Bridge) ProfileDir() string { return b.profileDir }

// NewContext creates a chromedp context over the bridge's profile. Chrome
// is started lazily by the first chromedp.Run. The caller MUST call
// cancel() when done.
func (b *Bridge) NewContext(parentCtx context.Context) (context.Context, context.CancelFunc) {
	if err := os.MkdirAll(b.profileDir, 0o700); err != nil {
		b.logger.Error("failed to create profile dir", "dir", b.profileDir, "err", err)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, b.allocatorOptions()...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			b.logger.Debug("chromedp", "msg", fmt.Sprintf(format, args...))
		}),
	)

	cancelAll := func() {
		taskCancel()
		allocCancel()
	}
	return taskCtx, cancelAll
}

func (b *Bridge) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(b.profileDir),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.UserAgent(b.userAgent),
	)
	if b.headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if b.noSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	return opts
}
