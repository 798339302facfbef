// Package channel holds the messaging-platform drivers behind a session.
package channel

import (
	"fmt"
	"log/slog"
	"time"

	"greetbot/internal/browser"
	"greetbot/internal/config"
	"greetbot/internal/session"
)

const (
	DriverWhatsAppWeb   = config.DriverWhatsAppWeb
	DriverWhatsAppCloud = config.DriverWhatsAppCloud
	DriverTelegram      = config.DriverTelegram
	DriverCLI           = config.DriverCLI
)

// NewDriver builds the session driver selected by cfg.Session.Driver.
func NewDriver(cfg *config.Config, logger *slog.Logger) (session.Driver, error) {
	ch := cfg.Channels
	switch cfg.Session.Driver {
	case DriverWhatsAppWeb:
		bridge := browser.NewBridge(browser.BridgeConfig{
			ProfileDir: ch.WhatsAppWeb.ProfileDir,
			Headless:   ch.WhatsAppWeb.Headless,
			NoSandbox:  true,
			Logger:     logger.With("component", "browser"),
		})
		return NewWhatsAppWeb(WhatsAppWebConfig{
			URL:          ch.WhatsAppWeb.URL,
			PollInterval: time.Duration(ch.WhatsAppWeb.PollIntervalMs) * time.Millisecond,
			Bridge:       bridge,
			Logger:       logger.With("driver", DriverWhatsAppWeb),
		}), nil
	case DriverWhatsAppCloud:
		return NewWhatsAppCloud(WhatsAppCloudConfig{
			ListenAddr:    ch.WhatsAppCloud.ListenAddr,
			WebhookPath:   ch.WhatsAppCloud.WebhookPath,
			APIBase:       ch.WhatsAppCloud.APIBase,
			AppSecret:     ch.WhatsAppCloud.AppSecret,
			AccessToken:   ch.WhatsAppCloud.AccessToken,
			VerifyToken:   ch.WhatsAppCloud.VerifyToken,
			PhoneNumberID: ch.WhatsAppCloud.PhoneNumberID,
			Logger:        logger.With("driver", DriverWhatsAppCloud),
		}), nil
	case DriverTelegram:
		return NewTelegram(TelegramConfig{
			Token:     ch.Telegram.Token,
			AllowFrom: ch.Telegram.AllowFrom,
			Logger:    logger.With("driver", DriverTelegram),
		}), nil
	case DriverCLI:
		return NewCLI(CLIConfig{Logger: logger.With("driver", DriverCLI)}), nil
	default:
		return nil, fmt.Errorf("unknown session driver %q", cfg.Session.Driver)
	}
}
