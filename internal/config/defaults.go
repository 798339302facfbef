package config

import "greetbot/internal/rules"

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Session: SessionConfig{
			Driver: DriverWhatsAppWeb,
			QRLink: true,
		},
		Channels: ChannelsConfig{
			WhatsAppWeb: WhatsAppWebConfig{
				URL:            "https://web.whatsapp.com",
				ProfileDir:     "~/.greetbot/whatsapp-profile",
				Headless:       true,
				PollIntervalMs: 1500,
			},
			WhatsAppCloud: WhatsAppCloudConfig{
				ListenAddr:  ":8080",
				WebhookPath: "/webhook/whatsapp",
				APIBase:     "https://graph.facebook.com/v21.0",
			},
		},
		Rules: RulesConfig{
			Table: rules.Defaults(),
		},
		Responder: ResponderConfig{
			QueueSize:         100,
			SendRatePerMinute: 30,
			SendBurst:         5,
		},
		Store: StoreConfig{
			URL:                   "${DATABASE_URL}",
			ConnectTimeoutSeconds: 10,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9464",
			Endpoint:   "/metrics",
		},
	}
}
