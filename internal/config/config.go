package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"greetbot/internal/domain"
	"greetbot/internal/rules"
)

// Config is the root configuration for greetbot.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Session   SessionConfig   `json:"session"`
	Channels  ChannelsConfig  `json:"channels"`
	Rules     RulesConfig     `json:"rules"`
	Responder ResponderConfig `json:"responder"`
	Store     StoreConfig     `json:"store"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel"`          // debug | info | warn | error
	LogFormat string `json:"logFormat"`         // text | json
	LogFile   string `json:"logFile,omitempty"` // empty = stderr
}

// Session drivers.
const (
	DriverWhatsAppWeb   = "whatsapp-web"
	DriverWhatsAppCloud = "whatsapp-cloud"
	DriverTelegram      = "telegram"
	DriverCLI           = "cli"
)

type SessionConfig struct {
	Driver string `json:"driver"`
	QRLink bool   `json:"qrLink"` // also print a qrserver.com link for the pairing code
}

type ChannelsConfig struct {
	WhatsAppWeb   WhatsAppWebConfig   `json:"whatsappWeb"`
	WhatsAppCloud WhatsAppCloudConfig `json:"whatsappCloud"`
	Telegram      TelegramConfig      `json:"telegram"`
}

type WhatsAppWebConfig struct {
	URL            string `json:"url"`
	ProfileDir     string `json:"profileDir"` // browser profile; keeps the pairing between runs
	Headless       bool   `json:"headless"`
	PollIntervalMs int    `json:"pollIntervalMs"`
}

type WhatsAppCloudConfig struct {
	ListenAddr    string `json:"listenAddr"`
	WebhookPath   string `json:"webhookPath"`
	APIBase       string `json:"apiBase"`
	AppSecret     string `json:"appSecret,omitempty"`
	AccessToken   string `json:"accessToken,omitempty"`
	VerifyToken   string `json:"verifyToken,omitempty"`
	PhoneNumberID string `json:"phoneNumberId,omitempty"`
}

type TelegramConfig struct {
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456"), or
// from one comma separated string.
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err == nil {
		*f = splitList(joined)
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// splitList splits a comma separated list, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// RulesConfig holds the reply rule table. File, when set, replaces Table.
type RulesConfig struct {
	File  string             `json:"file,omitempty"`
	Table []domain.ReplyRule `json:"table"`
}

type ResponderConfig struct {
	QueueSize         int `json:"queueSize"`
	SendRatePerMinute int `json:"sendRatePerMinute"`
	SendBurst         int `json:"sendBurst"`
}

type StoreConfig struct {
	URL                   string `json:"url"`
	ConnectTimeoutSeconds int    `json:"connectTimeoutSeconds"`
}

type MetricsConfig struct {
	Enabled    bool   `json:"enabled"`
	ListenAddr string `json:"listenAddr"`
	Endpoint   string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.greetbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".greetbot"
	}
	return filepath.Join(home, ".greetbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads, expands, and validates the config file at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	return Resolve(raw)
}

// LoadRaw reads the config file over the defaults without expanding
// ${VAR} placeholders or ~/ paths and without validating. Commands that
// edit and save the file start from it so placeholders are written back
// unchanged.
func LoadRaw(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve returns a validated copy of raw with placeholders and paths
// expanded. raw is not modified.
func Resolve(raw *Config) (*Config, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal config: %w", err)
	}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	cfg.Rules.Table = nil
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse expanded config: %w", err)
	}

	finish(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
// The bool reports whether a file was read.
func LoadOrDefault(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	cfg, err = Resolve(Defaults())
	if err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// finish expands paths and clears placeholders whose variable is unset,
// so an absent DATABASE_URL reads as an empty connection string.
func finish(cfg *Config) {
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Channels.WhatsAppWeb.ProfileDir = ExpandPath(cfg.Channels.WhatsAppWeb.ProfileDir)
	cfg.Rules.File = ExpandPath(cfg.Rules.File)
	if envVarPattern.MatchString(cfg.Store.URL) {
		cfg.Store.URL = ""
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left as is.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, ok := os.LookupEnv(groups[1])
		if !ok || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	switch cfg.Session.Driver {
	case DriverWhatsAppWeb:
		if cfg.Channels.WhatsAppWeb.URL == "" {
			errs = append(errs, "channels.whatsappWeb.url is required")
		}
		if cfg.Channels.WhatsAppWeb.PollIntervalMs < 100 {
			errs = append(errs, "channels.whatsappWeb.pollIntervalMs must be >= 100")
		}
	case DriverWhatsAppCloud:
		wc := cfg.Channels.WhatsAppCloud
		if wc.ListenAddr == "" {
			errs = append(errs, "channels.whatsappCloud.listenAddr is required")
		}
		if !strings.HasPrefix(wc.WebhookPath, "/") {
			errs = append(errs, "channels.whatsappCloud.webhookPath must start with /")
		}
		if wc.PhoneNumberID == "" || wc.AccessToken == "" {
			errs = append(errs, "channels.whatsappCloud.phoneNumberId and accessToken are required")
		}
		if wc.VerifyToken == "" {
			errs = append(errs, "channels.whatsappCloud.verifyToken is required")
		}
	case DriverTelegram:
		if cfg.Channels.Telegram.Token == "" {
			errs = append(errs, "channels.telegram.token is required")
		}
	case DriverCLI:
	default:
		errs = append(errs, fmt.Sprintf("session.driver must be one of: %s, %s, %s, %s",
			DriverWhatsAppWeb, DriverWhatsAppCloud, DriverTelegram, DriverCLI))
	}

	if cfg.Responder.QueueSize < 1 || cfg.Responder.QueueSize > 10000 {
		errs = append(errs, "responder.queueSize must be between 1 and 10000")
	}
	if cfg.Responder.SendRatePerMinute < 1 {
		errs = append(errs, "responder.sendRatePerMinute must be >= 1")
	}
	if cfg.Responder.SendBurst < 1 {
		errs = append(errs, "responder.sendBurst must be >= 1")
	}

	if cfg.Store.ConnectTimeoutSeconds < 1 || cfg.Store.ConnectTimeoutSeconds > 300 {
		errs = append(errs, "store.connectTimeoutSeconds must be between 1 and 300")
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.ListenAddr == "" {
			errs = append(errs, "metrics.listenAddr is required when metrics are enabled")
		}
		if !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
			errs = append(errs, "metrics.endpoint must start with /")
		}
	}

	if cfg.Rules.File == "" {
		if len(cfg.Rules.Table) == 0 {
			errs = append(errs, "rules.table is empty and no rules.file is set")
		} else if err := rules.Validate(cfg.Rules.Table); err != nil {
			errs = append(errs, "rules.table: "+err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ReplyRules returns the rule table in match order, reading rules.file if set.
func (c *Config) ReplyRules() ([]domain.ReplyRule, error) {
	if c.Rules.File != "" {
		return rules.LoadFile(c.Rules.File)
	}
	return c.Rules.Table, nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
