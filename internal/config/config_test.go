package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"greetbot/internal/domain"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_LogLevel(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error"} {
		cfg := Defaults()
		cfg.General.LogLevel = lvl
		if err := Validate(cfg); err != nil {
			t.Fatalf("logLevel %q should be valid: %v", lvl, err)
		}
	}

	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for logLevel=verbose")
	}
}

func TestValidate_LogFormat(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogFormat = "xml"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for logFormat=xml")
	}
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := Defaults()
	cfg.Session.Driver = "signal"
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "session.driver") {
		t.Fatalf("expected driver error, got %v", err)
	}
}

func TestValidate_TelegramRequiresToken(t *testing.T) {
	cfg := Defaults()
	cfg.Session.Driver = DriverTelegram
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for missing telegram token")
	}

	cfg.Channels.Telegram.Token = "123:abc"
	if err := Validate(cfg); err != nil {
		t.Fatalf("telegram with token should be valid: %v", err)
	}
}

func TestValidate_WhatsAppCloudRequiredFields(t *testing.T) {
	cfg := Defaults()
	cfg.Session.Driver = DriverWhatsAppCloud
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing cloud credentials")
	}
	if !strings.Contains(err.Error(), "phoneNumberId") || !strings.Contains(err.Error(), "verifyToken") {
		t.Fatalf("expected both credential errors, got %v", err)
	}

	cfg.Channels.WhatsAppCloud.PhoneNumberID = "1234"
	cfg.Channels.WhatsAppCloud.AccessToken = "token"
	cfg.Channels.WhatsAppCloud.VerifyToken = "verify"
	if err := Validate(cfg); err != nil {
		t.Fatalf("complete cloud config should be valid: %v", err)
	}

	cfg.Channels.WhatsAppCloud.WebhookPath = "webhook"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for relative webhook path")
	}
}

func TestValidate_WhatsAppWebPollInterval(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.WhatsAppWeb.PollIntervalMs = 10
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for pollIntervalMs=10")
	}
}

func TestValidate_Responder(t *testing.T) {
	cfg := Defaults()
	cfg.Responder.QueueSize = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for queueSize=0")
	}

	cfg = Defaults()
	cfg.Responder.SendRatePerMinute = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for sendRatePerMinute=0")
	}

	cfg = Defaults()
	cfg.Responder.SendBurst = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for sendBurst=0")
	}
}

func TestValidate_StoreTimeoutBoundary(t *testing.T) {
	cfg := Defaults()

	cfg.Store.ConnectTimeoutSeconds = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("timeout=1 should be valid: %v", err)
	}
	cfg.Store.ConnectTimeoutSeconds = 300
	if err := Validate(cfg); err != nil {
		t.Fatalf("timeout=300 should be valid: %v", err)
	}
	cfg.Store.ConnectTimeoutSeconds = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for timeout=0")
	}
}

func TestValidate_Metrics(t *testing.T) {
	cfg := Defaults()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Endpoint = "metrics"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for relative metrics endpoint")
	}

	cfg.Metrics.Endpoint = "/metrics"
	cfg.Metrics.ListenAddr = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty metrics listen address")
	}
}

func TestValidate_Rules(t *testing.T) {
	cfg := Defaults()
	cfg.Rules.Table = nil
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty rule table")
	}

	cfg.Rules.Table = []domain.ReplyRule{
		{MatchText: "hi", ResponseText: "a"},
		{MatchText: "Hi", ResponseText: "b"},
	}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for shadowed rule")
	}

	cfg.Rules.Table = nil
	cfg.Rules.File = "/etc/greetbot/rules.yaml"
	if err := Validate(cfg); err != nil {
		t.Fatalf("rules.file should make an empty table acceptable: %v", err)
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	original := Defaults()
	original.Session.Driver = DriverCLI
	original.Store.URL = "sqlite:///tmp/greetbot.db"

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Session.Driver != DriverCLI {
		t.Fatalf("expected driver cli, got %q", loaded.Session.Driver)
	}
	if loaded.Store.URL != "sqlite:///tmp/greetbot.db" {
		t.Fatalf("store url lost: %q", loaded.Store.URL)
	}
	if len(loaded.Rules.Table) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(loaded.Rules.Table))
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte("{invalid json"), 0o644)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"session": {"driver": "pager"}}`), 0o644)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "config validation") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"session": {"driver": "cli"}}`), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Responder.QueueSize != 100 {
		t.Errorf("expected default queue size, got %d", cfg.Responder.QueueSize)
	}
	if cfg.Store.ConnectTimeoutSeconds != 10 {
		t.Errorf("expected default store timeout, got %d", cfg.Store.ConnectTimeoutSeconds)
	}
}

func TestLoad_DatabaseURLFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://bot:secret@db:5432/greetbot")

	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"store": {"url": "${DATABASE_URL}"}}`), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.URL != "postgres://bot:secret@db:5432/greetbot" {
		t.Fatalf("expected env substitution, got %q", cfg.Store.URL)
	}
}

func TestLoad_UnsetDatabaseURLIsEmpty(t *testing.T) {
	os.Unsetenv("GREETBOT_TEST_UNSET_DSN")

	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"store": {"url": "${GREETBOT_TEST_UNSET_DSN}"}}`), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.URL != "" {
		t.Fatalf("unresolved placeholder should read as empty, got %q", cfg.Store.URL)
	}
}

func TestEditAndSave_KeepsPlaceholders(t *testing.T) {
	for _, dsn := range []string{"", "postgres://bot:s3cret@db/app"} {
		t.Setenv("DATABASE_URL", dsn)
		t.Setenv("GREETBOT_TEST_WA_TOKEN", "token-from-env")

		path := filepath.Join(t.TempDir(), "config.json")
		initial := Defaults()
		initial.Channels.WhatsAppCloud.AccessToken = "${GREETBOT_TEST_WA_TOKEN}"
		if err := Save(path, initial); err != nil {
			t.Fatal(err)
		}

		raw, err := LoadRaw(path)
		if err != nil {
			t.Fatalf("load raw: %v", err)
		}
		if err := SetByPath(raw, "session.driver", DriverCLI); err != nil {
			t.Fatal(err)
		}
		if _, err := Resolve(raw); err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if err := Save(path, raw); err != nil {
			t.Fatal(err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		saved := string(data)
		if !strings.Contains(saved, `"url": "${DATABASE_URL}"`) {
			t.Fatalf("DATABASE_URL=%q: store placeholder lost:\n%s", dsn, saved)
		}
		if !strings.Contains(saved, `"accessToken": "${GREETBOT_TEST_WA_TOKEN}"`) {
			t.Fatalf("DATABASE_URL=%q: token placeholder lost:\n%s", dsn, saved)
		}
		if strings.Contains(saved, "s3cret") || strings.Contains(saved, "token-from-env") {
			t.Fatalf("expanded secrets written to disk:\n%s", saved)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Session.Driver != DriverCLI || cfg.Store.URL != dsn {
			t.Fatalf("reload: driver %q store %q, want cli and %q", cfg.Session.Driver, cfg.Store.URL, dsn)
		}
		if cfg.Channels.WhatsAppCloud.AccessToken != "token-from-env" {
			t.Fatalf("reload: token not expanded, got %q", cfg.Channels.WhatsAppCloud.AccessToken)
		}
	}
}

func TestResolve_LeavesRawUntouched(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite://:memory:")
	raw := Defaults()

	cfg, err := Resolve(raw)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.URL != "sqlite://:memory:" {
		t.Fatalf("expected expanded url, got %q", cfg.Store.URL)
	}
	if raw.Store.URL != "${DATABASE_URL}" || raw.Channels.WhatsAppWeb.ProfileDir != "~/.greetbot/whatsapp-profile" {
		t.Fatalf("raw config modified: %+v", raw.Store)
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite://:memory:")

	cfg, found, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("expected defaults, got %v", err)
	}
	if found {
		t.Fatal("found should be false for a missing file")
	}
	if cfg.Store.URL != "sqlite://:memory:" {
		t.Fatalf("expected DATABASE_URL in defaults, got %q", cfg.Store.URL)
	}
}

func TestLoadOrDefault_InvalidFileIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte("{"), 0o644)

	if _, _, err := LoadOrDefault(path); err == nil {
		t.Fatal("a broken config file must not fall back to defaults")
	}
}

func TestReplyRules_FromFile(t *testing.T) {
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "rules.yaml")
	os.WriteFile(rulesPath, []byte("rules:\n  - match: ping\n    response: pong\n"), 0o644)

	cfg := Defaults()
	cfg.Rules.File = rulesPath

	rs, err := cfg.ReplyRules()
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	if len(rs) != 1 || rs[0].ResponseText != "pong" {
		t.Fatalf("expected file rules to replace the table, got %+v", rs)
	}
}

func TestReplyRules_Inline(t *testing.T) {
	rs, err := Defaults().ReplyRules()
	if err != nil {
		t.Fatal(err)
	}
	if rs[0].MatchText != "hi" || rs[1].MatchText != "hello" {
		t.Fatalf("unexpected inline table order: %+v", rs)
	}
}

// --- FlexStringList ---

func TestFlexStringList_MixedTypes(t *testing.T) {
	var f FlexStringList
	if err := json.Unmarshal([]byte(`["123", 456]`), &f); err != nil {
		t.Fatal(err)
	}
	if len(f) != 2 || f[0] != "123" || f[1] != "456" {
		t.Fatalf("unexpected %v", f)
	}
}

func TestFlexStringList_CommaString(t *testing.T) {
	var f FlexStringList
	if err := json.Unmarshal([]byte(`"111, 222,"`), &f); err != nil {
		t.Fatal(err)
	}
	if len(f) != 2 || f[0] != "111" || f[1] != "222" {
		t.Fatalf("unexpected %v", f)
	}
}

func TestFlexStringList_InvalidJSON(t *testing.T) {
	var f FlexStringList
	if err := json.Unmarshal([]byte(`{"a":1}`), &f); err == nil {
		t.Fatal("expected error for object")
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_TOKEN", "abc123")
	result := ExpandEnvVars(`{"token": "${TEST_TOKEN}"}`)
	if result != `{"token": "abc123"}` {
		t.Fatalf("got %q", result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`{"addr": "${NONEXISTENT_VAR_12345:-:8080}"}`)
	if result != `{"addr": ":8080"}` {
		t.Fatalf("got %q", result)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("EMPTY_VAR", "")
	if got := ExpandEnvVars(`"${EMPTY_VAR:-fallback}"`); got != `"fallback"` {
		t.Fatalf("got %q", got)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	if got := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`); got != `"${TOTALLY_UNSET_VAR_XYZ}"` {
		t.Fatalf("got %q", got)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	if got := ExpandEnvVars(input); got != input {
		t.Fatalf("expected no change for bare $VAR, got %q", got)
	}
}

// --- Defaults ---

func TestDefaults_Greeting(t *testing.T) {
	cfg := Defaults()
	if cfg.Session.Driver != DriverWhatsAppWeb {
		t.Fatalf("default driver should be whatsapp-web, got %q", cfg.Session.Driver)
	}
	if cfg.Store.URL != "${DATABASE_URL}" {
		t.Fatalf("default store url should reference DATABASE_URL, got %q", cfg.Store.URL)
	}
	if !strings.HasPrefix(cfg.Rules.Table[0].ResponseText, "👋") {
		t.Fatalf("unexpected default greeting %q", cfg.Rules.Table[0].ResponseText)
	}
}
