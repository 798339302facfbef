package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"greetbot/internal/config"
	"greetbot/internal/store"
)

// chromeExecutables are the names chromedp looks for on PATH.
var chromeExecutables = []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome"}

type doctorReport struct {
	out                    io.Writer
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	fmt.Fprintf(r.out, "  [PASS] %-20s %s\n", check, detail)
	r.passed++
}

func (r *doctorReport) warn(check, detail string) {
	fmt.Fprintf(r.out, "  [WARN] %-20s %s\n", check, detail)
	r.warned++
}

func (r *doctorReport) fail(check, detail string) {
	fmt.Fprintf(r.out, "  [FAIL] %-20s %s\n", check, detail)
	r.failed++
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your greetbot installation",
		Long: `Verifies that greetbot's configuration, reply rules, data store, and
session driver prerequisites are set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := &doctorReport{out: cmd.OutOrStdout()}
			fmt.Fprintf(r.out, "greetbot doctor v%s\n", version)
			fmt.Fprintf(r.out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			runDoctor(cmd.Context(), r, resolveConfigPath())

			fmt.Fprintf(r.out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Fprintf(r.out, "Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				fmt.Fprintf(r.out, "\nPlease fix the failed checks before running greetbot.\n")
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			if r.warned > 0 {
				fmt.Fprintf(r.out, "\ngreetbot should work but consider fixing the warnings.\n")
			} else {
				fmt.Fprintf(r.out, "\nAll checks passed! greetbot is ready to run.\n")
			}
			return nil
		},
	}
}

func runDoctor(ctx context.Context, r *doctorReport, cfgPath string) {
	cfg, found, err := config.LoadOrDefault(cfgPath)
	switch {
	case err != nil:
		r.fail("Config", err.Error())
		return
	case !found:
		r.warn("Config", fmt.Sprintf("no file at %s, using defaults (run 'greetbot init')", cfgPath))
	default:
		r.pass("Config", cfgPath)
	}

	if table, err := cfg.ReplyRules(); err != nil {
		r.fail("Reply rules", err.Error())
	} else {
		r.pass("Reply rules", fmt.Sprintf("%d rule(s)", len(table)))
	}

	checkStore(ctx, r, cfg.Store)
	checkDriver(r, cfg)

	if cfg.Metrics.Enabled {
		if err := checkAddr(cfg.Metrics.ListenAddr); err != nil {
			r.warn("Metrics listener", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.ListenAddr, err))
		} else {
			r.pass("Metrics listener", cfg.Metrics.ListenAddr+" available")
		}
	}

	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
		} else {
			r.pass("Log file", cfg.General.LogFile)
		}
	}
}

// checkStore reports a store problem as a warning: the bot runs without it.
func checkStore(ctx context.Context, r *doctorReport, sc config.StoreConfig) {
	if sc.URL == "" {
		r.warn("Data store", "DATABASE_URL is not set; the bot will run without a store")
		return
	}
	timeout := time.Duration(sc.ConnectTimeoutSeconds) * time.Second
	c := store.NewConnector(store.ConnectorConfig{Timeout: timeout, Logger: logger})
	h, err := c.ConnectSync(ctx, sc.URL)
	if err != nil {
		r.warn("Data store", err.Error())
		return
	}
	defer h.Close()
	r.pass("Data store", fmt.Sprintf("%s reachable (%s)", h.Driver(), h.Target()))
}

func checkDriver(r *doctorReport, cfg *config.Config) {
	ch := cfg.Channels
	switch cfg.Session.Driver {
	case config.DriverWhatsAppWeb:
		if path, ok := findChrome(); ok {
			r.pass("Chrome", path)
		} else {
			r.fail("Chrome", "no Chrome/Chromium executable found on PATH")
		}
		if err := os.MkdirAll(ch.WhatsAppWeb.ProfileDir, 0o700); err != nil {
			r.fail("Browser profile", err.Error())
		} else {
			r.pass("Browser profile", ch.WhatsAppWeb.ProfileDir)
		}
	case config.DriverWhatsAppCloud:
		if err := checkAddr(ch.WhatsAppCloud.ListenAddr); err != nil {
			r.warn("Webhook listener", fmt.Sprintf("%s may be in use: %v", ch.WhatsAppCloud.ListenAddr, err))
		} else {
			r.pass("Webhook listener", ch.WhatsAppCloud.ListenAddr+" available")
		}
		if ch.WhatsAppCloud.AppSecret == "" {
			r.warn("Webhook signature", "appSecret not set; payloads are not verified")
		}
	case config.DriverTelegram:
		r.pass("Telegram", fmt.Sprintf("token set, %d allowed user(s)", len(ch.Telegram.AllowFrom)))
	case config.DriverCLI:
		r.pass("Session driver", "cli")
	}
}

func findChrome() (string, bool) {
	for _, name := range chromeExecutables {
		if path, err := exec.LookPath(name); err == nil {
			return path, true
		}
	}
	return "", false
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
