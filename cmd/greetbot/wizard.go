package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/spf13/cobra"

	"greetbot/internal/config"
)

var knownDrivers = []struct {
	ID   string
	Desc string
}{
	{config.DriverWhatsAppWeb, "WhatsApp Web in a headless browser (pair with a QR code)"},
	{config.DriverWhatsAppCloud, "WhatsApp Cloud API webhook"},
	{config.DriverTelegram, "Telegram bot"},
	{config.DriverCLI, "Local terminal, for trying out rules"},
}

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: driver → data store → greeting → save config",
		Long:  "Guides you through the session driver and its credentials, the data store URL, and the greeting reply. Writes config to the path used by --config or default.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWizard(cmd.InOrStdin(), cmd.OutOrStdout(), resolveConfigPath())
		},
	}
}

type prompter struct {
	r   *bufio.Reader
	out io.Writer
}

func (p *prompter) ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	line, err := p.r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	s := strings.TrimSpace(line)
	if s == "" {
		return def, nil
	}
	return s, nil
}

func runWizard(in io.Reader, out io.Writer, cfgPath string) error {
	cfg, err := config.LoadRaw(cfgPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = config.Defaults()
	case err != nil:
		return fmt.Errorf("%w (fix or remove the file before running the wizard)", err)
	}
	p := &prompter{r: bufio.NewReader(in), out: out}

	// Step 1: Driver
	fmt.Fprintln(out, "\n--- Step 1: Session driver ---")
	for i, d := range knownDrivers {
		fmt.Fprintf(out, "  %d. %-15s %s\n", i+1, d.ID, d.Desc)
	}
	choice, err := p.ask("Driver", cfg.Session.Driver)
	if err != nil {
		return err
	}
	driver := resolveDriverChoice(choice)
	if driver == "" {
		return fmt.Errorf("unknown driver %q", choice)
	}
	cfg.Session.Driver = driver

	// Step 2: Driver settings
	fmt.Fprintln(out, "\n--- Step 2: Driver settings ---")
	if err := askDriverSettings(p, cfg); err != nil {
		return err
	}

	// Step 3: Data store
	fmt.Fprintln(out, "\n--- Step 3: Data store ---")
	fmt.Fprintln(out, "Connection string (sqlite://path, postgres://...). ${VAR} is read from the environment.")
	storeDef := cfg.Store.URL
	if storeDef == "" {
		storeDef = "${DATABASE_URL}"
	}
	if cfg.Store.URL, err = p.ask("Store URL", storeDef); err != nil {
		return err
	}

	// Step 4: Greeting
	fmt.Fprintln(out, "\n--- Step 4: Greeting ---")
	if cfg.Rules.File != "" {
		fmt.Fprintf(out, "Rules are read from %s; edit that file to change replies.\n", cfg.Rules.File)
	} else if len(cfg.Rules.Table) > 0 {
		old := cfg.Rules.Table[0].ResponseText
		greeting, err := p.ask("Reply to greetings", old)
		if err != nil {
			return err
		}
		for i := range cfg.Rules.Table {
			if cfg.Rules.Table[i].ResponseText == old {
				cfg.Rules.Table[i].ResponseText = greeting
			}
		}
	}

	if _, err := config.Resolve(cfg); err != nil {
		return err
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Fprintf(out, "\nConfig written to %s\n", cfgPath)
	fmt.Fprintln(out, "Run 'greetbot doctor' to check the setup, then 'greetbot' to start.")
	return nil
}

// resolveDriverChoice accepts a driver id or its 1-based menu number.
func resolveDriverChoice(choice string) string {
	for i, d := range knownDrivers {
		if choice == d.ID || choice == fmt.Sprint(i+1) {
			return d.ID
		}
	}
	return ""
}

func askDriverSettings(p *prompter, cfg *config.Config) error {
	var err error
	ch := &cfg.Channels
	switch cfg.Session.Driver {
	case config.DriverWhatsAppWeb:
		if ch.WhatsAppWeb.ProfileDir, err = p.ask("Browser profile directory", ch.WhatsAppWeb.ProfileDir); err != nil {
			return err
		}
		headless, err := p.ask("Run headless (y/n)", yesNo(ch.WhatsAppWeb.Headless))
		if err != nil {
			return err
		}
		ch.WhatsAppWeb.Headless = strings.HasPrefix(strings.ToLower(headless), "y")
	case config.DriverWhatsAppCloud:
		wc := &ch.WhatsAppCloud
		if wc.ListenAddr, err = p.ask("Webhook listen address", wc.ListenAddr); err != nil {
			return err
		}
		if wc.PhoneNumberID, err = p.ask("Phone number ID", wc.PhoneNumberID); err != nil {
			return err
		}
		if wc.AccessToken, err = p.ask("Access token", orEnv(wc.AccessToken, "WHATSAPP_ACCESS_TOKEN")); err != nil {
			return err
		}
		if wc.VerifyToken, err = p.ask("Webhook verify token", wc.VerifyToken); err != nil {
			return err
		}
		if wc.AppSecret, err = p.ask("App secret (empty to skip signature checks)", wc.AppSecret); err != nil {
			return err
		}
	case config.DriverTelegram:
		if ch.Telegram.Token, err = p.ask("Bot token", orEnv(ch.Telegram.Token, "TELEGRAM_BOT_TOKEN")); err != nil {
			return err
		}
		allow, err := p.ask("Allowed user IDs, comma separated (empty for everyone)", strings.Join(ch.Telegram.AllowFrom, ","))
		if err != nil {
			return err
		}
		ch.Telegram.AllowFrom = nil
		for _, id := range strings.Split(allow, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ch.Telegram.AllowFrom = append(ch.Telegram.AllowFrom, id)
			}
		}
	case config.DriverCLI:
		fmt.Fprintln(p.out, "No settings needed.")
	}
	return nil
}

func orEnv(value, envVar string) string {
	if value != "" {
		return value
	}
	return "${" + envVar + "}"
}

func yesNo(b bool) string {
	if b {
		return "y"
	}
	return "n"
}
