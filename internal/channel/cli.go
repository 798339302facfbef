package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"greetbot/internal/domain"
	"greetbot/internal/session"
)

const cliDefaultSender = "local"

// CLI is a terminal session driver: each input line is an inbound message
// and replies are printed. It is Ready as soon as it starts.
type CLI struct {
	logger *slog.Logger
	in     io.Reader
	out    io.Writer
	sender string

	mu sync.Mutex // guards out and sender
}

type CLIConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
	Sender string // sender id for typed lines; change at runtime with /as <id>
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Sender == "" {
		cfg.Sender = cliDefaultSender
	}
	return &CLI{
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
		sender: cfg.Sender,
	}
}

func (c *CLI) Name() string { return DriverCLI }

// Run reads lines until EOF, /quit or ctx cancellation.
func (c *CLI) Run(ctx context.Context, sink session.Sink) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	c.printf("greetbot cli session as %q. Type a message and press Enter. /quit to exit.\n", c.currentSender())
	sink.Authenticated()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			sink.Disconnected(err)
			return nil
		case line := <-lines:
			line = strings.TrimRight(line, "\r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			switch cmd := strings.Fields(line); cmd[0] {
			case "/quit", "/exit", "/q":
				c.logger.Info("cli quit requested")
				sink.Disconnected(nil)
				return nil
			case "/as":
				if len(cmd) == 2 {
					c.mu.Lock()
					c.sender = cmd[1]
					c.mu.Unlock()
					c.printf("now typing as %q\n", cmd[1])
				} else {
					c.printf("usage: /as <sender>\n")
				}
				continue
			}
			sink.Message(domain.InboundMessage{
				ID:        uuid.NewString(),
				Channel:   DriverCLI,
				Sender:    c.currentSender(),
				Text:      line,
				Timestamp: time.Now(),
			})
		}
	}
}

func (c *CLI) Send(_ context.Context, to, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.out, "-> %s: %s\n", to, text); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	return nil
}

func (c *CLI) currentSender() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sender
}

func (c *CLI) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
