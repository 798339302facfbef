// Package store opens the data-store connection at startup.
//
// The connection is only established and reported; nothing reads or writes
// through it yet, so no schema is created.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"greetbot/internal/bus"
	"greetbot/internal/domain"
)

const defaultConnectTimeout = 10 * time.Second

// Result is the outcome of one connection attempt.
type Result struct {
	Handle *Handle
	Err    error
}

// Handle is an open data-store connection pool.
type Handle struct {
	db     *sql.DB
	driver string
	target string
}

// Driver returns the database/sql driver name ("sqlite" or "postgres").
func (h *Handle) Driver() string { return h.driver }

// Target returns the connection string with credentials redacted.
func (h *Handle) Target() string { return h.target }

func (h *Handle) Ping(ctx context.Context) error { return h.db.PingContext(ctx) }

func (h *Handle) Close() error { return h.db.Close() }

// Connector establishes the data-store connection and reports its status
// to the event bus.
type Connector struct {
	timeout time.Duration
	events  *bus.EventBus
	logger  *slog.Logger
	status  atomic.Int32
}

type ConnectorConfig struct {
	Timeout time.Duration
	Events  *bus.EventBus // optional
	Logger  *slog.Logger
}

func NewConnector(cfg ConnectorConfig) *Connector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultConnectTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Connector{
		timeout: cfg.Timeout,
		events:  cfg.Events,
		logger:  cfg.Logger,
	}
	c.status.Store(int32(domain.StatusConnecting))
	return c
}

// Status returns the state of the latest connection attempt.
func (c *Connector) Status() domain.ConnectionStatus {
	return domain.ConnectionStatus(c.status.Load())
}

// Connect starts a connection attempt in the background. The returned
// channel receives exactly one Result and is then closed.
func (c *Connector) Connect(ctx context.Context, connString string) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		h, err := c.ConnectSync(ctx, connString)
		out <- Result{Handle: h, Err: err}
	}()
	return out
}

// ConnectSync opens and pings the store, bounded by the connector timeout.
// Every failure is a *domain.ConnectionError.
func (c *Connector) ConnectSync(ctx context.Context, connString string) (*Handle, error) {
	target := redact(connString)
	c.status.Store(int32(domain.StatusConnecting))
	c.emit(bus.EventStoreConnecting, target, nil)

	h, err := c.open(ctx, connString, target)
	if err != nil {
		cerr := &domain.ConnectionError{Target: target, Err: err}
		c.status.Store(int32(domain.StatusFailed))
		c.emit(bus.EventStoreFailed, target, cerr)
		return nil, cerr
	}

	c.status.Store(int32(domain.StatusConnected))
	c.emit(bus.EventStoreConnected, target, nil)
	return h, nil
}

func (c *Connector) open(ctx context.Context, connString, target string) (*Handle, error) {
	driver, dsn, err := ParseConnString(connString)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	c.logger.Debug("store reachable", "driver", driver, "target", target)
	return &Handle{db: db, driver: driver, target: target}, nil
}

func (c *Connector) emit(eventType, target string, err error) {
	if c.events == nil {
		return
	}
	c.events.Emit(bus.Event{
		Type:    eventType,
		Source:  "store",
		Payload: map[string]any{"target": target},
		Err:     err,
	})
}

// ParseConnString maps a connection string to a database/sql driver name
// and driver-specific DSN.
//
//	sqlite://<path>, sqlite://:memory:, file:<path>  -> modernc.org/sqlite
//	postgres://..., postgresql://...                 -> github.com/lib/pq
func ParseConnString(s string) (driver, dsn string, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", domain.ErrEmptyConnectionString
	}

	switch {
	case strings.HasPrefix(s, "sqlite://"):
		path := strings.TrimPrefix(s, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("sqlite connection string has no path")
		}
		if path == ":memory:" {
			return "sqlite", path, nil
		}
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return "sqlite", path + sep + "_pragma=busy_timeout(5000)", nil
	case strings.HasPrefix(s, "file:"):
		return "sqlite", s, nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", "", fmt.Errorf("malformed connection string: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql":
		if u.Host == "" {
			return "", "", fmt.Errorf("postgres connection string has no host")
		}
		return "postgres", s, nil
	case "":
		return "", "", fmt.Errorf("%w: missing scheme", domain.ErrUnsupportedScheme)
	default:
		return "", "", fmt.Errorf("%w: %s", domain.ErrUnsupportedScheme, u.Scheme)
	}
}

// redact hides the password of URL-style connection strings.
func redact(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.User == nil {
		return s
	}
	return u.Redacted()
}
