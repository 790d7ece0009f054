package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ehrlich-b/clicker/internal/config"
	"github.com/ehrlich-b/clicker/internal/session"
)

const connectTimeout = 10 * time.Second

// liveConfig holds the latest broker settings. Reloads only affect
// sessions created afterwards.
type liveConfig struct {
	mu      sync.Mutex
	cfg     *config.Config
	version int
}

func (l *liveConfig) get() (*config.Config, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg, l.version
}

func (l *liveConfig) set(cfg *config.Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
	l.version++
}

// watch reloads from dir until ctx is done. Invalid files keep the last
// good settings.
func (l *liveConfig) watch(ctx context.Context, dir string) {
	err := config.Watch(ctx, dir, func(cfg *config.Config, err error) {
		if err != nil {
			slog.Warn("config reload failed, keeping previous settings", "err", err)
			return
		}
		l.set(cfg)
		slog.Info("config reloaded, applies on next connect", "broker", session.BrokerURL(cfg))
	})
	if err != nil {
		slog.Warn("config watch unavailable", "err", err)
	}
}

// conn is what the console needs from a Client or Server.
type conn interface {
	Connect(ctx context.Context, room, password string, timeout time.Duration) error
	Disconnect() error
	Close() error
	State() session.State
}

// controller owns the current session and rebuilds it when the config has
// changed since it was created.
type controller struct {
	live     *liveConfig
	create   func(cfg *config.Config) (conn, error)
	room     string
	password string

	cur     conn
	version int
}

func (c *controller) connect(ctx context.Context) error {
	cfg, version := c.live.get()
	if c.cur != nil && version != c.version {
		c.cur.Close()
		c.cur = nil
	}
	if c.cur == nil {
		s, err := c.create(cfg)
		if err != nil {
			return err
		}
		c.cur, c.version = s, version
	}
	return c.cur.Connect(ctx, c.room, c.password, connectTimeout)
}

func (c *controller) disconnect() error {
	if c.cur == nil {
		return session.ErrNotConnected
	}
	return c.cur.Disconnect()
}

func (c *controller) close() {
	if c.cur != nil {
		c.cur.Close()
	}
}

// errQuit ends a console loop without error.
var errQuit = errors.New("quit")

// runConsole reads commands from in until quit, EOF or ctx is done. Each
// line is split into fields and passed to handle.
func runConsole(ctx context.Context, in io.Reader, out io.Writer, handle func(fields []string) error) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			err := handle(fields)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
}
