package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	mochiauth "github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/ehrlich-b/clicker/internal/config"
	"github.com/ehrlich-b/clicker/internal/session"
	"github.com/ehrlich-b/clicker/internal/wire"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := rootCmd(&app{})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConfigFlagUpdatesAndExits(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.EnvHome, dir)

	out, err := execute(t, "--port", "8883", "--transport", "websockets")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Config updated: "+config.Path(dir)) {
		t.Errorf("output = %q", out)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8883 || cfg.Transport != config.TransportWebsockets || cfg.Host != "test.mosquitto.org" {
		t.Errorf("config = %+v", cfg)
	}

	// On a session command the flag still only updates the file; no
	// session is started, so this returns without a broker.
	out, err = execute(t, "listen", "--host", "broker.example.com", "--room", "ABC123")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Config updated") || strings.Contains(out, "Room:") {
		t.Errorf("output = %q", out)
	}
	cfg, _ = config.Load(dir)
	if cfg.Host != "broker.example.com" || cfg.Port != 8883 {
		t.Errorf("config = %+v", cfg)
	}
}

func TestInvalidFlagsRejected(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"--port", "0"}, "--port"},
		{[]string{"--port", "70000"}, "--port"},
		{[]string{"--keepalive", "0"}, "--keepalive"},
		{[]string{"--transport", "udp"}, "--transport"},
		{[]string{"--host", " "}, "--host"},
		{[]string{"remote", "--user", "a", "--room", "R", "--password", "p", "--port=-1"}, "--port"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			dir := t.TempDir()
			t.Setenv(config.EnvHome, dir)
			out, err := execute(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %s", err, tt.want)
			}
			if strings.Contains(out, "Config updated") {
				t.Error("invalid value written")
			}
			if _, err := os.Stat(config.Path(dir)); !os.IsNotExist(err) {
				t.Error("config file created for invalid value")
			}
		})
	}
}

func TestConfigCommand(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.EnvHome, dir)
	out, err := execute(t, "config")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{config.Path(dir), "host: test.mosquitto.org", "port: 1883", "transport: tcp"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestParseSequence(t *testing.T) {
	got, err := parseSequence([]string{"start", " n", "prev", "blackout", "end"})
	if err != nil {
		t.Fatal(err)
	}
	want := []wire.Action{wire.ActionStart, wire.ActionNext, wire.ActionPrevious, wire.ActionBlackout, wire.ActionEnd}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("action %d = %s, want %s", i, got[i], want[i])
		}
	}
	if _, err := parseSequence([]string{"next", "jump"}); err == nil {
		t.Error("unknown action accepted")
	}
	if _, err := parseSequence(nil); err == nil {
		t.Error("empty sequence accepted")
	}
}

func TestPromptPasswordFromPipe(t *testing.T) {
	in := strings.NewReader("hunter2\nnext\n")
	lines := bufio.NewReader(in)
	pw, err := promptPassword(in, lines, io.Discard)
	if err != nil || pw != "hunter2" {
		t.Fatalf("password = %q, %v", pw, err)
	}
	rest, _ := lines.ReadString('\n')
	if rest != "next\n" {
		t.Errorf("remaining input = %q", rest)
	}
}

func TestRunConsole(t *testing.T) {
	var seen []string
	var out bytes.Buffer
	in := strings.NewReader("users\n\n  nav   alice \nbogus\nquit\nusers\n")
	err := runConsole(context.Background(), in, &out, func(f []string) error {
		seen = append(seen, strings.Join(f, " "))
		switch f[0] {
		case "quit":
			return errQuit
		case "bogus":
			return io.ErrUnexpectedEOF
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"users", "nav alice", "bogus", "quit"}
	if strings.Join(seen, "|") != strings.Join(want, "|") {
		t.Errorf("handled %q, want %q", seen, want)
	}
	if !strings.Contains(out.String(), "error: unexpected EOF") {
		t.Errorf("output = %q", out.String())
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startBroker(t *testing.T) *config.Config {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := mochi.New(&mochi.Options{Logger: quiet})
	if err := server.AddHook(new(mochiauth.AllowHook), nil); err != nil {
		t.Fatal(err)
	}
	if err := server.AddListener(listeners.NewTCP(listeners.Config{ID: "tcp", Address: addr})); err != nil {
		t.Fatal(err)
	}
	go server.Serve()
	t.Cleanup(func() { server.Close() })

	host, port, _ := net.SplitHostPort(addr)
	cfg := config.Default()
	cfg.Host = host
	cfg.Port, _ = strconv.Atoi(port)
	return cfg
}

func TestMockDrivesListener(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an MQTT broker")
	}
	cfg := startBroker(t)
	a := &app{dir: t.TempDir(), cfg: cfg}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consoleIn, feed := io.Pipe()
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- runListener(ctx, a, "ABC123", "hunter2", consoleIn, out) }()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "Listening on") {
		if time.Now().After(deadline) {
			t.Fatalf("listener did not start:\n%s", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}

	actions := []wire.Action{wire.ActionNext, wire.ActionStart}
	opts := session.Options{Grace: 100 * time.Millisecond}
	if err := runMock(ctx, cfg, opts, "MockUser", "ABC123", "hunter2", actions, 100*time.Millisecond, 100*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"MockUser is online",
		"Action 'next' from 'MockUser' allowed and executed.",
		"Action 'start' from 'MockUser' denied (insufficient permissions).",
		"MockUser is offline",
	}
	for !containsAll(out.String(), want) {
		if time.Now().After(deadline.Add(5 * time.Second)) {
			t.Fatalf("listener output missing lines:\n%s", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}

	io.WriteString(feed, "quit\n")
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not quit")
	}
}

func containsAll(s string, subs []string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
