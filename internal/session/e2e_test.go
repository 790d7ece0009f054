package session

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	mochiauth "github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/ehrlich-b/clicker/internal/auth"
	"github.com/ehrlich-b/clicker/internal/config"
	"github.com/ehrlich-b/clicker/internal/topic"
	"github.com/ehrlich-b/clicker/internal/wire"
)

type testBroker struct {
	tcp *config.Config
	ws  *config.Config
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func brokerConfig(t *testing.T, addr, transport string) *config.Config {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Host = host
	cfg.Port, _ = strconv.Atoi(port)
	cfg.Transport = transport
	return cfg
}

// startBroker runs an in-process MQTT broker with TCP and WebSocket
// listeners for the duration of the test.
func startBroker(t *testing.T) testBroker {
	t.Helper()
	server := mochi.New(&mochi.Options{Logger: quietLogger()})
	if err := server.AddHook(new(mochiauth.AllowHook), nil); err != nil {
		t.Fatal(err)
	}
	tcpAddr, wsAddr := freeAddr(t), freeAddr(t)
	if err := server.AddListener(listeners.NewTCP(listeners.Config{ID: "tcp", Address: tcpAddr})); err != nil {
		t.Fatal(err)
	}
	if err := server.AddListener(listeners.NewWebsocket(listeners.Config{ID: "ws", Address: wsAddr})); err != nil {
		t.Fatal(err)
	}
	go func() {
		if err := server.Serve(); err != nil {
			t.Errorf("broker: %v", err)
		}
	}()
	t.Cleanup(func() { server.Close() })

	tb := testBroker{
		tcp: brokerConfig(t, tcpAddr, config.TransportTCP),
		ws:  brokerConfig(t, wsAddr, config.TransportWebsockets),
	}
	waitFor(t, "broker listening", func() bool {
		c, err := net.Dial("tcp", tcpAddr)
		if err != nil {
			return false
		}
		c.Close()
		return true
	})
	return tb
}

// presences decodes every status message the recorder has seen.
func presences(r *recorder) []wire.Presence {
	var out []wire.Presence
	for _, ev := range r.snapshot() {
		m, ok := ev.(MessageReceived)
		if !ok || m.Err != nil || topic.Classify(m.Topic) != topic.KindStatus {
			continue
		}
		if p, err := wire.DecodePresence(m.Payload); err == nil {
			out = append(out, p)
		}
	}
	return out
}

func commands(r *recorder) []wire.Command {
	var out []wire.Command
	for _, ev := range r.snapshot() {
		m, ok := ev.(MessageReceived)
		if !ok || m.Err != nil || topic.Classify(m.Topic) != topic.KindPresentation {
			continue
		}
		if c, err := wire.DecodeCommand(m.Payload); err == nil {
			out = append(out, c)
		}
	}
	return out
}

func hasPresence(r *recorder, user string, st wire.Status) bool {
	for _, p := range presences(r) {
		if p.User == user && p.Status == st {
			return true
		}
	}
	return false
}

func liveOptions(r *recorder) Options {
	return Options{
		Observer:   r.observe,
		Logger:     quietLogger(),
		RetryDelay: 50 * time.Millisecond,
		Grace:      100 * time.Millisecond,
	}
}

func runRoundTrip(t *testing.T, cfg *config.Config) {
	ctx := context.Background()
	serverEvents := &recorder{}
	srv := NewServer(cfg, liveOptions(serverEvents))
	defer srv.Close()
	if err := srv.Connect(ctx, testRoom, testPassword, 5*time.Second); err != nil {
		t.Fatalf("server connect: %v", err)
	}

	clientEvents := &recorder{}
	cl, err := NewClient(cfg, "alice", liveOptions(clientEvents))
	if err != nil {
		t.Fatal(err)
	}
	defer cl.Close()
	if err := cl.Connect(ctx, testRoom, testPassword, 5*time.Second); err != nil {
		t.Fatalf("client connect: %v", err)
	}

	waitFor(t, "alice online", func() bool { return hasPresence(serverEvents, "alice", wire.StatusOnline) })

	if err := cl.PublishAction(wire.ActionNext); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "command", func() bool { return len(commands(serverEvents)) == 1 })
	if got := commands(serverEvents)[0]; got != (wire.Command{User: "alice", Action: wire.ActionNext}) {
		t.Errorf("command = %+v", got)
	}

	if err := cl.Disconnect(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "alice offline", func() bool { return hasPresence(serverEvents, "alice", wire.StatusOffline) })

	// A clean disconnect cancels the will.
	time.Sleep(300 * time.Millisecond)
	if hasPresence(serverEvents, "alice", wire.StatusConnectionLost) {
		t.Error("will published after clean disconnect")
	}
}

func TestRoundTripTCP(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an MQTT broker")
	}
	runRoundTrip(t, startBroker(t).tcp)
}

func TestRoundTripWebsocket(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an MQTT broker")
	}
	runRoundTrip(t, startBroker(t).ws)
}

// cutProxy relays TCP between clients and the broker and can drop every
// relayed connection from the middle, which both ends see as the peer going
// away.
type cutProxy struct {
	l      net.Listener
	target string

	mu    sync.Mutex
	conns []net.Conn
}

func startProxy(t *testing.T, target string) *cutProxy {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	p := &cutProxy{l: l, target: target}
	go p.serve()
	t.Cleanup(func() {
		l.Close()
		p.cut()
	})
	return p
}

func (p *cutProxy) serve() {
	for {
		down, err := p.l.Accept()
		if err != nil {
			return
		}
		up, err := net.Dial("tcp", p.target)
		if err != nil {
			down.Close()
			continue
		}
		p.mu.Lock()
		p.conns = append(p.conns, down, up)
		p.mu.Unlock()
		go relay(up, down)
		go relay(down, up)
	}
}

func relay(dst, src net.Conn) {
	io.Copy(dst, src)
	dst.Close()
}

// dial ignores the requested address and connects through the proxy.
func (p *cutProxy) dial(ctx context.Context, network, _ string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, p.l.Addr().String())
}

func (p *cutProxy) cut() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.conns {
		c.Close()
	}
	p.conns = nil
}

func TestUncleanLossPublishesWill(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an MQTT broker")
	}
	cfg := startBroker(t).tcp
	ctx := context.Background()

	serverEvents := &recorder{}
	srv := NewServer(cfg, liveOptions(serverEvents))
	defer srv.Close()
	if err := srv.Connect(ctx, testRoom, testPassword, 5*time.Second); err != nil {
		t.Fatal(err)
	}

	proxy := startProxy(t, cfg.Addr())
	clientEvents := &recorder{}
	opts := liveOptions(clientEvents)
	opts.DialContext = proxy.dial
	cl, err := NewClient(cfg, "bob", opts)
	if err != nil {
		t.Fatal(err)
	}
	defer cl.Close()
	if err := cl.Connect(ctx, testRoom, testPassword, 5*time.Second); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "bob online", func() bool { return hasPresence(serverEvents, "bob", wire.StatusOnline) })

	proxy.cut()

	waitFor(t, "will", func() bool { return hasPresence(serverEvents, "bob", wire.StatusConnectionLost) })
	waitFor(t, "client saw the loss", func() bool {
		for _, ev := range clientEvents.snapshot() {
			if d, ok := ev.(Disconnected); ok && d.Err != nil {
				return true
			}
		}
		return false
	})

	// The client comes back on its own and announces itself again.
	waitFor(t, "reconnect", func() bool { return cl.State() == StateConnected })
	waitFor(t, "bob online again", func() bool {
		ps := presences(serverEvents)
		return len(ps) > 0 && ps[len(ps)-1] == (wire.Presence{User: "bob", Status: wire.StatusOnline})
	})
	if cl.reconnectCount() != 1 {
		t.Errorf("reconnect loops = %d", cl.reconnectCount())
	}
}

func TestWrongPasswordIsNotReadable(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an MQTT broker")
	}
	cfg := startBroker(t).tcp
	ctx := context.Background()

	serverEvents := &recorder{}
	srv := NewServer(cfg, liveOptions(serverEvents))
	defer srv.Close()
	if err := srv.Connect(ctx, testRoom, testPassword, 5*time.Second); err != nil {
		t.Fatal(err)
	}

	cl, err := NewClient(cfg, "mallory", liveOptions(&recorder{}))
	if err != nil {
		t.Fatal(err)
	}
	defer cl.Close()
	if err := cl.Connect(ctx, testRoom, "guess", 5*time.Second); err != nil {
		t.Fatal(err)
	}
	if err := cl.PublishAction(wire.ActionNext); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "undecryptable messages", func() bool {
		var failed int
		for _, ev := range serverEvents.snapshot() {
			if m, ok := ev.(MessageReceived); ok && errors.Is(m.Err, auth.ErrDecrypt) {
				failed++
			}
		}
		return failed >= 2
	})
	if len(commands(serverEvents)) != 0 || len(presences(serverEvents)) != 0 {
		t.Error("message under the wrong password was accepted")
	}
}

func TestConnectRefused(t *testing.T) {
	cfg := brokerConfig(t, freeAddr(t), config.TransportTCP)
	cl, err := NewClient(cfg, "alice", liveOptions(&recorder{}))
	if err != nil {
		t.Fatal(err)
	}
	defer cl.Close()

	start := time.Now()
	err = cl.Connect(context.Background(), testRoom, testPassword, 5*time.Second)
	if err == nil {
		t.Fatal("connect to closed port succeeded")
	}
	if errors.Is(err, ErrConnectTimeout) || time.Since(start) > 3*time.Second {
		t.Errorf("refused connection reported as timeout: %v after %v", err, time.Since(start))
	}
	if cl.State() != StateIdle {
		t.Errorf("state = %s", cl.State())
	}
}
