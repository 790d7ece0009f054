// Package session manages one encrypted MQTT session for a presentation
// room: connection lifecycle, last will, automatic reconnection and event
// delivery. Client and Server wrap it with the presenter-remote and
// listener roles.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/clicker/internal/auth"
	"github.com/ehrlich-b/clicker/internal/config"
	"github.com/ehrlich-b/clicker/internal/topic"
	"github.com/ehrlich-b/clicker/internal/wire"
)

// State is the connection state of a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnecting:
		return "disconnecting"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const (
	DefaultRetryDelay     = 3 * time.Second
	DefaultGrace          = 500 * time.Millisecond
	DefaultConnectTimeout = 5 * time.Second

	disconnectQuiesce = 250 * time.Millisecond
	clientIDPrefix    = "pc-"
)

// Options tune a Session. The zero value is usable.
type Options struct {
	Observer Observer
	// Dial creates the broker connection. Defaults to DialPaho.
	Dial DialFunc
	// DialContext opens the raw network connection under the MQTT client.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)
	Logger      *slog.Logger
	// RetryDelay is the pause between reconnect attempts.
	RetryDelay time.Duration
	// Grace is how long a client waits after announcing "offline" before
	// it disconnects, so the message reaches the broker.
	Grace time.Duration
	// ConnectTimeout bounds each reconnect attempt.
	ConnectTimeout time.Duration
}

// Session is the role-independent core shared by Client and Server.
type Session struct {
	cfg     *config.Config
	user    string // empty for the listener role
	dial    DialFunc
	dialCtx func(ctx context.Context, network, addr string) (net.Conn, error)
	log     *slog.Logger
	events  *dispatcher

	retryDelay     time.Duration
	grace          time.Duration
	connectTimeout time.Duration

	mu              sync.Mutex
	state           State
	gen             uint64 // bumped per Connect and Disconnect; stale hooks compare against it
	broker          Broker
	cipher          *auth.Cipher
	base            string
	shouldReconnect bool
	reconnectCancel context.CancelFunc
	reconnectDone   chan struct{}
	reconnects      int
	closed          bool
}

func newSession(cfg *config.Config, user string, opts Options) *Session {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Session{
		cfg:            cfg,
		user:           user,
		dial:           opts.Dial,
		dialCtx:        opts.DialContext,
		log:            opts.Logger,
		retryDelay:     opts.RetryDelay,
		grace:          opts.Grace,
		connectTimeout: opts.ConnectTimeout,
		events:         newDispatcher(opts.Observer),
	}
	if s.dial == nil {
		s.dial = DialPaho
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.retryDelay <= 0 {
		s.retryDelay = DefaultRetryDelay
	}
	if s.grace <= 0 {
		s.grace = DefaultGrace
	}
	if s.connectTimeout <= 0 {
		s.connectTimeout = DefaultConnectTimeout
	}
	return s
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the session is currently connected.
func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

// Connect joins room using password for encryption. It blocks until the
// broker handshake and room subscription complete, timeout elapses, ctx is
// done, or the connection fails. A timed-out attempt is abandoned and not
// retried; call Connect again.
func (s *Session) Connect(ctx context.Context, room, password string, timeout time.Duration) error {
	if room == "" || password == "" {
		return ErrMissingCredentials
	}
	if err := topic.ValidateRoom(room); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = s.connectTimeout
	}
	cipher := auth.NewCipher(password)
	cipher.MaxAge = s.cfg.MaxAgeDuration()
	base := topic.Base(room)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.gen++
	gen := s.gen
	s.state = StateConnecting
	s.cipher = cipher
	s.base = base
	s.mu.Unlock()

	b, err := s.newBroker(gen, cipher, base, timeout)
	if err != nil {
		s.reset(gen)
		return fmt.Errorf("create client: %w", err)
	}
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return fmt.Errorf("connect: %w", ErrNotConnected)
	}
	s.broker = b
	s.mu.Unlock()

	addr := BrokerURL(s.cfg)
	s.log.Info("connecting", "broker", addr, "room", room)

	deadline := time.Now().Add(timeout)
	result := make(chan error, 1)
	go func() { result <- b.Connect(timeout) }()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err = <-result:
	case <-timer.C:
		err = ErrConnectTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err == nil {
		err = subscribeBy(b, base, deadline)
	}
	if err != nil {
		s.abort(gen, b)
		s.log.Warn("connect failed", "broker", addr, "err", err)
		return fmt.Errorf("connect to %s: %w", addr, err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		go b.Disconnect(0)
		return fmt.Errorf("connect: %w", ErrNotConnected)
	}
	s.state = StateConnected
	s.shouldReconnect = true
	s.mu.Unlock()

	s.log.Info("connected", "broker", addr, "room", room)
	s.events.emit(Connected{})
	s.announce(b, cipher, base, wire.StatusOnline)
	return nil
}

// Disconnect ends the session. A connected client first announces
// "offline" and waits the grace interval. Any reconnect loop is stopped
// before teardown.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	s.shouldReconnect = false
	cancel, done := s.reconnectCancel, s.reconnectDone
	s.reconnectCancel, s.reconnectDone = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}

	s.mu.Lock()
	state, b, cipher, base := s.state, s.broker, s.cipher, s.base
	if state == StateIdle || state == StateDisconnecting {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.gen++
	s.state = StateDisconnecting
	s.mu.Unlock()

	if state == StateConnected {
		if s.announce(b, cipher, base, wire.StatusOffline) {
			time.Sleep(s.grace)
		}
		b.Disconnect(disconnectQuiesce)
	} else if b != nil {
		// Abort a pending or retrying connection.
		go b.Disconnect(0)
	}

	s.mu.Lock()
	s.state = StateIdle
	s.broker = nil
	s.mu.Unlock()

	s.log.Info("disconnected", "from", state)
	if state == StateConnected {
		s.events.emit(Disconnected{})
	}
	return nil
}

// Close disconnects if needed and stops event delivery. Events already
// queued are delivered first. Close must not be called from the Observer.
func (s *Session) Close() error {
	if err := s.Disconnect(); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.events.close()
	return nil
}

func (s *Session) newBroker(gen uint64, cipher *auth.Cipher, base string, timeout time.Duration) (Broker, error) {
	opts := BrokerOptions{
		Config:         s.cfg,
		ClientID:       newClientID(),
		ConnectTimeout: timeout,
		DialContext:    s.dialCtx,
		Logger:         s.log,
		Hooks: Hooks{
			OnConnectionLost: func(err error) { s.handleConnectionLost(gen, err) },
			OnMessage:        func(t string, payload []byte) { s.handleMessage(gen, t, payload) },
		},
	}
	if s.user != "" {
		plain, err := wire.Encode(wire.Presence{User: s.user, Status: wire.StatusConnectionLost})
		if err != nil {
			return nil, err
		}
		sealed, err := cipher.Encrypt(plain)
		if err != nil {
			return nil, fmt.Errorf("encrypt will: %w", err)
		}
		opts.Will = &Will{Topic: topic.Status(base), Payload: sealed, Retained: true}
	}
	return s.dial(opts)
}

// reset returns a failed connection attempt to Idle unless a newer
// Connect or Disconnect already took over.
func (s *Session) reset(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.state = StateIdle
		s.broker = nil
	}
}

func (s *Session) abort(gen uint64, b Broker) {
	s.reset(gen)
	go b.Disconnect(0)
}

func (s *Session) handleConnectionLost(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.state = StateReconnecting
	s.mu.Unlock()

	s.log.Warn("connection lost", "err", err)
	s.events.emit(Disconnected{Err: err})
	s.startReconnect()
}

// startReconnect launches the reconnect loop unless one is already running
// or reconnection is no longer wanted. It reports whether a loop started.
func (s *Session) startReconnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reconnectCancel != nil || !s.shouldReconnect || s.closed {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.reconnectCancel = cancel
	s.reconnectDone = done
	s.reconnects++
	go s.reconnectLoop(ctx, done, s.gen)
	return true
}

func (s *Session) reconnectLoop(ctx context.Context, done chan struct{}, gen uint64) {
	defer close(done)
	bo := NewBackoff(s.retryDelay, s.retryDelay)
	for attempt := 1; ; attempt++ {
		t := time.NewTimer(bo.Next())
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		s.mu.Lock()
		b, cipher, base := s.broker, s.cipher, s.base
		ok := gen == s.gen && s.shouldReconnect && b != nil
		s.mu.Unlock()
		if !ok {
			return
		}

		s.log.Info("reconnecting", "broker", BrokerURL(s.cfg), "attempt", attempt)
		deadline := time.Now().Add(s.connectTimeout)
		err := b.Connect(s.connectTimeout)
		if err == nil {
			if err = subscribeBy(b, base, deadline); err != nil {
				b.Disconnect(0)
			}
		} else if errors.Is(err, ErrConnectTimeout) {
			b.Disconnect(0)
		}
		if err != nil {
			s.log.Warn("reconnect failed", "err", err, "retry_in", s.retryDelay)
			continue
		}

		s.mu.Lock()
		if s.reconnectDone == done {
			s.reconnectCancel, s.reconnectDone = nil, nil
		}
		if gen != s.gen {
			s.mu.Unlock()
			b.Disconnect(0)
			return
		}
		s.state = StateConnected
		s.mu.Unlock()

		s.log.Info("reconnected", "attempt", attempt)
		s.events.emit(Connected{})
		s.announce(b, cipher, base, wire.StatusOnline)
		return
	}
}

// subscribeBy subscribes to the whole room with whatever is left of a
// connect attempt's time.
func subscribeBy(b Broker, base string, deadline time.Time) error {
	left := time.Until(deadline)
	if left <= 0 {
		return ErrConnectTimeout
	}
	return b.Subscribe(topic.All(base), qosAtLeastOnce, left)
}

func (s *Session) handleMessage(gen uint64, t string, payload []byte) {
	s.mu.Lock()
	if gen != s.gen || s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	cipher := s.cipher
	s.mu.Unlock()

	plain, err := cipher.Decrypt(payload)
	if err != nil {
		s.log.Debug("decrypt failed", "topic", t, "err", err)
		s.events.emit(MessageReceived{
			Topic:   t,
			Payload: []byte(fmt.Sprintf("[decryption failed: %v]", err)),
			Err:     err,
		})
		return
	}
	s.events.emit(MessageReceived{Topic: t, Payload: plain})
}

// publish encrypts v and sends it to the topic derived from the room base.
func (s *Session) publish(topicFor func(base string) string, v any, retained bool) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	b, cipher, base := s.broker, s.cipher, s.base
	s.mu.Unlock()
	return s.send(b, cipher, topicFor(base), v, retained)
}

func (s *Session) send(b Broker, cipher *auth.Cipher, t string, v any, retained bool) error {
	plain, err := wire.Encode(v)
	if err != nil {
		return err
	}
	sealed, err := cipher.Encrypt(plain)
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	if err := b.Publish(t, qosAtLeastOnce, retained, sealed); err != nil {
		return fmt.Errorf("publish %s: %w", t, err)
	}
	s.events.emit(MessagePublished{Topic: t, Payload: plain})
	return nil
}

// announce publishes the client's retained presence. Listeners have no
// presence, so it is a no-op for them. It reports whether a message went out.
func (s *Session) announce(b Broker, cipher *auth.Cipher, base string, status wire.Status) bool {
	if s.user == "" {
		return false
	}
	err := s.send(b, cipher, topic.Status(base), wire.Presence{User: s.user, Status: status}, true)
	if err != nil {
		s.log.Warn("announce presence failed", "status", status, "err", err)
		return false
	}
	return true
}

func (s *Session) reconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

func newClientID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return clientIDPrefix + id[:20]
}
