// Package receiver is the listener's message pump: it feeds presence
// updates into the permission ledger and navigation commands into the
// router.
package receiver

import (
	"context"
	"log/slog"

	"github.com/ehrlich-b/clicker/internal/ledger"
	"github.com/ehrlich-b/clicker/internal/session"
	"github.com/ehrlich-b/clicker/internal/topic"
	"github.com/ehrlich-b/clicker/internal/wire"
)

// Config wires a Receiver. Ledger and Router are required.
type Config struct {
	Ledger *ledger.Ledger
	Router *ledger.Router
	Logger *slog.Logger
	// Context is passed to the injector. Defaults to context.Background.
	Context context.Context
	// OnPresence and OnDecision, when set, are called after the ledger or
	// router has processed a message. They run on the session's event
	// goroutine.
	OnPresence func(p wire.Presence, changed bool)
	OnDecision func(d ledger.Decision)
}

type Receiver struct {
	ledger     *ledger.Ledger
	router     *ledger.Router
	log        *slog.Logger
	ctx        context.Context
	onPresence func(wire.Presence, bool)
	onDecision func(ledger.Decision)
}

func New(cfg Config) *Receiver {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return &Receiver{
		ledger:     cfg.Ledger,
		router:     cfg.Router,
		log:        log,
		ctx:        ctx,
		onPresence: cfg.OnPresence,
		onDecision: cfg.OnDecision,
	}
}

// Observe is a session.Observer.
func (r *Receiver) Observe(ev session.Event) {
	switch e := ev.(type) {
	case session.Connected:
		r.log.Info("listening")
	case session.Disconnected:
		if e.Err != nil {
			r.log.Warn("connection lost, reconnecting", "err", e.Err)
		} else {
			r.log.Info("stopped listening")
		}
	case session.MessageReceived:
		r.handleMessage(e)
	}
}

func (r *Receiver) handleMessage(m session.MessageReceived) {
	if m.Err != nil {
		r.log.Warn("dropping unreadable message", "topic", m.Topic, "err", m.Err)
		return
	}
	switch topic.Classify(m.Topic) {
	case topic.KindStatus:
		p, err := wire.DecodePresence(m.Payload)
		if err != nil {
			r.log.Warn("dropping malformed status", "topic", m.Topic, "err", err)
			return
		}
		r.handlePresence(p)
	case topic.KindPresentation:
		c, err := wire.DecodeCommand(m.Payload)
		if err != nil {
			r.log.Warn("dropping malformed command", "topic", m.Topic, "err", err)
			return
		}
		d := r.router.Handle(r.ctx, c)
		if r.onDecision != nil {
			r.onDecision(d)
		}
	default:
		r.log.Debug("ignoring message", "topic", m.Topic)
	}
}

func (r *Receiver) handlePresence(p wire.Presence) {
	changed := r.ledger.Apply(p)
	if p.Status.Gone() {
		r.router.Forget(p.User)
	}
	if changed {
		r.log.Info("presence", "user", p.User, "status", p.Status, "present", r.ledger.Len())
	}
	if r.onPresence != nil {
		r.onPresence(p, changed)
	}
}

// Users returns the users currently in the room with their permissions.
func (r *Receiver) Users() []ledger.Entry {
	return r.ledger.Users()
}

// Toggle flips a permission for a present user.
func (r *Receiver) Toggle(user string, perm ledger.Permission) (ledger.Permissions, bool) {
	p, ok := r.ledger.Toggle(user, perm)
	if ok {
		r.log.Info("permission toggled", "user", user, "nav", p.Nav, "control", p.Control)
	}
	return p, ok
}
