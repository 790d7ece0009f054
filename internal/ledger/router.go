package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ehrlich-b/clicker/internal/wire"
	"golang.org/x/time/rate"
)

// Effect is the abstract key press an allowed action produces.
type Effect string

const (
	EffectAdvance        Effect = "advance"
	EffectRetreat        Effect = "retreat"
	EffectBeginShow      Effect = "beginShow"
	EffectEndShow        Effect = "endShow"
	EffectToggleBlackout Effect = "toggleBlackout"
)

// Effects lists every effect.
var Effects = []Effect{EffectAdvance, EffectRetreat, EffectBeginShow, EffectEndShow, EffectToggleBlackout}

// EffectFor maps an action to its effect.
func EffectFor(a wire.Action) (Effect, bool) {
	switch a {
	case wire.ActionNext:
		return EffectAdvance, true
	case wire.ActionPrevious:
		return EffectRetreat, true
	case wire.ActionStart:
		return EffectBeginShow, true
	case wire.ActionEnd:
		return EffectEndShow, true
	case wire.ActionBlackout:
		return EffectToggleBlackout, true
	}
	return "", false
}

// Reason explains a decision.
type Reason string

const (
	ReasonAllowed       Reason = "allowed"
	ReasonNotPresent    Reason = "not present"
	ReasonNoNav         Reason = "navigation not permitted"
	ReasonNoControl     Reason = "control not permitted"
	ReasonUnknownAction Reason = "unknown action"
	ReasonRateLimited   Reason = "rate limited"
)

// Decision is the outcome of routing one command.
type Decision struct {
	User    string
	Action  wire.Action
	Allowed bool
	Effect  Effect
	Reason  Reason
	Err     error // injector failure after an allowed decision
}

func (d Decision) String() string {
	switch {
	case d.Allowed && d.Err != nil:
		return fmt.Sprintf("Action '%s' from '%s' allowed but failed: %v", d.Action, d.User, d.Err)
	case d.Allowed:
		return fmt.Sprintf("Action '%s' from '%s' allowed and executed.", d.Action, d.User)
	case d.Reason == ReasonRateLimited:
		return fmt.Sprintf("Action '%s' from '%s' denied (rate limited).", d.Action, d.User)
	case d.Reason == ReasonUnknownAction:
		return fmt.Sprintf("Action '%s' from '%s' denied (unknown action).", d.Action, d.User)
	default:
		return fmt.Sprintf("Action '%s' from '%s' denied (insufficient permissions).", d.Action, d.User)
	}
}

// Decide is the pure permission check for one command.
func Decide(src Source, c wire.Command) Decision {
	d := Decision{User: c.User, Action: c.Action}
	perms, ok := src.Lookup(c.User)
	if !ok {
		d.Reason = ReasonNotPresent
		return d
	}
	effect, known := EffectFor(c.Action)
	if !known {
		d.Reason = ReasonUnknownAction
		return d
	}
	switch c.Action {
	case wire.ActionNext, wire.ActionPrevious:
		if !perms.Nav {
			d.Reason = ReasonNoNav
			return d
		}
	default:
		if !perms.Control {
			d.Reason = ReasonNoControl
			return d
		}
	}
	d.Allowed = true
	d.Effect = effect
	d.Reason = ReasonAllowed
	return d
}

// Injector turns an effect into real input on the presenting machine.
type Injector interface {
	Inject(ctx context.Context, e Effect) error
}

// RouterConfig configures a Router. Zero RateLimit disables limiting.
type RouterConfig struct {
	Ledger    Source
	Injector  Injector
	RateLimit rate.Limit // allowed actions per second per user
	RateBurst int
	Logger    *slog.Logger
}

// Router applies decisions: allowed commands reach the injector exactly once.
type Router struct {
	src    Source
	inject Injector
	limit  rate.Limit
	burst  int
	log    *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewRouter(cfg RouterConfig) *Router {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &Router{
		src:      cfg.Ledger,
		inject:   cfg.Injector,
		limit:    cfg.RateLimit,
		burst:    burst,
		log:      log,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Handle decides c and, when allowed, fires its effect.
func (r *Router) Handle(ctx context.Context, c wire.Command) Decision {
	d := Decide(r.src, c)
	if d.Allowed && !r.allow(c.User) {
		d.Allowed = false
		d.Effect = ""
		d.Reason = ReasonRateLimited
	}
	if !d.Allowed {
		r.log.Info("action denied", "user", c.User, "action", c.Action, "reason", d.Reason)
		return d
	}
	if r.inject != nil {
		d.Err = r.inject.Inject(ctx, d.Effect)
	}
	if d.Err != nil {
		r.log.Error("inject failed", "user", c.User, "effect", d.Effect, "err", d.Err)
	} else {
		r.log.Info("action executed", "user", c.User, "action", c.Action, "effect", d.Effect)
	}
	return d
}

// Forget drops rate-limit state for a user who left.
func (r *Router) Forget(user string) {
	r.mu.Lock()
	delete(r.limiters, user)
	r.mu.Unlock()
}

func (r *Router) allow(user string) bool {
	if r.limit <= 0 {
		return true
	}
	r.mu.Lock()
	lim, ok := r.limiters[user]
	if !ok {
		lim = rate.NewLimiter(r.limit, r.burst)
		r.limiters[user] = lim
	}
	r.mu.Unlock()
	return lim.Allow()
}
