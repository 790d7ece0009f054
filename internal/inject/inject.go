// Package inject turns router effects into input on the presenting
// machine.
package inject

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/ehrlich-b/clicker/internal/ledger"
)

const DefaultTimeout = 5 * time.Second

// waitDelay bounds how long a killed command's children may keep its
// output pipe open.
const waitDelay = time.Second

// Log only records effects. It is the injector used when no commands are
// configured.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Inject(ctx context.Context, e ledger.Effect) error {
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Info("effect", "effect", e)
	return nil
}

// Command runs a configured argv per effect, for example
// advance: [xdotool, key, Right].
type Command struct {
	commands map[ledger.Effect][]string
	timeout  time.Duration
	log      *slog.Logger
}

// NewCommand builds a Command from config effects. Unknown effect names
// and empty argv are rejected.
func NewCommand(effects map[string][]string, logger *slog.Logger) (*Command, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Command{
		commands: make(map[ledger.Effect][]string, len(effects)),
		timeout:  DefaultTimeout,
		log:      logger,
	}
	for name, argv := range effects {
		e := ledger.Effect(name)
		if !known(e) {
			return nil, fmt.Errorf("effects: unknown effect %q", name)
		}
		if len(argv) == 0 || argv[0] == "" {
			return nil, fmt.Errorf("effects: %s: empty command", name)
		}
		c.commands[e] = append([]string(nil), argv...)
	}
	return c, nil
}

// SetTimeout bounds each command run.
func (c *Command) SetTimeout(d time.Duration) {
	c.timeout = d
}

func (c *Command) Inject(ctx context.Context, e ledger.Effect) error {
	argv, ok := c.commands[e]
	if !ok {
		c.log.Warn("no command configured for effect", "effect", e)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.WaitDelay = waitDelay
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", strings.Join(argv, " "), err, strings.TrimSpace(string(out)))
	}
	c.log.Debug("effect injected", "effect", e, "command", argv[0])
	return nil
}

func known(e ledger.Effect) bool {
	for _, k := range ledger.Effects {
		if k == e {
			return true
		}
	}
	return false
}

// FromConfig picks Command when effects are configured and Log otherwise.
func FromConfig(effects map[string][]string, logger *slog.Logger) (ledger.Injector, error) {
	if len(effects) == 0 {
		return Log{Logger: logger}, nil
	}
	return NewCommand(effects, logger)
}
