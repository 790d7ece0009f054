package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/clicker/internal/config"
	"github.com/ehrlich-b/clicker/internal/session"
	"github.com/ehrlich-b/clicker/internal/wire"
)

func mockCmd(a *app) *cobra.Command {
	var (
		user, room, password string
		sequence             []string
		delay, initialDelay  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Connect as a scripted remote and send a fixed action sequence",
		RunE: func(cmd *cobra.Command, args []string) error {
			if done, err := a.prepare(cmd); done {
				return err
			}
			actions, err := parseSequence(sequence)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMock(ctx, a.cfg, session.Options{Observer: printEvents(cmd.OutOrStdout())},
				user, room, password, actions, delay, initialDelay)
		},
	}
	cmd.Flags().StringVar(&user, "user", "MockUser", "Display name")
	cmd.Flags().StringVar(&room, "room", "ABC123", "Room code")
	cmd.Flags().StringVar(&password, "password", "password123", "Room password")
	cmd.Flags().StringSliceVar(&sequence, "sequence", []string{"start", "next", "next", "previous", "blackout", "end"}, "Actions to send, in order")
	cmd.Flags().DurationVar(&delay, "delay", 1500*time.Millisecond, "Pause between actions")
	cmd.Flags().DurationVar(&initialDelay, "initial-delay", 2*time.Second, "Pause before the first action")
	return cmd
}

func parseSequence(seq []string) ([]wire.Action, error) {
	if len(seq) == 0 {
		return nil, errors.New("--sequence is empty")
	}
	out := make([]wire.Action, 0, len(seq))
	for _, s := range seq {
		a, ok := wire.ParseAction(strings.TrimSpace(s))
		if !ok {
			return nil, fmt.Errorf("--sequence: unknown action %q", s)
		}
		out = append(out, a)
	}
	return out, nil
}

// runMock connects, sends actions with the given pacing and disconnects.
func runMock(ctx context.Context, cfg *config.Config, opts session.Options, user, room, password string, actions []wire.Action, delay, initialDelay time.Duration) error {
	c, err := session.NewClient(cfg, user, opts)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.Connect(ctx, room, password, connectTimeout); err != nil {
		return err
	}

	if !sleepCtx(ctx, initialDelay) {
		return c.Disconnect()
	}
	for i, act := range actions {
		if err := c.PublishAction(act); err != nil {
			return fmt.Errorf("action %d (%s): %w", i+1, act, err)
		}
		if !sleepCtx(ctx, delay) {
			break
		}
	}
	return c.Disconnect()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
