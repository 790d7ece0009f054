package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/ehrlich-b/clicker/internal/auth"
	"github.com/ehrlich-b/clicker/internal/config"
	"github.com/ehrlich-b/clicker/internal/inject"
	"github.com/ehrlich-b/clicker/internal/ledger"
	"github.com/ehrlich-b/clicker/internal/receiver"
	"github.com/ehrlich-b/clicker/internal/session"
	"github.com/ehrlich-b/clicker/internal/wire"
)

func listenCmd(a *app) *cobra.Command {
	var room, password string
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Receive remote commands and drive the presentation",
		Long: `Joins a room as the presenting machine. Remotes that join the same room
with the same password are listed with navigation rights; presentation
control must be granted per user.

Console commands:
  users             list connected remotes
  nav <user>        toggle next/previous for a user
  control <user>    toggle start/end/blackout for a user
  connect           (re)connect with the current config
  disconnect        leave the room
  quit              exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if done, err := a.prepare(cmd); done {
				return err
			}
			var err error
			if room == "" {
				if room, err = auth.GenerateRoomCode(); err != nil {
					return err
				}
			}
			if password == "" {
				if password, err = auth.GeneratePassword(); err != nil {
					return err
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runListener(ctx, a, room, password, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "Room code (generated when empty)")
	cmd.Flags().StringVar(&password, "password", "", "Room password (generated when empty)")
	return cmd
}

func runListener(ctx context.Context, a *app, room, password string, in io.Reader, out io.Writer) error {
	inj, err := inject.FromConfig(a.cfg.Effects, slog.Default())
	if err != nil {
		return err
	}
	l := ledger.New()
	router := ledger.NewRouter(ledger.RouterConfig{
		Ledger:    l,
		Injector:  inj,
		RateLimit: rate.Limit(a.cfg.RateLimit),
		RateBurst: a.cfg.RateBurst,
	})
	rcv := receiver.New(receiver.Config{
		Ledger:  l,
		Router:  router,
		Context: ctx,
		OnPresence: func(p wire.Presence, changed bool) {
			if changed {
				fmt.Fprintf(out, "%s is %s\n", p.User, p.Status)
			}
		},
		OnDecision: func(d ledger.Decision) {
			fmt.Fprintln(out, d.String())
		},
	})

	live := &liveConfig{cfg: a.cfg}
	live.watch(ctx, a.dir)
	ctl := &controller{
		live:     live,
		room:     room,
		password: password,
		create: func(cfg *config.Config) (conn, error) {
			return session.NewServer(cfg, session.Options{Observer: rcv.Observe}), nil
		},
	}
	defer ctl.close()

	fmt.Fprintf(out, "Room: %s\nPassword: %s\n", room, password)
	if err := ctl.connect(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "Listening on %s\n", session.BrokerURL(a.cfg))

	return runConsole(ctx, in, out, func(f []string) error {
		switch f[0] {
		case "users":
			users := rcv.Users()
			if len(users) == 0 {
				fmt.Fprintln(out, "no remotes connected")
			}
			for _, u := range users {
				fmt.Fprintf(out, "%-20s nav=%-5v control=%v\n", u.User, u.Nav, u.Control)
			}
		case "nav", "control":
			if len(f) != 2 {
				return fmt.Errorf("usage: %s <user>", f[0])
			}
			perm := ledger.PermNav
			if f[0] == "control" {
				perm = ledger.PermControl
			}
			p, ok := rcv.Toggle(f[1], perm)
			if !ok {
				return fmt.Errorf("%s is not connected", f[1])
			}
			fmt.Fprintf(out, "%s: nav=%v control=%v\n", f[1], p.Nav, p.Control)
		case "connect":
			return ctl.connect(ctx)
		case "disconnect":
			return ctl.disconnect()
		case "quit", "exit":
			return errQuit
		default:
			return fmt.Errorf("unknown command %q", f[0])
		}
		return nil
	})
}
