package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ehrlich-b/clicker/internal/config"
	"github.com/ehrlich-b/clicker/internal/session"
	"github.com/ehrlich-b/clicker/internal/wire"
)

func remoteCmd(a *app) *cobra.Command {
	var user, room, password string
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Control a presentation from this terminal",
		Long: `Joins a room as a remote. The password is prompted for when not given.

Console commands:
  n, next           next slide
  p, prev           previous slide
  s, start          start the slideshow
  e, end            end the slideshow
  b, blackout       toggle a black screen
  connect           reconnect with the current config
  disconnect        leave the room
  quit              exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if done, err := a.prepare(cmd); done {
				return err
			}
			stdin := cmd.InOrStdin()
			in := bufio.NewReader(stdin)
			if password == "" {
				var err error
				if password, err = promptPassword(stdin, in, cmd.ErrOrStderr()); err != nil {
					return err
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRemote(ctx, a, user, room, password, in, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Display name shown to the presenter")
	cmd.Flags().StringVar(&room, "room", "", "Room code")
	cmd.Flags().StringVar(&password, "password", "", "Room password")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("room")
	return cmd
}

// promptPassword reads the room password without echo when stdin is a
// terminal, and as a plain line from lines otherwise.
func promptPassword(stdin io.Reader, lines *bufio.Reader, prompt io.Writer) (string, error) {
	fmt.Fprint(prompt, "Room password: ")
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := lines.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// printEvents reports session events on the remote console.
func printEvents(out io.Writer) session.Observer {
	return func(ev session.Event) {
		switch e := ev.(type) {
		case session.Connected:
			fmt.Fprintln(out, "connected")
		case session.Disconnected:
			if e.Err != nil {
				fmt.Fprintf(out, "connection lost (%v), reconnecting\n", e.Err)
			} else {
				fmt.Fprintln(out, "disconnected")
			}
		case session.MessagePublished:
			fmt.Fprintf(out, "sent %s\n", e.Payload)
		}
	}
}

func runRemote(ctx context.Context, a *app, user, room, password string, in io.Reader, out io.Writer) error {
	var client *session.Client
	live := &liveConfig{cfg: a.cfg}
	live.watch(ctx, a.dir)
	ctl := &controller{
		live:     live,
		room:     room,
		password: password,
		create: func(cfg *config.Config) (conn, error) {
			c, err := session.NewClient(cfg, user, session.Options{Observer: printEvents(out)})
			if err != nil {
				return nil, err
			}
			client = c
			return c, nil
		},
	}
	defer ctl.close()

	if err := ctl.connect(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "Joined %s as %s\n", room, client.User())

	return runConsole(ctx, in, out, func(f []string) error {
		switch f[0] {
		case "connect":
			return ctl.connect(ctx)
		case "disconnect":
			return ctl.disconnect()
		case "quit", "exit", "q":
			return errQuit
		}
		act, ok := wire.ParseAction(f[0])
		if !ok {
			return fmt.Errorf("unknown command %q", f[0])
		}
		return client.PublishAction(act)
	})
}
