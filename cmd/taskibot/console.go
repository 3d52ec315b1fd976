package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ent0n29/taskibot/internal/app"
	"github.com/ent0n29/taskibot/internal/router"
	"github.com/ent0n29/taskibot/internal/session"
)

const consoleChatID = "console:local"

func newConsoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Chat with the bot from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.TelegramMode = "off"
			username, _ := cmd.Flags().GetString("username")

			built, err := app.Build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = built.Cleanup(context.Background()) }()

			return runConsole(cmd.Context(), built.Router, os.Stdin, cmd.OutOrStdout(), strings.TrimSpace(username))
		},
	}
	cmd.Flags().String("username", "", "Telegram username to present as the sender.")
	return cmd
}

// consoleRouter is the part of the router the console needs.
type consoleRouter interface {
	Handle(ctx context.Context, in router.Inbound) (router.Reply, error)
	State(chatID string) session.State
}

func runConsole(ctx context.Context, r consoleRouter, in *os.File, out io.Writer, username string) error {
	interactive := term.IsTerminal(int(in.Fd()))
	return consoleLoop(ctx, r, in, out, username, func() (string, error) {
		if !interactive {
			return "", errNoTerminal
		}
		b, err := term.ReadPassword(int(in.Fd()))
		_, _ = fmt.Fprintln(out)
		return string(b), err
	})
}

var errNoTerminal = errors.New("stdin is not a terminal")

// consoleLoop reads one message per line until EOF. readSecret is used for
// the password prompt; when it fails the line is read normally.
func consoleLoop(ctx context.Context, r consoleRouter, in io.Reader, out io.Writer, username string, readSecret func() (string, error)) error {
	scanner := bufio.NewScanner(in)
	_, _ = fmt.Fprintln(out, "Type /start to begin, Ctrl-D to quit.")
	for {
		var (
			line string
			ok   bool
		)
		if r.State(consoleChatID) == session.StateAwaitingPassword {
			_, _ = fmt.Fprint(out, "password> ")
			if secret, err := readSecret(); err == nil {
				line, ok = secret, true
			}
		} else {
			_, _ = fmt.Fprint(out, "> ")
		}
		if !ok {
			if !scanner.Scan() {
				_, _ = fmt.Fprintln(out)
				return scanner.Err()
			}
			line = scanner.Text()
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		rep, err := r.Handle(ctx, router.Inbound{
			Channel:        "console",
			ChatID:         consoleChatID,
			SenderUsername: username,
			Text:           line,
		})
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, rep.Text)
		for _, row := range rep.Menu {
			_, _ = fmt.Fprintf(out, "  [%s]\n", strings.Join(row, "] ["))
		}
	}
}
