// Command chat is a terminal text chat with the Kolokwa assistant.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/room4-2/kolokwa/chat"
	"github.com/room4-2/kolokwa/config"
	"github.com/room4-2/kolokwa/gemini"
	"github.com/room4-2/kolokwa/logging"
	"github.com/room4-2/kolokwa/relay"
	"github.com/room4-2/kolokwa/style"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		styleName   string
		backendName string
		relayURL    string
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:          "chat",
		Short:        "Chat with the Kolokwa assistant in the terminal",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if logLevel == "" {
				logLevel = cfg.LogLevel
			}
			logging.Setup(logLevel)

			s, err := style.Parse(styleName)
			if err != nil {
				return err
			}

			var backend chat.Backend
			switch backendName {
			case "gemini":
				backend = gemini.NewTextBackend(gemini.Options{APIKey: cfg.GeminiAPIKey}, cfg.TextModel)
			case "relay":
				backend = relay.NewClient(relayURL, nil)
			default:
				return errors.Errorf("unknown backend %q (want gemini or relay)", backendName)
			}
			log.Debug().Str("backend", backendName).Str("style", string(s)).Msg("💬 Chat starting")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return newShell(chat.NewClient(backend), s, cmd.OutOrStdout()).Run(ctx, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVarP(&styleName, "style", "s", string(style.Default), "conversation style (classic, street, executive, counselor)")
	cmd.Flags().StringVar(&backendName, "backend", "gemini", "text backend: gemini or relay")
	cmd.Flags().StringVar(&relayURL, "relay-url", "http://localhost:8080/api/chat", "relay endpoint for --backend relay")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level (defaults to LOG_LEVEL)")
	return cmd
}

// shell is the line-oriented conversation loop.
type shell struct {
	client  *chat.Client
	style   style.Style
	out     io.Writer
	history []chat.Turn
}

func newShell(client *chat.Client, s style.Style, out io.Writer) *shell {
	return &shell{client: client, style: s, out: out}
}

// Run greets, then answers one line at a time until EOF, /quit or ctx ends.
func (sh *shell) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sh.say(chat.NewTurn(chat.RoleModel, sh.style.Greeting()))
	sh.printShortcuts()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(sh.out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(sh.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := sh.command(ctx, line); quit {
				return nil
			}
			continue
		}
		sh.send(ctx, line)
	}
}

func (sh *shell) send(ctx context.Context, prompt string) {
	user := chat.NewTurn(chat.RoleUser, prompt)
	sh.history = append(sh.history, user)
	reply := sh.client.GetResponse(ctx, sh.history, prompt, sh.style)
	sh.say(chat.NewTurn(chat.RoleModel, reply))
}

func (sh *shell) say(t chat.Turn) {
	sh.history = append(sh.history, t)
	fmt.Fprintf(sh.out, "[%s] %s\n", sh.style.Label(), t.Text)
}

func (sh *shell) printShortcuts() {
	shortcuts := style.Shortcuts(len(sh.history))
	if len(shortcuts) == 0 {
		return
	}
	fmt.Fprintln(sh.out, "Quick prompts:")
	for i, s := range shortcuts {
		fmt.Fprintf(sh.out, "  /%d %s\n", i+1, s.Label)
	}
}

// command handles a slash command and reports whether to quit.
func (sh *shell) command(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	name := strings.TrimPrefix(fields[0], "/")

	if n, err := strconv.Atoi(name); err == nil {
		shortcuts := style.Shortcuts(len(sh.history))
		if n < 1 || n > len(shortcuts) {
			fmt.Fprintln(sh.out, "No quick prompt with that number.")
			return false
		}
		p := shortcuts[n-1].Prompt
		fmt.Fprintf(sh.out, "> %s\n", p)
		sh.send(ctx, p)
		return false
	}

	switch name {
	case "quit", "exit":
		return true
	case "styles":
		for _, o := range style.Options() {
			fmt.Fprintf(sh.out, "  %-10s %s\n", o.ID, o.Description)
		}
	case "style":
		if len(fields) < 2 {
			fmt.Fprintf(sh.out, "Current style: %s\n", sh.style)
			return false
		}
		s, err := style.Parse(fields[1])
		if err != nil {
			fmt.Fprintln(sh.out, err)
			return false
		}
		sh.style = s
		fmt.Fprintf(sh.out, "Style set to %s.\n", s.Label())
	case "help":
		fmt.Fprintln(sh.out, "/style <name>, /styles, /<n> quick prompt, /quit")
		sh.printShortcuts()
	default:
		fmt.Fprintf(sh.out, "Unknown command %q. Try /help.\n", name)
	}
	return false
}
