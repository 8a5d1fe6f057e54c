// Command relay-cli is an interactive endpoint for a relay hub.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/relay/client"
	"github.com/xiaot623/gogo/relay/internal/logging"
	"github.com/xiaot623/gogo/relay/internal/protocol"
)

var (
	addr           string
	authKey        string
	target         string
	model          string
	reconnectDelay time.Duration
	logLevel       string
)

var rootCmd = &cobra.Command{
	Use:          "relay-cli",
	Short:        "Interactive relay endpoint",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if authKey == "" {
			authKey = client.GenerateAuthKey()
		}
		logger := logging.New(os.Stderr, logLevel, "console")

		tr := client.New(client.Config{
			URL:            addr,
			AuthKey:        authKey,
			ReconnectDelay: reconnectDelay,
			Logger:         logger,
		})
		tr.OnMessage(func(env *protocol.Envelope) {
			printEnvelope(cmd.OutOrStdout(), env)
		})
		tr.Start()
		defer tr.Stop()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Connecting to %s as %s...\n", addr, authKey)
		fmt.Fprintln(out, "Commands: /to <key> <text>, /model <text>, /target <key>, /key, /quit")

		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(interrupt)

		s := &session{target: target, model: model, key: authKey}
		for {
			select {
			case <-interrupt:
				fmt.Fprintln(out, "\nInterrupted")
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				act := s.handle(line)
				if act.info != "" {
					fmt.Fprintln(out, act.info)
				}
				if act.quit {
					return nil
				}
				if act.payload != nil && !tr.Send(act.target, act.payload) {
					fmt.Fprintf(out, "not sent (%s)\n", tr.State())
				}
			}
		}
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&addr, "addr", "ws://localhost:8765/ws", "Relay WebSocket address")
	f.StringVar(&authKey, "auth-key", "", "Endpoint key; a random one is generated when empty")
	f.StringVar(&target, "target", "", "Default target for plain lines")
	f.StringVar(&model, "model", "", "Named model for /model requests")
	f.DurationVar(&reconnectDelay, "reconnect-delay", client.DefaultReconnectDelay, "Delay before each connect attempt")
	f.StringVar(&logLevel, "log-level", "warn", "Log level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// session holds the interactive state between input lines.
type session struct {
	target string
	model  string
	key    string
}

type action struct {
	target  string
	payload map[string]any
	info    string
	quit    bool
}

func (s *session) handle(line string) action {
	input := strings.TrimSpace(line)
	if input == "" {
		return action{}
	}

	cmd, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/quit":
		return action{info: "Bye!", quit: true}

	case "/key":
		return action{info: "key: " + s.key}

	case "/target":
		if rest == "" {
			return action{info: "usage: /target <key>"}
		}
		s.target = rest
		return action{info: "default target: " + rest}

	case "/to":
		to, text, _ := strings.Cut(rest, " ")
		if to == "" || strings.TrimSpace(text) == "" {
			return action{info: "usage: /to <key> <text>"}
		}
		return action{target: to, payload: chat(strings.TrimSpace(text))}

	case "/model":
		if rest == "" {
			return action{info: "usage: /model <text>"}
		}
		payload := map[string]any{
			"type":       protocol.TypeModelRequest,
			"session_id": uuid.New().String(),
			"text":       rest,
		}
		if s.model != "" {
			payload["model"] = s.model
		}
		return action{payload: payload}
	}

	if strings.HasPrefix(cmd, "/") {
		return action{info: "unknown command " + cmd}
	}
	if s.target == "" {
		return action{info: "no default target; use /to <key> <text> or /target <key>"}
	}
	return action{target: s.target, payload: chat(input)}
}

func chat(text string) map[string]any {
	return map[string]any{"type": protocol.TypeChat, "text": text}
}

func printEnvelope(w io.Writer, env *protocol.Envelope) {
	formatted, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		fmt.Fprintf(w, "\n[%s] unprintable envelope: %v\n", env.Kind(), err)
		return
	}
	fmt.Fprintf(w, "\n[%s] from %s:\n%s\n", env.Kind(), env.Sender, string(formatted))
}
