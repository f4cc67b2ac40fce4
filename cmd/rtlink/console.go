package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/rickgao/rtlink/internal/codec"
	"github.com/rickgao/rtlink/internal/connection"
	"github.com/rickgao/rtlink/internal/realtime"
)

const consoleHelp = `Commands:
  {"type":...}   send a JSON object
  ping           send {"type":"ping"}
  status         show connection state
  connect        connect (after a disconnect or exhausted reconnects)
  disconnect     disconnect
  help, ?        show this help
  exit, quit     leave the console
`

func consoleCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Interactive console: send messages and watch inbound traffic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "rtlink> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return fmt.Errorf("failed to create readline: %w", err)
			}
			defer rl.Close()

			// Logs go through readline so they do not garble the prompt.
			logger := newLogger(rl.Stderr(), cfg.Log.Level)

			client, err := realtime.NewFromConfig(cfg, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			c := &console{client: client, rl: rl, out: rl.Stdout()}
			if err := c.connect(ctx); err != nil {
				fmt.Fprintf(c.out, "connect failed: %s\n", describe(err))
			}
			c.run(ctx)
			return nil
		},
	}
}

type console struct {
	client realtime.Client
	rl     *readline.Instance
	out    io.Writer

	// printing is closed when the current printer's stream ends.
	printing chan struct{}
}

// connect makes sure a printer is attached and connects. A printer lives as
// long as its stream, so a new one is needed only after Disconnect or
// exhausted reconnects complete the previous stream.
func (c *console) connect(ctx context.Context) error {
	sub := c.attachPrinter(ctx)

	if err := c.client.Connect(ctx); err != nil {
		if sub != nil {
			sub.Unsubscribe()
			<-c.printing
		}
		return err
	}
	if !c.client.IsConnected() {
		fmt.Fprintf(c.out, "%s, not connected yet\n", c.client.State())
		return nil
	}
	fmt.Fprintf(c.out, "connected (session %s)\n", c.client.SessionID())
	return nil
}

// attachPrinter starts a printer unless one is still running. It returns the
// new subscription, or nil when the running printer was kept.
func (c *console) attachPrinter(ctx context.Context) *realtime.Subscription {
	if c.printing != nil {
		select {
		case <-c.printing:
		default:
			return nil
		}
	}

	sub := c.client.Subscribe()
	done := make(chan struct{})
	c.printing = done
	go func() {
		defer close(done)
		if err := printEvents(ctx, c.out, sub); err != nil {
			fmt.Fprintf(c.out, "stream ended: %s\n", describe(err))
		}
	}()
	return sub
}

func (c *console) run(ctx context.Context) {
	fmt.Fprint(c.out, consoleHelp)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "{") {
			c.send(input)
			continue
		}

		switch strings.ToLower(input) {
		case "help", "?":
			fmt.Fprint(c.out, consoleHelp)
		case "ping":
			c.send(`{"type":"ping"}`)
		case "status":
			fmt.Fprintf(c.out, "state: %s\n", c.client.State())
		case "connect":
			if c.client.IsConnected() {
				fmt.Fprintln(c.out, "already connected")
				continue
			}
			if err := c.connect(ctx); err != nil {
				fmt.Fprintf(c.out, "connect failed: %s\n", describe(err))
			}
		case "disconnect":
			c.disconnect()
		case "exit", "quit":
			return
		default:
			fmt.Fprintf(c.out, "unknown command %q (type help)\n", input)
		}
	}
}

// disconnect returns once the printer has drained the completed stream, so a
// following connect attaches a fresh one.
func (c *console) disconnect() {
	c.client.Disconnect()
	if c.printing != nil {
		<-c.printing
	}
	fmt.Fprintln(c.out, "disconnected")
}

func (c *console) send(raw string) {
	msg, err := codec.DecodeString(raw)
	if err != nil {
		fmt.Fprintf(c.out, "invalid message: %v\n", err)
		return
	}
	if err := c.client.Send(msg); err != nil {
		if errors.Is(err, connection.ErrNotConnected) {
			fmt.Fprintln(c.out, "not connected (type connect)")
			return
		}
		fmt.Fprintf(c.out, "send failed: %s\n", describe(err))
	}
}
