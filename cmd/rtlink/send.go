package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/rtlink/internal/codec"
	"github.com/rickgao/rtlink/internal/realtime"
)

func sendCmd(opts *globalOptions) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "send <json-object>",
		Short: "Connect, send one message and disconnect",
		Long: `Send connects, writes a single JSON object, optionally prints replies
for --wait, and disconnects.`,
		Example: `  rtlink send '{"type":"subscribe","channel":"markets"}' --wait 2s`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := codec.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("argument must be a JSON object: %w", err)
			}

			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := newLogger(os.Stderr, cfg.Log.Level)

			client, err := realtime.NewFromConfig(cfg, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			sub := client.Subscribe()
			if err := client.Connect(ctx); err != nil {
				return err
			}
			if err := client.Send(msg); err != nil {
				return err
			}
			logger.Info("message sent", "type", msg.Type())

			if wait <= 0 {
				return nil
			}
			waitCtx, waitCancel := context.WithTimeout(ctx, wait)
			defer waitCancel()
			return printEvents(waitCtx, cmd.OutOrStdout(), sub)
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 0, "print inbound messages for this long before disconnecting")
	return cmd
}
