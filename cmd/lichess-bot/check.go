package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/park285/cheese-lichess-bot/internal/config"
)

func newCheckCmd() *cobra.Command {
	var (
		stream  bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the token and print the bot account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client := newClient(cfg)
			acct, err := client.Account(ctx)
			if err != nil {
				return fmt.Errorf("account: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "account ok: %s (bot=%t)\n", acct.Username, acct.IsBot())
			if !acct.IsBot() {
				fmt.Fprintln(out, "warning: account is not a BOT account; upgrade it before running")
			}

			if cfg.Transport == config.TransportWS {
				fmt.Fprintf(out, "note: TRANSPORT=ws reads feeds from the relay at %s; lichess.org serves no websocket feeds, so that relay must be running\n", cfg.LichessWSURL)
			}

			if stream {
				tr := &lichessTransport{Client: client}
				events, err := tr.OpenEvents(ctx)
				if err != nil {
					return fmt.Errorf("event stream: %w", err)
				}
				_ = events.Close()
				fmt.Fprintln(out, "event stream ok")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&stream, "stream", false, "also open the event stream once")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall timeout")
	return cmd
}
