package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is replaced at build time with -ldflags "-X main.version=...".
var version = "dev"

func userAgent() string { return "cheese-lichess-bot/" + version }

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}
