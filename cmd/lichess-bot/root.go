package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	run := newRunCmd()
	rootCmd := &cobra.Command{
		Use:           "lichess-bot",
		Short:         "Lichess bot: accepts challenges and plays them with a chess engine",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          run.RunE,
	}
	rootCmd.AddCommand(
		run,
		newCheckCmd(),
		newGamesCmd(),
		newVersionCmd(),
	)
	return rootCmd
}
