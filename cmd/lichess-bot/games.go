package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/park285/cheese-lichess-bot/internal/archive"
	"github.com/park285/cheese-lichess-bot/internal/config"
)

func newGamesCmd() *cobra.Command {
	var (
		limit   int
		gameID  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "games",
		Short: "List recently finished games, or show one with --id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.LoadArchive()
			if cfg.RedisURL == "" && cfg.DatabaseURL == "" {
				return errors.New("REDIS_URL or DATABASE_URL is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if gameID != "" {
				return showGame(ctx, cmd.OutOrStdout(), cfg, gameID)
			}
			return listGames(ctx, cmd.OutOrStdout(), cfg, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of finished games to list")
	cmd.Flags().StringVar(&gameID, "id", "", "show a single game")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall timeout")
	return cmd
}

func listGames(ctx context.Context, out io.Writer, cfg config.ArchiveConfig, limit int) error {
	if cfg.RedisURL == "" {
		return errors.New("listing games needs REDIS_URL")
	}
	store, err := archive.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer store.Close()

	games, err := store.Recent(ctx, limit)
	if err != nil {
		return fmt.Errorf("recent games: %w", err)
	}
	if len(games) == 0 {
		fmt.Fprintln(out, "no finished games")
		return nil
	}
	for _, g := range games {
		fmt.Fprintf(out, "%s  %-7s %-10s vs %-20s %3d plies  %s\n",
			g.ID, g.PGNResult(), g.Status, g.Opponent, len(g.MovesUCI), g.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func showGame(ctx context.Context, out io.Writer, cfg config.ArchiveConfig, id string) error {
	found := false
	if cfg.RedisURL != "" {
		store, err := archive.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer store.Close()
		g, err := store.Load(ctx, id)
		if err != nil {
			return fmt.Errorf("load game %s: %w", id, err)
		}
		if g != nil {
			found = true
			fmt.Fprintf(out, "game %s: %s vs %s, bot plays %s\n", g.ID, orDash(g.White), orDash(g.Black), g.BotColor)
			fmt.Fprintf(out, "status: %s  result: %s\n", orDash(g.Status), g.PGNResult())
			fmt.Fprintf(out, "moves: %s\n", strings.Join(g.MovesSAN, " "))
		}
	}
	if cfg.DatabaseURL != "" {
		store, err := archive.NewSQLStore(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()
		result, plies, err := store.Result(ctx, id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("final record %s: %w", id, err)
		default:
			found = true
			fmt.Fprintf(out, "final: %s after %d plies\n", result, plies)
		}
	}
	if !found {
		return fmt.Errorf("game %s not found", id)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
