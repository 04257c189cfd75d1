package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/cheese-lichess-bot/internal/archive"
	"github.com/park285/cheese-lichess-bot/internal/config"
	"github.com/park285/cheese-lichess-bot/internal/engine"
	"github.com/park285/cheese-lichess-bot/internal/lichess"
	"github.com/park285/cheese-lichess-bot/internal/msgcat"
	"github.com/park285/cheese-lichess-bot/internal/obslog"
	"github.com/park285/cheese-lichess-bot/internal/session"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the event stream and play incoming challenges",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			runID, err := obslog.InitFromEnv()
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer func() { _ = obslog.L().Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			obslog.L().Info("bot_start",
				zap.String("version", version),
				zap.String("run_id", runID),
				zap.String("transport", cfg.Transport),
				zap.String("base_url", cfg.LichessBaseURL),
			)
			err = runBot(ctx, cfg)
			obslog.L().Info("bot_stop", zap.Error(err))
			return err
		},
	}
}

func newClient(cfg *config.AppConfig) *lichess.Client {
	headers := func() map[string]string {
		return map[string]string{"User-Agent": userAgent()}
	}
	return lichess.NewClient(cfg.LichessBaseURL, cfg.LichessToken,
		lichess.WithTimeout(cfg.HTTPTimeout),
		lichess.WithRetry(cfg.HTTPRetryMax),
		lichess.WithHeaderProvider(headers),
	)
}

func runBot(ctx context.Context, cfg *config.AppConfig) error {
	client := newClient(cfg)
	tr := &lichessTransport{Client: client}
	if cfg.Transport == config.TransportWS {
		tr.ws = lichess.NewWSFeeds(cfg.LichessWSURL, cfg.LichessToken)
		tr.ws.SetHeaderProvider(func() map[string]string {
			return map[string]string{"User-Agent": userAgent()}
		})
	}

	botName := resolveBotName(ctx, cfg, client)

	player, engineCloser, err := engine.Build(engine.Config{
		StockfishPath: cfg.StockfishPath,
		Preset:        cfg.EnginePreset,
		Depth:         cfg.EngineDepth,
		PresetsFile:   cfg.EnginePresetsFile,
		BookPath:      cfg.BookPath,
		BookMaxPly:    cfg.BookMaxPly,
	})
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	defer func() { _ = engineCloser.Close() }()

	recorder, closeArchive := buildRecorder(cfg.ArchiveConfig)
	defer closeArchive()

	var chat *session.Chat
	if cfg.ChatEnabled {
		catalog, err := msgcat.New(cfg.MessagesDir)
		if err != nil {
			return fmt.Errorf("messages: %w", err)
		}
		chat = session.NewChat(tr, catalog, engineName(cfg))
	}

	events, err := tr.OpenEvents(ctx)
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	defer func() { _ = events.Close() }()

	d, err := session.NewDispatcher(events, session.Config{
		Transport:     tr,
		Player:        player,
		Context:       session.NewContext(),
		BotName:       botName,
		AcceptVariant: cfg.AcceptsVariant,
		Recorder:      recorder,
		Chat:          chat,
	})
	if err != nil {
		return err
	}
	return d.Run(ctx)
}

// resolveBotName prefers BOT_USERNAME and falls back to the token's account.
func resolveBotName(ctx context.Context, cfg *config.AppConfig, client *lichess.Client) string {
	if cfg.BotUsername != "" {
		return cfg.BotUsername
	}
	acct, err := client.Account(ctx)
	if err != nil {
		obslog.L().Warn("account_lookup_error", zap.Error(err))
		return ""
	}
	if !acct.IsBot() {
		obslog.L().Warn("account_not_bot", zap.String("username", acct.Username), zap.String("title", acct.Title))
	}
	return acct.Username
}

func engineName(cfg *config.AppConfig) string {
	if cfg.StockfishPath == "" {
		return "random mover"
	}
	return "Stockfish (" + cfg.EnginePreset + ")"
}

// buildRecorder wires the configured archive sinks. A sink that cannot be
// opened is logged and skipped.
func buildRecorder(cfg config.ArchiveConfig) (archive.Recorder, func()) {
	var (
		sinks   archive.Multi
		closers []io.Closer
	)
	if cfg.RedisURL != "" {
		store, err := archive.NewRedisStore(cfg.RedisURL)
		if err != nil {
			obslog.L().Warn("archive_redis_unavailable", zap.Error(err))
		} else {
			sinks = append(sinks, store)
			closers = append(closers, store)
		}
	}
	if cfg.DatabaseURL != "" {
		store, err := archive.NewSQLStore(cfg.DatabaseURL)
		if err != nil {
			obslog.L().Warn("archive_sql_unavailable", zap.Error(err))
		} else {
			sinks = append(sinks, store)
			closers = append(closers, store)
		}
	}
	closeAll := func() {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c.Close())
		}
		if err := errors.Join(errs...); err != nil {
			obslog.L().Warn("archive_close_error", zap.Error(err))
		}
	}
	if len(sinks) == 0 {
		return archive.Nop{}, closeAll
	}
	return sinks, closeAll
}
