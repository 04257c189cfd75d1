// Package session turns the server's event and game feeds into accepted
// challenges, board updates and move submissions. One game is played at a
// time: while a game runs the top-level feed is not polled.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/park285/cheese-lichess-bot/internal/archive"
	"github.com/park285/cheese-lichess-bot/internal/engine"
	"github.com/park285/cheese-lichess-bot/internal/lichess"
	"github.com/park285/cheese-lichess-bot/internal/obslog"
)

// Config holds the collaborators shared across games. Transport and Player are required.
type Config struct {
	Transport Transport
	Player    engine.Player
	Context   *Context
	BotName   string
	// AcceptVariant filters challenges by variant key; nil accepts all.
	AcceptVariant func(key string) bool
	Recorder      archive.Recorder
	Chat          *Chat
	NewBoard      BoardFactory
}

// Dispatcher consumes the account event feed and plays games one at a time.
type Dispatcher struct {
	events    EventFeed
	transport Transport
	responder *ChallengeResponder
	game      GameConfig
}

// NewDispatcher validates cfg and fills the optional collaborators.
func NewDispatcher(events EventFeed, cfg Config) (*Dispatcher, error) {
	if events == nil {
		return nil, errors.New("event feed is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if cfg.Player == nil {
		return nil, errors.New("player is required")
	}
	if cfg.Context == nil {
		cfg.Context = NewContext()
	}
	return &Dispatcher{
		events:    events,
		transport: cfg.Transport,
		responder: NewChallengeResponder(cfg.Context, cfg.Transport, cfg.AcceptVariant),
		game: GameConfig{
			Submitter: cfg.Transport,
			Player:    cfg.Player,
			Context:   cfg.Context,
			BotName:   cfg.BotName,
			Recorder:  cfg.Recorder,
			Chat:      cfg.Chat,
			NewBoard:  cfg.NewBoard,
		},
	}, nil
}

// Run consumes the event feed until it ends. It returns nil on io.EOF or when
// ctx is cancelled and the feed error otherwise. Challenge and game failures
// are logged and do not stop the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		ev, err := d.events.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				obslog.L().Info("event_feed_closed")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("event feed: %w", err)
		}
		d.dispatch(ctx, ev)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, ev lichess.Event) {
	switch ev.Type {
	case lichess.EventChallenge:
		if ev.Challenge == nil {
			obslog.L().Warn("event_challenge_empty")
			return
		}
		if err := d.responder.Respond(ctx, *ev.Challenge); err != nil {
			obslog.L().Error("challenge_error", zap.String("challenge_id", ev.Challenge.ID), zap.Error(err))
		}
	case lichess.EventGameStart:
		id := ev.GameID()
		if err := d.playGame(ctx, id); err != nil {
			obslog.L().Error("game_error", zap.String("game_id", id), zap.Error(err))
		}
	case lichess.EventGameFinish:
		obslog.L().Debug("event_game_finish", zap.String("game_id", ev.GameID()))
	case lichess.EventChallengeCanceled:
		id := ""
		if ev.Challenge != nil {
			id = ev.Challenge.ID
		}
		obslog.L().Debug("event_challenge_canceled", zap.String("challenge_id", id))
	default:
		obslog.L().Debug("event_ignored", zap.String("type", ev.Type))
	}
}

// playGame runs one driver to completion over a freshly opened game feed.
func (d *Dispatcher) playGame(ctx context.Context, gameID string) error {
	if gameID == "" {
		return errors.New("game start without game id")
	}
	feed, err := d.transport.OpenGame(ctx, gameID)
	if err != nil {
		return fmt.Errorf("open game %s: %w", gameID, err)
	}
	defer func() {
		if err := feed.Close(); err != nil {
			obslog.L().Debug("game_feed_close_error", zap.String("game_id", gameID), zap.Error(err))
		}
	}()
	return NewGameDriver(gameID, feed, d.game).Run(ctx)
}
