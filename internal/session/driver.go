package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-lichess-bot/internal/archive"
	"github.com/park285/cheese-lichess-bot/internal/engine"
	"github.com/park285/cheese-lichess-bot/internal/lichess"
	"github.com/park285/cheese-lichess-bot/internal/obslog"
	"github.com/park285/cheese-lichess-bot/internal/rules"
)

// DriverState is the lifecycle stage of a GameDriver.
type DriverState int

const (
	StateAwaitingFullState DriverState = iota
	StateActive
	StateTerminated
)

func (s DriverState) String() string {
	switch s {
	case StateAwaitingFullState:
		return "awaiting_full_state"
	case StateActive:
		return "active"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const recordTimeout = 5 * time.Second

// GameConfig holds the collaborators shared by every game driver.
type GameConfig struct {
	Submitter MoveSubmitter
	Player    engine.Player
	Context   *Context
	// BotName is the bot's own account name. It resolves colors when no
	// challenger was recorded.
	BotName  string
	Recorder archive.Recorder
	Chat     *Chat
	NewBoard BoardFactory
	Now      func() time.Time
}

// GameDriver plays one game: it owns the local board, resolves the bot's
// color once from the first full state and submits a move whenever the
// side to move becomes the bot's.
type GameDriver struct {
	gameID string
	feed   GameFeed
	cfg    GameConfig
	log    *zap.Logger

	state DriverState
	board Board
	color rules.Color
	// applied holds the server tokens behind the board, as received.
	applied      []string
	lastActedPly int
	opponent     string
	record       *archive.Game
}

// NewGameDriver builds a driver for one game feed. Missing collaborators fall
// back to a random player, a no-op recorder and the rules board.
func NewGameDriver(gameID string, feed GameFeed, cfg GameConfig) *GameDriver {
	if cfg.Context == nil {
		cfg.Context = NewContext()
	}
	if cfg.Player == nil {
		cfg.Player = engine.NewRandom(0)
	}
	if cfg.Recorder == nil {
		cfg.Recorder = archive.Nop{}
	}
	if cfg.NewBoard == nil {
		cfg.NewBoard = newRulesBoard
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &GameDriver{
		gameID:       gameID,
		feed:         feed,
		cfg:          cfg,
		log:          obslog.L().With(zap.String("game_id", gameID)),
		state:        StateAwaitingFullState,
		lastActedPly: -1,
	}
}

// State reports the current lifecycle stage.
func (d *GameDriver) State() DriverState { return d.state }

// Color is the bot's side, valid once the first full state arrived.
func (d *GameDriver) Color() rules.Color { return d.color }

// Run consumes the game feed until the game ends. It returns nil when the game
// terminates or the feed ends, and an error for feed, engine or submission failures.
// A feed that ends without a terminal status only snapshots the record; the
// final record is written for terminal statuses alone.
func (d *GameDriver) Run(ctx context.Context) error {
	for d.state != StateTerminated {
		u, err := d.feed.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.log.Info("game_feed_closed", zap.String("state", d.state.String()))
				d.detach(ctx)
				return nil
			}
			return fmt.Errorf("game %s feed: %w", d.gameID, err)
		}
		if err := d.handle(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

func (d *GameDriver) handle(ctx context.Context, u lichess.GameUpdate) error {
	switch {
	case u.Type == lichess.UpdateGameFull && u.Full != nil:
		return d.onFull(ctx, u.Full)
	case u.Type == lichess.UpdateGameState && u.State != nil:
		if d.state == StateAwaitingFullState {
			d.log.Warn("game_state_before_full", zap.String("moves", u.State.Moves))
			return nil
		}
		return d.onState(ctx, *u.State)
	default:
		d.log.Debug("game_update_ignored", zap.String("type", u.Type))
		return nil
	}
}

func (d *GameDriver) onFull(ctx context.Context, full *lichess.GameFull) error {
	if d.state != StateAwaitingFullState {
		// Colors stay as resolved; only the move log is reconciled.
		d.log.Info("game_full_repeat")
		return d.onState(ctx, full.State)
	}

	board, err := d.cfg.NewBoard(full.InitialFEN)
	if err != nil {
		return fmt.Errorf("game %s initial position: %w", d.gameID, err)
	}
	d.board = board
	d.color = d.resolveColor(full)
	d.state = StateActive

	white, black := full.White.Username(), full.Black.Username()
	d.opponent = white
	if d.color == rules.First {
		d.opponent = black
	}
	now := d.cfg.Now()
	d.record = &archive.Game{
		ID:         d.gameID,
		White:      white,
		Black:      black,
		Opponent:   d.opponent,
		BotColor:   d.color.String(),
		Variant:    full.Variant.Key,
		Speed:      full.Speed,
		Rated:      full.Rated,
		InitialFEN: board.InitialFEN(),
		StartedAt:  now,
		UpdatedAt:  now,
	}
	d.log.Info("game_start",
		zap.String("bot_color", d.color.String()),
		zap.String("white", white),
		zap.String("black", black),
		zap.String("variant", full.Variant.Key),
		zap.String("initial_fen", board.InitialFEN()),
	)
	d.cfg.Chat.Greet(ctx, d.gameID, d.opponent, d.color)

	return d.onState(ctx, full.State)
}

// resolveColor runs once per game. An anonymous first mover (server AI) or a
// recorded challenger playing first means the bot plays second; any other
// first mover means the bot plays first.
func (d *GameDriver) resolveColor(full *lichess.GameFull) rules.Color {
	white, black := full.White.Username(), full.Black.Username()
	if white == "" {
		return rules.Second
	}
	if opp := d.cfg.Context.Opponent(); opp != "" {
		if white == opp {
			return rules.Second
		}
		return rules.First
	}
	if me := d.cfg.BotName; me != "" {
		switch {
		case strings.EqualFold(black, me):
			return rules.Second
		case strings.EqualFold(white, me):
			return rules.First
		}
	}
	return rules.First
}

func (d *GameDriver) onState(ctx context.Context, st lichess.GameState) error {
	inProgress := st.Status == "" || st.InProgress()
	before := len(d.applied)
	ok := d.sync(st.Moves)
	if inProgress && (len(d.applied) != before || st.Status != d.record.Status) {
		d.snapshot(ctx, st.Status)
	}
	if !inProgress {
		d.terminate(ctx, st.Status, st.Winner)
		return nil
	}
	if !ok {
		return nil
	}
	return d.maybeAct(ctx)
}

// sync brings the board up to the cumulative move log. It reports false when
// a token was unparsable or illegal; the rest of that log is then discarded.
// An empty log after moves were applied is malformed and changes nothing.
func (d *GameDriver) sync(moveLog string) bool {
	if _, err := rules.TailMove(moveLog); err != nil && len(d.applied) > 0 {
		d.log.Warn("game_move_log_invalid", zap.Int("local_plies", len(d.applied)), zap.Error(err))
		return false
	}
	tokens := rules.SplitMoveLog(moveLog)

	if !extends(tokens, d.applied) {
		d.log.Warn("game_resync", zap.Int("local_plies", len(d.applied)), zap.Int("server_plies", len(tokens)))
		board, err := d.cfg.NewBoard(d.board.InitialFEN())
		if err != nil {
			d.log.Error("game_resync_error", zap.Error(err))
			return false
		}
		d.board = board
		d.applied = d.applied[:0]
		d.lastActedPly = -1
	} else if len(tokens) == len(d.applied) {
		if len(tokens) > 0 {
			d.log.Info("game_update_duplicate", zap.Int("ply", len(tokens)))
		}
		return true
	}

	for _, tok := range tokens[len(d.applied):] {
		ok, err := d.board.Apply(tok)
		if err != nil {
			d.log.Warn("game_move_unparsable", zap.String("move", tok), zap.Error(err))
			return false
		}
		if !ok {
			d.log.Warn("game_move_illegal", zap.String("move", tok), zap.Int("ply", d.board.Ply()))
			return false
		}
		d.applied = append(d.applied, tok)
		d.log.Debug("game_move_applied",
			zap.String("move", tok),
			zap.Int("ply", d.board.Ply()),
			zap.String("side_to_move", d.board.SideToMove().String()),
		)
	}
	return true
}

func extends(tokens, prefix []string) bool {
	if len(tokens) < len(prefix) {
		return false
	}
	for i := range prefix {
		if tokens[i] != prefix[i] {
			return false
		}
	}
	return true
}

// maybeAct performs the turn action at most once per ply.
func (d *GameDriver) maybeAct(ctx context.Context) error {
	if d.board.SideToMove() != d.color {
		return nil
	}
	ply := d.board.Ply()
	if ply == d.lastActedPly {
		return nil
	}
	d.lastActedPly = ply

	pos := d.board.Position()
	mv, err := d.cfg.Player.ChooseMove(ctx, pos)
	if err != nil {
		return fmt.Errorf("game %s choose move at ply %d: %w", d.gameID, ply, err)
	}
	if err := d.cfg.Submitter.MakeMove(ctx, d.gameID, mv, false); err != nil {
		return fmt.Errorf("game %s submit move %s: %w", d.gameID, mv, err)
	}
	d.log.Info("game_turn_action", zap.String("move", mv), zap.Int("ply", ply), zap.String("bot_color", d.color.String()))
	return nil
}

func (d *GameDriver) snapshot(ctx context.Context, status string) {
	d.record.MovesUCI = d.board.History()
	d.record.MovesSAN = d.board.SAN()
	d.record.Status = status
	d.record.UpdatedAt = d.cfg.Now()

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := d.cfg.Recorder.Save(rctx, d.record.Clone()); err != nil {
		d.log.Warn("game_record_error", zap.String("op", "save"), zap.Error(err))
	}
}

// detach stops the driver when the feed ends without a terminal status. The
// game may still be running on the server, so only a snapshot is written.
func (d *GameDriver) detach(ctx context.Context) {
	prev := d.state
	d.state = StateTerminated
	if prev == StateAwaitingFullState || d.record == nil {
		return
	}
	d.snapshot(ctx, d.record.Status)
}

func (d *GameDriver) terminate(ctx context.Context, status, winner string) {
	prev := d.state
	d.state = StateTerminated
	if prev == StateAwaitingFullState || d.record == nil {
		d.log.Info("game_end", zap.String("status", status), zap.String("winner", winner), zap.Int("plies", 0))
		return
	}

	d.record.MovesUCI = d.board.History()
	d.record.MovesSAN = d.board.SAN()
	d.record.Status = status
	d.record.Winner = winner
	d.record.Result = d.board.Outcome()
	d.record.UpdatedAt = d.cfg.Now()

	d.log.Info("game_end",
		zap.String("status", status),
		zap.String("winner", winner),
		zap.String("result", d.record.PGNResult()),
		zap.Int("plies", d.board.Ply()),
	)

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := d.cfg.Recorder.Finish(rctx, d.record.Clone()); err != nil {
		d.log.Warn("game_record_error", zap.String("op", "finish"), zap.Error(err))
	}
	if status != "" {
		d.cfg.Chat.Farewell(ctx, d.gameID, d.opponent, d.color, status, winner)
	}
}
