// Package engine selects moves for the bot. Players are stateless with respect
// to games: every call receives a full position snapshot.
package engine

import (
	"context"
	"errors"

	"github.com/park285/cheese-lichess-bot/internal/rules"
)

// ErrNoMove means a player has nothing to offer for the position
// (out of book, no legal moves). Chain treats it as a fall-through.
var ErrNoMove = errors.New("no move available")

type Player interface {
	ChooseMove(ctx context.Context, pos rules.Position) (string, error)
}

type PlayerFunc func(ctx context.Context, pos rules.Position) (string, error)

func (f PlayerFunc) ChooseMove(ctx context.Context, pos rules.Position) (string, error) {
	return f(ctx, pos)
}
