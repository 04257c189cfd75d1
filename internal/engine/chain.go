package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/park285/cheese-lichess-bot/internal/obslog"
	"github.com/park285/cheese-lichess-bot/internal/rules"
)

// Chain asks each player in order and returns the first move offered.
type Chain struct {
	players []Player
}

func NewChain(players ...Player) *Chain {
	out := make([]Player, 0, len(players))
	for _, p := range players {
		if p != nil {
			out = append(out, p)
		}
	}
	return &Chain{players: out}
}

func (c *Chain) ChooseMove(ctx context.Context, pos rules.Position) (string, error) {
	lastErr := ErrNoMove
	for i, p := range c.players {
		mv, err := p.ChooseMove(ctx, pos)
		if err == nil && mv != "" {
			return mv, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if err == nil {
			err = ErrNoMove
		}
		if !errors.Is(err, ErrNoMove) {
			obslog.L().Warn("engine_fallthrough",
				zap.Int("index", i),
				zap.String("player", fmt.Sprintf("%T", p)),
				zap.Int("ply", pos.Ply()),
				zap.Error(err),
			)
		}
		lastErr = err
	}
	return "", lastErr
}
