// Package archive records bot games for inspection. Records are write-only
// from the bot's point of view: nothing is read back to resume a game.
package archive

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Game is the snapshot of one bot game.
type Game struct {
	ID         string    `json:"id"`
	White      string    `json:"white"`
	Black      string    `json:"black"`
	Opponent   string    `json:"opponent"`
	BotColor   string    `json:"bot_color"`
	Variant    string    `json:"variant,omitempty"`
	Speed      string    `json:"speed,omitempty"`
	Rated      bool      `json:"rated"`
	InitialFEN string    `json:"initial_fen"`
	MovesUCI   []string  `json:"moves_uci"`
	MovesSAN   []string  `json:"moves_san"`
	Status     string    `json:"status"`
	Winner     string    `json:"winner,omitempty"`
	Result     string    `json:"result"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Clone copies the move slices so a recorder may keep the value.
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	c := *g
	c.MovesUCI = append([]string(nil), g.MovesUCI...)
	c.MovesSAN = append([]string(nil), g.MovesSAN...)
	return &c
}

// PGNResult maps the winner color (or the board outcome) to a PGN result token.
func (g *Game) PGNResult() string {
	if g == nil {
		return "*"
	}
	switch strings.ToLower(strings.TrimSpace(g.Winner)) {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	}
	switch g.Result {
	case "1-0", "0-1", "1/2-1/2":
		return g.Result
	}
	switch g.Status {
	case "draw", "stalemate":
		return "1/2-1/2"
	}
	return "*"
}

// Recorder receives a snapshot after every state change and once more when the game ends.
type Recorder interface {
	Save(ctx context.Context, g *Game) error
	Finish(ctx context.Context, g *Game) error
}

type Nop struct{}

func (Nop) Save(context.Context, *Game) error   { return nil }
func (Nop) Finish(context.Context, *Game) error { return nil }

// Multi fans out to every recorder and joins their errors.
type Multi []Recorder

func (m Multi) Save(ctx context.Context, g *Game) error {
	var errs []error
	for _, r := range m {
		if r != nil {
			errs = append(errs, r.Save(ctx, g))
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Finish(ctx context.Context, g *Game) error {
	var errs []error
	for _, r := range m {
		if r != nil {
			errs = append(errs, r.Finish(ctx, g))
		}
	}
	return errors.Join(errs...)
}
