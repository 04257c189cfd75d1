package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var (
	ErrUnparsableMove = errors.New("unparsable move notation")
	ErrEmptyMoveLog   = errors.New("move log has no trailing move")
)

const StartPos = "startpos"

var (
	uciPattern = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbn]?$`)
	sanPattern = regexp.MustCompile(`^(O-O(-O)?|[KQRBN]?[a-h]?[1-8]?x?[a-h][1-8](=?[QRBN])?)[+#]?$`)
)

// Board is the local authoritative model of one game. Not safe for concurrent use;
// a board is owned by exactly one game driver.
type Board struct {
	game       *nchess.Game
	initialFEN string
	movesUCI   []string
	movesSAN   []string
}

func NewBoard() *Board {
	return &Board{game: nchess.NewGame(), initialFEN: StartPos}
}

// NewBoardFromFEN builds a board from a server supplied initial position.
// Empty input and "startpos" both mean the standard starting position.
func NewBoardFromFEN(fen string) (*Board, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == StartPos {
		return NewBoard(), nil
	}
	option, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen %q: %w", fen, err)
	}
	return &Board{game: nchess.NewGame(option), initialFEN: fen}, nil
}

// Apply plays one move given in UCI (preferred) or SAN notation.
// It returns ErrUnparsableMove when the token is not move notation at all,
// false when the move is illegal in the current position, and true once applied.
func (b *Board) Apply(token string) (bool, error) {
	raw := strings.TrimSpace(token)
	if raw == "" {
		return false, ErrUnparsableMove
	}
	pos := b.game.Position()

	if uci := strings.ToLower(raw); uciPattern.MatchString(uci) {
		mv, err := nchess.UCINotation{}.Decode(pos, uci)
		if err != nil {
			return false, nil
		}
		san := nchess.AlgebraicNotation{}.Encode(pos, mv)
		if err := b.game.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
			return false, nil
		}
		b.record(uci, san)
		return true, nil
	}

	if !sanPattern.MatchString(raw) {
		return false, ErrUnparsableMove
	}
	if err := b.game.PushNotationMove(raw, nchess.AlgebraicNotation{}, nil); err != nil {
		return false, nil
	}
	last := b.lastMove()
	if last == nil {
		return false, nil
	}
	b.record(last.String(), nchess.AlgebraicNotation{}.Encode(pos, last))
	return true, nil
}

func (b *Board) record(uci, san string) {
	b.movesUCI = append(b.movesUCI, uci)
	b.movesSAN = append(b.movesSAN, san)
}

func (b *Board) lastMove() *nchess.Move {
	moves := b.game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

func (b *Board) SideToMove() Color {
	return colorFrom(b.game.Position().Turn())
}

// Ply counts moves applied through this board, not moves implied by a FEN start.
func (b *Board) Ply() int { return len(b.movesUCI) }

func (b *Board) History() []string { return append([]string(nil), b.movesUCI...) }

func (b *Board) SAN() []string { return append([]string(nil), b.movesSAN...) }

func (b *Board) InitialFEN() string { return b.initialFEN }

// Outcome reports the PGN result token: "1-0", "0-1", "1/2-1/2" or "*".
func (b *Board) Outcome() string {
	switch b.game.Outcome() {
	case nchess.WhiteWon:
		return "1-0"
	case nchess.BlackWon:
		return "0-1"
	case nchess.Draw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

// Position snapshots everything a move-selection engine needs.
func (b *Board) Position() Position {
	legal := make([]string, 0, 32)
	for _, mv := range b.game.ValidMoves() {
		legal = append(legal, mv.String())
	}
	return Position{
		FEN:        b.game.FEN(),
		InitialFEN: b.initialFEN,
		Moves:      b.History(),
		Turn:       b.SideToMove(),
		Legal:      legal,
	}
}

// Position is an immutable view of a board at one ply.
type Position struct {
	FEN        string
	InitialFEN string
	Moves      []string
	Turn       Color
	Legal      []string
}

func (p Position) Ply() int { return len(p.Moves) }

// IsLegal reports whether the UCI move is among the legal moves of the position.
func (p Position) IsLegal(uci string) bool {
	uci = strings.ToLower(strings.TrimSpace(uci))
	for _, mv := range p.Legal {
		if mv == uci {
			return true
		}
	}
	return false
}

// SplitMoveLog splits a cumulative, space-delimited move log into tokens.
func SplitMoveLog(log string) []string {
	return strings.Fields(log)
}

// TailMove returns the token after the last space of a move log.
func TailMove(log string) (string, error) {
	log = strings.TrimSpace(log)
	if log == "" {
		return "", ErrEmptyMoveLog
	}
	if i := strings.LastIndexByte(log, ' '); i >= 0 {
		return log[i+1:], nil
	}
	return log, nil
}
