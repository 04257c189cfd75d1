package session

import (
	"context"

	"github.com/park285/cheese-lichess-bot/internal/lichess"
	"github.com/park285/cheese-lichess-bot/internal/rules"
)

// EventFeed yields top-level events until io.EOF.
type EventFeed interface {
	Next(ctx context.Context) (lichess.Event, error)
}

// GameFeed yields updates of one game until io.EOF.
type GameFeed interface {
	Next(ctx context.Context) (lichess.GameUpdate, error)
	Close() error
}

// ChallengeActions answers a challenge by id.
type ChallengeActions interface {
	AcceptChallenge(ctx context.Context, challengeID string) error
	DeclineChallenge(ctx context.Context, challengeID, reason string) error
}

// MoveSubmitter sends the bot's move in UCI notation.
type MoveSubmitter interface {
	MakeMove(ctx context.Context, gameID, uci string, offeringDraw bool) error
}

// Transport is everything the dispatcher needs from the server connection.
type Transport interface {
	ChallengeActions
	MoveSubmitter
	OpenGame(ctx context.Context, gameID string) (GameFeed, error)
}

// Chatter posts a line into a game room (player or spectator).
type Chatter interface {
	Chat(ctx context.Context, gameID, room, text string) error
}

// Board is the local model of one game, satisfied by *rules.Board.
type Board interface {
	Apply(token string) (bool, error)
	Position() rules.Position
	SideToMove() rules.Color
	Ply() int
	History() []string
	SAN() []string
	InitialFEN() string
	Outcome() string
}

// BoardFactory creates a board from an initial FEN; "startpos" or empty means the standard start.
type BoardFactory func(initialFEN string) (Board, error)

func newRulesBoard(initialFEN string) (Board, error) {
	b, err := rules.NewBoardFromFEN(initialFEN)
	if err != nil {
		return nil, err
	}
	return b, nil
}
