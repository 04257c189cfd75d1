package session

import (
	"context"
	"io"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/park285/cheese-lichess-bot/internal/archive"
	"github.com/park285/cheese-lichess-bot/internal/lichess"
	"github.com/park285/cheese-lichess-bot/internal/obslog"
	"github.com/park285/cheese-lichess-bot/internal/rules"
)

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	t.Cleanup(obslog.Replace(zap.New(core)))
	return logs
}

type fakeGameFeed struct {
	updates []lichess.GameUpdate
	pos     int
	err     error
	closed  bool
}

func newGameFeed(updates ...lichess.GameUpdate) *fakeGameFeed {
	return &fakeGameFeed{updates: updates}
}

func (f *fakeGameFeed) Next(ctx context.Context) (lichess.GameUpdate, error) {
	if err := ctx.Err(); err != nil {
		return lichess.GameUpdate{}, err
	}
	if f.pos >= len(f.updates) {
		if f.err != nil {
			return lichess.GameUpdate{}, f.err
		}
		return lichess.GameUpdate{}, io.EOF
	}
	u := f.updates[f.pos]
	f.pos++
	return u, nil
}

func (f *fakeGameFeed) Close() error {
	f.closed = true
	return nil
}

type fakeEventFeed struct {
	events []lichess.Event
	pos    int
	err    error
}

func (f *fakeEventFeed) Next(ctx context.Context) (lichess.Event, error) {
	if err := ctx.Err(); err != nil {
		return lichess.Event{}, err
	}
	if f.pos >= len(f.events) {
		if f.err != nil {
			return lichess.Event{}, f.err
		}
		return lichess.Event{}, io.EOF
	}
	ev := f.events[f.pos]
	f.pos++
	return ev, nil
}

type submittedMove struct {
	GameID string
	UCI    string
	Draw   bool
}

type declineCall struct {
	ID     string
	Reason string
}

type fakeTransport struct {
	mu        sync.Mutex
	accepted  []string
	declined  []declineCall
	moves     []submittedMove
	games     map[string]*fakeGameFeed
	opened    []string
	acceptErr error
	moveErr   error
	openErr   error
}

func newTransport() *fakeTransport {
	return &fakeTransport{games: make(map[string]*fakeGameFeed)}
}

func (f *fakeTransport) AcceptChallenge(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acceptErr != nil {
		return f.acceptErr
	}
	f.accepted = append(f.accepted, id)
	return nil
}

func (f *fakeTransport) DeclineChallenge(_ context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declined = append(f.declined, declineCall{ID: id, Reason: reason})
	return nil
}

func (f *fakeTransport) MakeMove(_ context.Context, gameID, uci string, offeringDraw bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.moveErr != nil {
		return f.moveErr
	}
	f.moves = append(f.moves, submittedMove{GameID: gameID, UCI: uci, Draw: offeringDraw})
	return nil
}

func (f *fakeTransport) OpenGame(_ context.Context, gameID string) (GameFeed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, gameID)
	if f.openErr != nil {
		return nil, f.openErr
	}
	feed, ok := f.games[gameID]
	if !ok {
		feed = newGameFeed()
		f.games[gameID] = feed
	}
	return feed, nil
}

// scriptedPlayer returns its scripted moves in order, then the first legal move.
type scriptedPlayer struct {
	moves     []string
	err       error
	positions []rules.Position
}

func (p *scriptedPlayer) ChooseMove(_ context.Context, pos rules.Position) (string, error) {
	p.positions = append(p.positions, pos)
	if p.err != nil {
		return "", p.err
	}
	if len(p.moves) > 0 {
		mv := p.moves[0]
		p.moves = p.moves[1:]
		return mv, nil
	}
	return pos.Legal[0], nil
}

func (p *scriptedPlayer) calls() int { return len(p.positions) }

type fakeRecorder struct {
	saves    []*archive.Game
	finishes []*archive.Game
	err      error
}

func (r *fakeRecorder) Save(_ context.Context, g *archive.Game) error {
	r.saves = append(r.saves, g)
	return r.err
}

func (r *fakeRecorder) Finish(_ context.Context, g *archive.Game) error {
	r.finishes = append(r.finishes, g)
	return r.err
}

type chatLine struct {
	GameID, Room, Text string
}

type fakeChatter struct {
	lines []chatLine
	err   error
}

func (c *fakeChatter) Chat(_ context.Context, gameID, room, text string) error {
	c.lines = append(c.lines, chatLine{GameID: gameID, Room: room, Text: text})
	return c.err
}

func fullUpdate(white, black, moves string) lichess.GameUpdate {
	return fullUpdateStatus(white, black, moves, "started")
}

func fullUpdateStatus(white, black, moves, status string) lichess.GameUpdate {
	user := func(name string) *lichess.User {
		if name == "" {
			return &lichess.User{AILevel: 3}
		}
		return &lichess.User{ID: name, Name: name}
	}
	return lichess.GameUpdate{
		Type: lichess.UpdateGameFull,
		Full: &lichess.GameFull{
			ID:         "g1",
			Variant:    lichess.Variant{Key: "standard"},
			Speed:      "blitz",
			White:      user(white),
			Black:      user(black),
			InitialFEN: "startpos",
			State:      lichess.GameState{Type: lichess.UpdateGameState, Moves: moves, Status: status},
		},
	}
}

func stateUpdate(moves, status string) lichess.GameUpdate {
	return lichess.GameUpdate{
		Type:  lichess.UpdateGameState,
		State: &lichess.GameState{Type: lichess.UpdateGameState, Moves: moves, Status: status},
	}
}

func finishedUpdate(moves, status, winner string) lichess.GameUpdate {
	u := stateUpdate(moves, status)
	u.State.Winner = winner
	return u
}

// newDriver builds a driver whose context records opponent.
func newDriver(opponent string, feed *fakeGameFeed, tr *fakeTransport, player *scriptedPlayer) *GameDriver {
	sess := NewContext()
	sess.SetOpponent(opponent)
	return NewGameDriver("g1", feed, GameConfig{
		Submitter: tr,
		Player:    player,
		Context:   sess,
	})
}

func chatUpdate() lichess.GameUpdate {
	return lichess.GameUpdate{
		Type: lichess.UpdateChatLine,
		Chat: &lichess.ChatLine{Username: "alice", Text: "hi", Room: "player"},
	}
}

func lichessUpdate(kind string) lichess.GameUpdate {
	return lichess.GameUpdate{Type: kind}
}
