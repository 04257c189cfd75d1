package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-lichess-bot/internal/msgcat"
	"github.com/park285/cheese-lichess-bot/internal/rules"
)

func TestDriverStateString(t *testing.T) {
	assert.Equal(t, "awaiting_full_state", StateAwaitingFullState.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "terminated", StateTerminated.String())
	assert.Equal(t, "state(9)", DriverState(9).String())
}

func TestSingleTokenExtensionsAlternateSides(t *testing.T) {
	observeLogs(t)
	ctx := context.Background()
	tr := newTransport()
	player := &scriptedPlayer{}
	d := newDriver("alice", newGameFeed(), tr, player)

	require.NoError(t, d.handle(ctx, fullUpdate("alice", "CheeseBot", "")))
	require.Equal(t, rules.First, d.board.SideToMove())

	line := []string{"e2e4", "e7e5", "g1f3", "b8c6", "f1c4", "g8f6"}
	log := ""
	for i, mv := range line {
		if log != "" {
			log += " "
		}
		log += mv
		require.NoError(t, d.handle(ctx, stateUpdate(log, "started")))
		assert.Equal(t, i+1, d.board.Ply())
		want := rules.Second
		if (i+1)%2 == 0 {
			want = rules.First
		}
		assert.Equal(t, want, d.board.SideToMove(), "after %s", log)
	}
	assert.Equal(t, StateActive, d.State())
}

func TestColorAssignmentFollowsRecordedChallenger(t *testing.T) {
	names := []string{"alice", "bob", "CheeseBot"}
	for _, recorded := range names {
		for _, first := range names {
			for _, second := range names {
				d := newDriver(recorded, newGameFeed(), newTransport(), &scriptedPlayer{})
				got := d.resolveColor(fullUpdate(first, second, "").Full)
				want := rules.First
				if first == recorded {
					want = rules.Second
				}
				assert.Equal(t, want, got, "recorded=%s first=%s second=%s", recorded, first, second)
			}
		}
	}
}

func TestColorAssignmentWithoutRecordedChallenger(t *testing.T) {
	cases := []struct {
		name         string
		recorded     string
		botName      string
		white, black string
		want         rules.Color
	}{
		{"own name as black", "", "CheeseBot", "alice", "cheesebot", rules.Second},
		{"own name as white", "", "CheeseBot", "CheeseBot", "alice", rules.First},
		{"server ai first", "", "", "", "CheeseBot", rules.Second},
		{"server ai first with stale challenger", "alice", "", "", "CheeseBot", rules.Second},
		{"server ai first with own name", "", "CheeseBot", "", "CheeseBot", rules.Second},
		{"unknown identities", "", "", "bob", "CheeseBot", rules.First},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sess := NewContext()
			sess.SetOpponent(tc.recorded)
			d := NewGameDriver("g1", newGameFeed(), GameConfig{Submitter: newTransport(), Context: sess, BotName: tc.botName})
			assert.Equal(t, tc.want, d.resolveColor(fullUpdate(tc.white, tc.black, "").Full))
		})
	}
}

func TestColorResolvedOnceAndKept(t *testing.T) {
	observeLogs(t)
	ctx := context.Background()
	d := newDriver("alice", newGameFeed(), newTransport(), &scriptedPlayer{})

	require.NoError(t, d.handle(ctx, fullUpdate("alice", "CheeseBot", "")))
	require.Equal(t, rules.Second, d.Color())

	d.cfg.Context.SetOpponent("zed")
	require.NoError(t, d.handle(ctx, fullUpdate("alice", "CheeseBot", "e2e4")))
	assert.Equal(t, rules.Second, d.Color())
	assert.Equal(t, 1, d.board.Ply())
}

func TestSecondMoverWaitsForFirstMove(t *testing.T) {
	observeLogs(t)
	ctx := context.Background()
	tr := newTransport()
	player := &scriptedPlayer{moves: []string{"e7e5", "b8c6"}}
	d := newDriver("alice", newGameFeed(), tr, player)

	require.NoError(t, d.handle(ctx, fullUpdate("alice", "CheeseBot", "")))
	assert.Equal(t, 0, player.calls(), "no turn action before the first move")

	require.NoError(t, d.handle(ctx, stateUpdate("e2e4", "started")))
	assert.Equal(t, 1, player.calls())
	require.Len(t, tr.moves, 1)
	assert.Equal(t, submittedMove{GameID: "g1", UCI: "e7e5"}, tr.moves[0])

	require.NoError(t, d.handle(ctx, stateUpdate("e2e4", "started")))
	assert.Equal(t, 1, player.calls(), "duplicate must not trigger another turn action")

	require.NoError(t, d.handle(ctx, stateUpdate("e2e4 e7e5", "started")))
	assert.Equal(t, 1, player.calls(), "own move echoed back is not the bot's turn")

	require.NoError(t, d.handle(ctx, stateUpdate("e2e4 e7e5 g1f3", "started")))
	assert.Equal(t, 2, player.calls())
	assert.Equal(t, "b8c6", tr.moves[1].UCI)
	assert.Equal(t, []string{"e2e4", "e7e5", "g1f3"}, player.positions[1].Moves)
}

func TestFirstMoverActsAtGameStart(t *testing.T) {
	observeLogs(t)
	tr := newTransport()
	player := &scriptedPlayer{moves: []string{"d2d4"}}
	feed := newGameFeed(fullUpdate("alice", "CheeseBot", ""))
	d := newDriver("CheeseBot-fan", feed, tr, player)

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, rules.First, d.Color())
	require.Len(t, tr.moves, 1)
	assert.Equal(t, "d2d4", tr.moves[0].UCI)
	assert.Equal(t, 0, player.positions[0].Ply())
	assert.Equal(t, StateTerminated, d.State(), "feed end terminates the driver")
}

func TestDuplicateUpdateIsNotReapplied(t *testing.T) {
	logs := observeLogs(t)
	ctx := context.Background()
	d := newDriver("bob", newGameFeed(), newTransport(), &scriptedPlayer{moves: []string{"e2e4"}})

	require.NoError(t, d.handle(ctx, fullUpdate("alice", "CheeseBot", "")))
	require.NoError(t, d.handle(ctx, stateUpdate("e2e4 e7e5", "started")))
	require.NoError(t, d.handle(ctx, stateUpdate("e2e4 e7e5", "started")))

	assert.Equal(t, 2, d.board.Ply())
	assert.Equal(t, 1, logs.FilterMessage("game_update_duplicate").Len())
	assert.Equal(t, 0, logs.FilterMessage("game_move_illegal").Len())
}

func TestOnlyNewTrailingTokenIsApplied(t *testing.T) {
	logs := observeLogs(t)
	ctx := context.Background()
	player := &scriptedPlayer{}
	d := newDriver("alice", newGameFeed(), newTransport(), player)

	require.NoError(t, d.handle(ctx, fullUpdate("alice", "CheeseBot", "")))
	require.NoError(t, d.handle(ctx, stateUpdate("e4 e5", "started")))
	require.Equal(t, 2, d.board.Ply())
	applied := logs.FilterMessage("game_move_applied").Len()

	require.NoError(t, d.handle(ctx, stateUpdate("e4 e5 Nf3", "started")))
	assert.Equal(t, 3, d.board.Ply())
	assert.Equal(t, []string{"e2e4", "e7e5", "g1f3"}, d.board.History())
	assert.Equal(t, applied+1, logs.FilterMessage("game_move_applied").Len())
	assert.Equal(t, 1, player.calls())
}

func TestBatchedUpdateAppliesEveryNewToken(t *testing.T) {
	logs := observeLogs(t)
	ctx := context.Background()
	player := &scriptedPlayer{moves: []string{"e7e5"}}
	d := newDriver("alice", newGameFeed(), newTransport(), player)

	require.NoError(t, d.handle(ctx, fullUpdate("alice", "CheeseBot", "")))
	require.NoError(t, d.handle(ctx, stateUpdate("e2e4", "started")))
	require.NoError(t, d.handle(ctx, stateUpdate("e2e4 e7e5 g1f3", "started")))

	assert.Equal(t, 3, d.board.Ply())
	assert.Equal(t, 3, logs.FilterMessage("game_move_applied").Len())
	assert.Equal(t, 2, player.calls())
}

func TestResyncAfterTakeback(t *testing.T) {
	logs := observeLogs(t)
	ctx := context.Background()
	player := &scriptedPlayer{}
	d := newDriver("alice", newGameFeed(), newTransport(), player)

	require.NoError(t, d.handle(ctx, fullUpdate("alice", "CheeseBot", "")))
	require.NoError(t, d.handle(ctx, stateUpdate("e2e4", "started")))
	require.NoError(t, d.handle(ctx, stateUpdate("e2e4 e7e5 g1f3", "started")))
	require.Equal(t, 2, player.calls())

	require.NoError(t, d.handle(ctx, stateUpdate("e2e4 e7e5", "started")))
	assert.Equal(t, 2, d.board.Ply())
	assert.Equal(t, rules.First, d.board.SideToMove())
	assert.Equal(t, 1, logs.FilterMessage("game_resync").Len())
	assert.Equal(t, 2, player.calls())

	require.NoError(t, d.handle(ctx, stateUpdate("e2e4 e7e5 b1c3", "started")))
	assert.Equal(t, []string{"e2e4", "e7e5", "b1c3"}, d.board.History())
	assert.Equal(t, 3, player.calls(), "the replayed ply gets a fresh turn action")
}

func TestEmptyMoveLogMidGameChangesNothing(t *testing.T) {
	logs := observeLogs(t)
	ctx := context.Background()
	tr := newTransport()
	player := &scriptedPlayer{moves: []string{"e2e4", "g1f3", "d2d4"}}
	d := newDriver("alice", newGameFeed(), tr, player)

	require.NoError(t, d.handle(ctx, fullUpdate("CheeseBot", "alice", "")))
	require.NoError(t, d.handle(ctx, stateUpdate("e2e4 e7e5", "started")))
	require.Len(t, tr.moves, 2)

	require.NoError(t, d.handle(ctx, stateUpdate("", "started")))
	assert.Equal(t, 2, d.board.Ply())
	assert.Equal(t, []string{"e2e4", "e7e5"}, d.board.History())
	assert.Len(t, tr.moves, 2, "no move submitted into the running game")
	assert.Equal(t, 1, logs.FilterMessage("game_move_log_invalid").Len())
	assert.Zero(t, logs.FilterMessage("game_resync").Len())

	require.NoError(t, d.handle(ctx, stateUpdate("e2e4 e7e5 g1f3 b8c6", "started")))
	assert.Equal(t, 4, d.board.Ply())
	require.Len(t, tr.moves, 3)
	assert.Equal(t, "d2d4", tr.moves[2].UCI)
}

func TestIllegalMoveIsDiscarded(t *testing.T) {
	logs := observeLogs(t)
	ctx := context.Background()
	player := &scriptedPlayer{}
	d := newDriver("bob", newGameFeed(), newTransport(), player)

	require.NoError(t, d.handle(ctx, fullUpdate("alice", "CheeseBot", "")))
	calls := player.calls()
	require.NoError(t, d.handle(ctx, stateUpdate("e2e5 e7e5", "started")))

	assert.Equal(t, 0, d.board.Ply())
	assert.Equal(t, StateActive, d.State())
	assert.Equal(t, 1, logs.FilterMessage("game_move_illegal").Len())
	assert.Equal(t, calls, player.calls())
}

func TestUnparsableMoveIsDiscarded(t *testing.T) {
	logs := observeLogs(t)
	ctx := context.Background()
	d := newDriver("alice", newGameFeed(), newTransport(), &scriptedPlayer{})

	require.NoError(t, d.handle(ctx, fullUpdate("alice", "CheeseBot", "")))
	require.NoError(t, d.handle(ctx, stateUpdate("zzzz", "started")))

	assert.Equal(t, 0, d.board.Ply())
	assert.Equal(t, StateActive, d.State())
	assert.Equal(t, 1, logs.FilterMessage("game_move_unparsable").Len())
}

func TestTerminalStatusEndsGame(t *testing.T) {
	logs := observeLogs(t)
	player := &scriptedPlayer{}
	feed := newGameFeed(
		fullUpdate("alice", "CheeseBot", ""),
		finishedUpdate("", "resign", "black"),
		stateUpdate("e2e4", "started"),
	)
	d := newDriver("bob", feed, newTransport(), player)
	player.moves = []string{"e2e4"}

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, StateTerminated, d.State())
	assert.Equal(t, 2, feed.pos, "no update consumed after termination")
	assert.Equal(t, 1, player.calls(), "only the opening turn action")

	ends := logs.FilterMessage("game_end").All()
	require.Len(t, ends, 1)
	assert.Equal(t, "resign", ends[0].ContextMap()["status"])
	assert.Equal(t, "g1", ends[0].ContextMap()["game_id"])
}

func TestFinishedFullStateDoesNotAct(t *testing.T) {
	observeLogs(t)
	player := &scriptedPlayer{}
	feed := newGameFeed(fullUpdateStatus("alice", "CheeseBot", "e2e4", "aborted"))
	d := newDriver("alice", feed, newTransport(), player)

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, StateTerminated, d.State())
	assert.Equal(t, 0, player.calls())
}

func TestReconnectAppliesFullStateAndActs(t *testing.T) {
	observeLogs(t)
	tr := newTransport()
	player := &scriptedPlayer{moves: []string{"c7c5"}}
	feed := newGameFeed(fullUpdate("alice", "CheeseBot", "e2e4"))
	d := newDriver("alice", feed, tr, player)

	require.NoError(t, d.Run(context.Background()))
	require.Len(t, tr.moves, 1)
	assert.Equal(t, "c7c5", tr.moves[0].UCI)
	assert.Equal(t, 1, player.positions[0].Ply())
}

func TestStateBeforeFullIsIgnored(t *testing.T) {
	logs := observeLogs(t)
	ctx := context.Background()
	d := newDriver("alice", newGameFeed(), newTransport(), &scriptedPlayer{})

	require.NoError(t, d.handle(ctx, stateUpdate("e2e4", "started")))
	assert.Equal(t, StateAwaitingFullState, d.State())
	assert.Equal(t, 1, logs.FilterMessage("game_state_before_full").Len())

	require.NoError(t, d.handle(ctx, stateUpdate("", "")))
	require.NoError(t, d.handle(ctx, fullUpdate("alice", "CheeseBot", "")))
	assert.Equal(t, StateActive, d.State())
}

func TestOtherUpdateKindsIgnored(t *testing.T) {
	logs := observeLogs(t)
	ctx := context.Background()
	d := newDriver("alice", newGameFeed(), newTransport(), &scriptedPlayer{})
	require.NoError(t, d.handle(ctx, fullUpdate("alice", "CheeseBot", "")))

	require.NoError(t, d.handle(ctx, chatUpdate()))
	require.NoError(t, d.handle(ctx, lichessUpdate("opponentGone")))
	assert.Equal(t, 2, logs.FilterMessage("game_update_ignored").Len())
	assert.Equal(t, StateActive, d.State())
}

func TestEngineFailureIsFatalForGame(t *testing.T) {
	observeLogs(t)
	boom := errors.New("engine crashed")
	feed := newGameFeed(fullUpdate("alice", "CheeseBot", ""))
	d := newDriver("bob", feed, newTransport(), &scriptedPlayer{err: boom})

	err := d.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestSubmissionFailureIsFatalForGame(t *testing.T) {
	observeLogs(t)
	boom := errors.New("http 400")
	tr := newTransport()
	tr.moveErr = boom
	feed := newGameFeed(
		fullUpdate("alice", "CheeseBot", ""),
		stateUpdate("e2e4", "started"),
		stateUpdate("e2e4 e7e5", "started"),
	)
	d := newDriver("alice", feed, tr, &scriptedPlayer{})

	err := d.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, feed.pos, "the game stops at the failed submission")
}

func TestFeedErrorIsReturned(t *testing.T) {
	observeLogs(t)
	boom := errors.New("connection reset")
	feed := newGameFeed(fullUpdate("alice", "CheeseBot", ""))
	feed.err = boom
	d := newDriver("alice", feed, newTransport(), &scriptedPlayer{})

	assert.ErrorIs(t, d.Run(context.Background()), boom)
}

func TestRecorderAndChatFollowTheGame(t *testing.T) {
	observeLogs(t)
	catalog, err := msgcat.New("")
	require.NoError(t, err)
	chatter := &fakeChatter{}
	rec := &fakeRecorder{err: errors.New("redis down")}
	tr := newTransport()
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	sess := NewContext()
	sess.SetOpponent("alice")
	feed := newGameFeed(
		fullUpdate("alice", "CheeseBot", ""),
		stateUpdate("f2f3", "started"),
		stateUpdate("f2f3 e7e5", "started"),
		stateUpdate("f2f3 e7e5 g2g4", "started"),
		finishedUpdate("f2f3 e7e5 g2g4 d8h4", "mate", "black"),
	)
	d := NewGameDriver("g1", feed, GameConfig{
		Submitter: tr,
		Player:    &scriptedPlayer{moves: []string{"e7e5", "d8h4"}},
		Context:   sess,
		Recorder:  rec,
		Chat:      NewChat(chatter, catalog, "stockfish"),
		Now:       func() time.Time { return start },
	})

	require.NoError(t, d.Run(context.Background()), "recorder failures are not fatal")
	assert.Equal(t, []submittedMove{{GameID: "g1", UCI: "e7e5"}, {GameID: "g1", UCI: "d8h4"}}, tr.moves)

	require.NotEmpty(t, rec.saves)
	require.Len(t, rec.finishes, 1)
	final := rec.finishes[0]
	assert.Equal(t, "alice", final.Opponent)
	assert.Equal(t, "black", final.BotColor)
	assert.Equal(t, []string{"f2f3", "e7e5", "g2g4", "d8h4"}, final.MovesUCI)
	assert.True(t, strings.HasPrefix(final.MovesSAN[3], "Qh4"), final.MovesSAN[3])
	assert.Equal(t, "0-1", final.PGNResult())
	assert.Equal(t, "mate", final.Status)

	require.Len(t, chatter.lines, 3)
	assert.Equal(t, roomPlayer, chatter.lines[0].Room)
	assert.Contains(t, chatter.lines[0].Text, "alice")
	assert.Equal(t, roomSpectator, chatter.lines[1].Room)
	assert.Contains(t, chatter.lines[1].Text, "stockfish")
	assert.Contains(t, chatter.lines[2].Text, "Good game")
}

func TestFeedEndMidGameOnlySnapshots(t *testing.T) {
	observeLogs(t)
	rec := &fakeRecorder{}
	chatter := &fakeChatter{}
	catalog, err := msgcat.New("")
	require.NoError(t, err)
	sess := NewContext()
	sess.SetOpponent("alice")
	feed := newGameFeed(
		fullUpdate("alice", "CheeseBot", ""),
		stateUpdate("e2e4", "started"),
	)
	d := NewGameDriver("g1", feed, GameConfig{
		Submitter: newTransport(),
		Player:    &scriptedPlayer{moves: []string{"e7e5"}},
		Context:   sess,
		Recorder:  rec,
		Chat:      NewChat(chatter, catalog, "stockfish"),
	})

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, StateTerminated, d.State())
	assert.Empty(t, rec.finishes, "an unfinished game is not archived as final")
	require.NotEmpty(t, rec.saves)
	last := rec.saves[len(rec.saves)-1]
	assert.Equal(t, []string{"e2e4"}, last.MovesUCI)
	assert.Equal(t, "started", last.Status)
	assert.Len(t, chatter.lines, 2, "greeting only, no farewell")
}

func TestNilChatIsSafe(t *testing.T) {
	var c *Chat
	c.Greet(context.Background(), "g1", "alice", rules.White)
	c.Farewell(context.Background(), "g1", "alice", rules.White, "mate", "white")
	assert.Nil(t, NewChat(nil, nil, ""))
}
