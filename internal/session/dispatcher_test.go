package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-lichess-bot/internal/lichess"
)

func challengeEvent(id, challenger string) lichess.Event {
	ch := &lichess.Challenge{
		ID:          id,
		Variant:     lichess.Variant{Key: "standard"},
		TimeControl: &lichess.TimeControl{Type: "clock", Limit: 300, Increment: 3},
	}
	if challenger != "" {
		ch.Challenger = &lichess.User{ID: challenger, Name: challenger}
	}
	return lichess.Event{Type: lichess.EventChallenge, Challenge: ch}
}

func gameStartEvent(id string) lichess.Event {
	return lichess.Event{Type: lichess.EventGameStart, Game: &lichess.GameInfo{GameID: id}}
}

func newTestDispatcher(t *testing.T, events *fakeEventFeed, tr *fakeTransport, player *scriptedPlayer, sess *Context) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(events, Config{Transport: tr, Player: player, Context: sess})
	require.NoError(t, err)
	return d
}

func TestChallengeThenGameScenario(t *testing.T) {
	observeLogs(t)
	tr := newTransport()
	tr.games["g1"] = newGameFeed(
		fullUpdate("alice", "CheeseBot", ""),
		stateUpdate("e2e4", "started"),
	)
	sess := NewContext()
	player := &scriptedPlayer{}
	events := &fakeEventFeed{events: []lichess.Event{challengeEvent("c1", "alice"), gameStartEvent("g1")}}

	require.NoError(t, newTestDispatcher(t, events, tr, player, sess).Run(context.Background()))

	assert.Equal(t, []string{"c1"}, tr.accepted)
	assert.Equal(t, "alice", sess.Opponent())
	assert.Equal(t, []string{"g1"}, tr.opened)
	require.Len(t, tr.moves, 1)
	assert.Equal(t, "g1", tr.moves[0].GameID)
	assert.False(t, tr.moves[0].Draw)
	assert.Equal(t, 1, player.positions[0].Ply())
	assert.True(t, tr.games["g1"].closed, "game feed is released after the game")
}

func TestGamesRunSequentially(t *testing.T) {
	observeLogs(t)
	tr := newTransport()
	tr.games["g1"] = newGameFeed(fullUpdate("alice", "CheeseBot", ""), finishedUpdate("e2e4", "resign", "white"))
	tr.games["g2"] = newGameFeed(fullUpdate("CheeseBot", "bob", ""))
	events := &fakeEventFeed{events: []lichess.Event{
		challengeEvent("c1", "alice"),
		gameStartEvent("g1"),
		{Type: lichess.EventGameFinish, Game: &lichess.GameInfo{GameID: "g1"}},
		challengeEvent("c2", "bob"),
		gameStartEvent("g2"),
	}}
	player := &scriptedPlayer{moves: []string{"e2e4"}}

	require.NoError(t, newTestDispatcher(t, events, tr, player, nil).Run(context.Background()))

	assert.Equal(t, []string{"c1", "c2"}, tr.accepted)
	assert.Equal(t, []string{"g1", "g2"}, tr.opened)
	require.Len(t, tr.moves, 1, "only g2 has a bot turn")
	assert.Equal(t, submittedMove{GameID: "g2", UCI: "e2e4"}, tr.moves[0])
}

func TestEventFeedErrorStopsDispatcher(t *testing.T) {
	observeLogs(t)
	boom := errors.New("stream reset")
	events := &fakeEventFeed{err: boom}

	err := newTestDispatcher(t, events, newTransport(), &scriptedPlayer{}, nil).Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestCancelledContextStopsDispatcher(t *testing.T) {
	observeLogs(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	events := &fakeEventFeed{events: []lichess.Event{challengeEvent("c1", "alice")}}
	tr := newTransport()

	assert.NoError(t, newTestDispatcher(t, events, tr, &scriptedPlayer{}, nil).Run(ctx))
	assert.Empty(t, tr.accepted)
}

func TestPerGameFailuresDoNotStopDispatcher(t *testing.T) {
	logs := observeLogs(t)
	tr := newTransport()
	tr.openErr = errors.New("404")
	events := &fakeEventFeed{events: []lichess.Event{
		gameStartEvent("g1"),
		{Type: lichess.EventGameStart},
		challengeEvent("c1", "alice"),
	}}

	require.NoError(t, newTestDispatcher(t, events, tr, &scriptedPlayer{}, nil).Run(context.Background()))
	assert.Equal(t, 2, logs.FilterMessage("game_error").Len())
	assert.Equal(t, []string{"c1"}, tr.accepted)
}

func TestAcceptFailureIsLoggedAndDropped(t *testing.T) {
	logs := observeLogs(t)
	tr := newTransport()
	tr.acceptErr = errors.New("429")
	events := &fakeEventFeed{events: []lichess.Event{challengeEvent("c1", "alice"), {Type: lichess.EventChallenge}}}

	require.NoError(t, newTestDispatcher(t, events, tr, &scriptedPlayer{}, nil).Run(context.Background()))
	assert.Equal(t, 1, logs.FilterMessage("challenge_error").Len())
	assert.Equal(t, 1, logs.FilterMessage("event_challenge_empty").Len())
}

func TestOtherEventsAreIgnored(t *testing.T) {
	logs := observeLogs(t)
	tr := newTransport()
	events := &fakeEventFeed{events: []lichess.Event{
		{Type: lichess.EventChallengeDeclined, Challenge: &lichess.Challenge{ID: "c9"}},
		{Type: lichess.EventChallengeCanceled, Challenge: &lichess.Challenge{ID: "c8"}},
		{Type: "somethingNew"},
	}}

	require.NoError(t, newTestDispatcher(t, events, tr, &scriptedPlayer{}, nil).Run(context.Background()))
	assert.Empty(t, tr.accepted)
	assert.Empty(t, tr.opened)
	assert.Equal(t, 2, logs.FilterMessage("event_ignored").Len())
	assert.Equal(t, 1, logs.FilterMessage("event_challenge_canceled").Len())
}

func TestNewDispatcherValidates(t *testing.T) {
	_, err := NewDispatcher(nil, Config{Transport: newTransport(), Player: &scriptedPlayer{}})
	assert.Error(t, err)
	_, err = NewDispatcher(&fakeEventFeed{}, Config{Player: &scriptedPlayer{}})
	assert.Error(t, err)
	_, err = NewDispatcher(&fakeEventFeed{}, Config{Transport: newTransport()})
	assert.Error(t, err)
}
