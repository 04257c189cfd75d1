package main

import (
	"context"

	"github.com/park285/cheese-lichess-bot/internal/lichess"
	"github.com/park285/cheese-lichess-bot/internal/session"
)

type eventSource interface {
	session.EventFeed
	Close() error
}

// lichessTransport sends actions over HTTP and reads feeds either from the
// NDJSON endpoints or, when ws is set, from the websocket relay.
type lichessTransport struct {
	*lichess.Client
	ws *lichess.WSFeeds
}

func (t *lichessTransport) OpenEvents(ctx context.Context) (eventSource, error) {
	if t.ws != nil {
		f, err := t.ws.StreamEvents(ctx)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	s, err := t.Client.StreamEvents(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (t *lichessTransport) OpenGame(ctx context.Context, gameID string) (session.GameFeed, error) {
	if t.ws != nil {
		f, err := t.ws.StreamGame(ctx, gameID)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	s, err := t.Client.StreamGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return s, nil
}

var (
	_ session.Transport = (*lichessTransport)(nil)
	_ session.Chatter   = (*lichessTransport)(nil)
)
