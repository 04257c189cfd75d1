package lichess

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-lichess-bot/internal/obslog"
)

// WSFeeds reads the event and game feeds from a websocket relay that
// forwards the same JSON objects as the NDJSON endpoints. lichess.org has no
// such endpoint; the relay is a separate deployment. Actions still go over
// HTTP.
type WSFeeds struct {
	wsURL        string
	token        string
	headers      HeaderProvider
	pingInterval time.Duration
	dialTimeout  time.Duration
}

func NewWSFeeds(wsURL, token string) *WSFeeds {
	return &WSFeeds{
		wsURL:        strings.TrimRight(wsURL, "/"),
		token:        strings.TrimSpace(token),
		pingInterval: 30 * time.Second,
		dialTimeout:  10 * time.Second,
	}
}

// SetHeaderProvider allows injecting headers into the WS handshake.
func (f *WSFeeds) SetHeaderProvider(h HeaderProvider) { f.headers = h }

func (f *WSFeeds) buildHeaders() http.Header {
	hdr := http.Header{}
	if f.token != "" {
		hdr.Set("Authorization", "Bearer "+f.token)
	}
	if f.headers == nil {
		return hdr
	}
	for k, v := range f.headers() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}

type wsFeed struct {
	conn *websocket.Conn
	path string

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

func (f *WSFeeds) dial(ctx context.Context, path string) (*wsFeed, error) {
	dialCtx, cancel := context.WithTimeout(ctx, f.dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, f.wsURL+path, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      f.buildHeaders(),
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	conn.SetReadLimit(maxLineBytes)

	feed := &wsFeed{conn: conn, path: path, stop: make(chan struct{})}
	if f.pingInterval > 0 {
		feed.wg.Add(1)
		go feed.pingLoop(f.pingInterval)
	}
	return feed, nil
}

func (w *wsFeed) pingLoop(interval time.Duration) {
	defer w.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err := w.conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				obslog.L().Warn("ws_ping_failed", zap.String("path", w.path), zap.Error(err))
				_ = w.conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (w *wsFeed) read(ctx context.Context, v any) error {
	err := wsjson.Read(ctx, w.conn, v)
	if err == nil {
		return nil
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return io.EOF
	}
	if w.stopping() {
		return ErrStreamClosed
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (w *wsFeed) stopping() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

func (w *wsFeed) Close() error {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.conn.Close(websocket.StatusNormalClosure, "close")
		w.wg.Wait()
	})
	return nil
}

type WSEventFeed struct{ *wsFeed }

func (f *WSFeeds) StreamEvents(ctx context.Context) (*WSEventFeed, error) {
	feed, err := f.dial(ctx, "/stream/event")
	if err != nil {
		return nil, err
	}
	return &WSEventFeed{feed}, nil
}

func (e *WSEventFeed) Next(ctx context.Context) (Event, error) {
	var ev Event
	err := e.read(ctx, &ev)
	return ev, err
}

type WSGameFeed struct{ *wsFeed }

func (f *WSFeeds) StreamGame(ctx context.Context, gameID string) (*WSGameFeed, error) {
	feed, err := f.dial(ctx, "/stream/game/"+url.PathEscape(gameID))
	if err != nil {
		return nil, err
	}
	return &WSGameFeed{feed}, nil
}

func (g *WSGameFeed) Next(ctx context.Context) (GameUpdate, error) {
	var up GameUpdate
	err := g.read(ctx, &up)
	return up, err
}
