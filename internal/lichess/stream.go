package lichess

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

// ErrStreamClosed is returned by Next after Close.
var ErrStreamClosed = errors.New("stream closed")

const maxLineBytes = 1 << 20

// ndjsonStream reads newline-delimited JSON from a streamed fasthttp response.
// A single reader goroutine feeds lines so Next can honour ctx. Each stream
// owns its connection: Close shuts it to unblock the reader and releases the
// response only after the reader has exited.
type ndjsonStream struct {
	resp  *fasthttp.Response
	conn  net.Conn
	lines chan lineResult

	closeOnce sync.Once
	done      chan struct{}
	exited    chan struct{}
}

type lineResult struct {
	line []byte
	err  error
}

// streamClient builds a single-connection client for one stream and reports
// the connection it dialed through conn.
func (c *Client) streamClient(conn *net.Conn) (*fasthttp.HostClient, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", c.baseURL)
	}
	dial := c.dial
	if dial == nil {
		dial = fasthttp.Dial
	}
	return &fasthttp.HostClient{
		Addr:               u.Host,
		IsTLS:              u.Scheme == "https",
		StreamResponseBody: true,
		WriteTimeout:       10 * time.Second,
		MaxConns:           1,
		Dial: func(addr string) (net.Conn, error) {
			nc, err := dial(addr)
			if err == nil {
				*conn = nc
			}
			return nc, err
		},
	}, nil
}

func (c *Client) openStream(ctx context.Context, path string) (*ndjsonStream, error) {
	var conn net.Conn
	hc, err := c.streamClient(&conn)
	if err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + path)
	req.Header.Set("Accept", "application/x-ndjson")
	c.setHeaders(req)

	if err := ctx.Err(); err != nil {
		fasthttp.ReleaseResponse(resp)
		return nil, err
	}
	if err := hc.Do(req, resp); err != nil {
		fasthttp.ReleaseResponse(resp)
		return nil, fmt.Errorf("open stream %s: %w", path, err)
	}
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		body, _ := io.ReadAll(io.LimitReader(bodyReader(resp), 512))
		resp.SetConnectionClose()
		_ = resp.CloseBodyStream()
		fasthttp.ReleaseResponse(resp)
		return nil, &APIError{Status: status, Body: string(body)}
	}

	s := &ndjsonStream{
		resp:   resp,
		conn:   conn,
		lines:  make(chan lineResult),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go s.readLoop(bodyReader(resp))
	return s, nil
}

func bodyReader(resp *fasthttp.Response) io.Reader {
	if r := resp.BodyStream(); r != nil {
		return r
	}
	return bytes.NewReader(resp.Body())
}

func (s *ndjsonStream) readLoop(r io.Reader) {
	defer close(s.exited)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		select {
		case s.lines <- lineResult{line: append([]byte(nil), line...)}:
		case <-s.done:
			return
		}
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case s.lines <- lineResult{err: err}:
	case <-s.done:
	}
}

func (s *ndjsonStream) next(ctx context.Context, out any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStreamClosed
	case res := <-s.lines:
		if res.err != nil {
			return res.err
		}
		if err := json.Unmarshal(res.line, out); err != nil {
			return fmt.Errorf("decode stream line: %w", err)
		}
		return nil
	}
}

func (s *ndjsonStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
		<-s.exited
		s.resp.SetConnectionClose()
		err = s.resp.CloseBodyStream()
		fasthttp.ReleaseResponse(s.resp)
	})
	return err
}

// EventStream is the account-wide event feed.
type EventStream struct{ s *ndjsonStream }

func (c *Client) StreamEvents(ctx context.Context) (*EventStream, error) {
	s, err := c.openStream(ctx, "/api/stream/event")
	if err != nil {
		return nil, err
	}
	return &EventStream{s: s}, nil
}

// Next blocks for the next event. io.EOF means the server ended the stream.
func (e *EventStream) Next(ctx context.Context) (Event, error) {
	var ev Event
	err := e.s.next(ctx, &ev)
	return ev, err
}

func (e *EventStream) Close() error { return e.s.Close() }

// GameStream is the per-game update feed.
type GameStream struct{ s *ndjsonStream }

func (c *Client) StreamGame(ctx context.Context, gameID string) (*GameStream, error) {
	s, err := c.openStream(ctx, "/api/bot/game/stream/"+url.PathEscape(gameID))
	if err != nil {
		return nil, err
	}
	return &GameStream{s: s}, nil
}

func (g *GameStream) Next(ctx context.Context) (GameUpdate, error) {
	var up GameUpdate
	err := g.s.next(ctx, &up)
	return up, err
}

func (g *GameStream) Close() error { return g.s.Close() }
