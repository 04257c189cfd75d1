package archive

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	snapshotTTL     = 24 * time.Hour
	finishedListKey = "bot:games:finished"
	finishedListCap = 200
)

// RedisStore keeps a short-lived JSON snapshot per game plus a capped list of finished ids.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis archive")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *RedisStore) Save(ctx context.Context, g *Game) error {
	if g == nil || g.ID == "" {
		return nil
	}
	raw, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal game: %w", err)
	}
	return s.rdb.Set(ctx, gameKey(g.ID), raw, snapshotTTL).Err()
}

func (s *RedisStore) Finish(ctx context.Context, g *Game) error {
	if err := s.Save(ctx, g); err != nil {
		return err
	}
	if g == nil || g.ID == "" {
		return nil
	}
	pipe := s.rdb.TxPipeline()
	pipe.LRem(ctx, finishedListKey, 0, g.ID)
	pipe.LPush(ctx, finishedListKey, g.ID)
	pipe.LTrim(ctx, finishedListKey, 0, finishedListCap-1)
	_, err := pipe.Exec(ctx)
	return err
}

// Load returns nil, nil when the snapshot expired or never existed.
func (s *RedisStore) Load(ctx context.Context, id string) (*Game, error) {
	raw, err := s.rdb.Get(ctx, gameKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var g Game
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode game %s: %w", id, err)
	}
	return &g, nil
}

// Recent lists the most recently finished games still held in redis, newest first.
func (s *RedisStore) Recent(ctx context.Context, n int) ([]*Game, error) {
	if n <= 0 {
		return nil, nil
	}
	ids, err := s.rdb.LRange(ctx, finishedListKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Game, 0, len(ids))
	for _, id := range ids {
		g, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if g != nil {
			out = append(out, g)
		}
	}
	return out, nil
}

func gameKey(id string) string { return "bot:game:" + strings.TrimSpace(id) }

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redis db %q: %w", p, err)
		}
		db = n
	}
	pass, _ := u.User.Password()
	opts := &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: u.Hostname()}
	}
	return opts, nil
}
