package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

// SQLStore writes the final record of every game to bot_games. Postgres URLs
// use lib/pq; sqlite:// URLs (or a bare *.db path) use an embedded SQLite file.
type SQLStore struct {
	db     *sql.DB
	driver string
}

func NewSQLStore(databaseURL string) (*SQLStore, error) {
	driver, dsn, err := resolveDSN(databaseURL)
	if err != nil {
		return nil, err
	}
	if driver == driverSQLite && !strings.HasPrefix(dsn, ":memory:") && !strings.HasPrefix(dsn, "file::memory:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == driverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(4)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	s := &SQLStore{db: db, driver: driver}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func resolveDSN(raw string) (driver, dsn string, err error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return "", "", fmt.Errorf("DATABASE_URL is required")
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return driverPostgres, raw, nil
	case strings.HasPrefix(raw, "sqlite://"):
		return driverSQLite, strings.TrimPrefix(raw, "sqlite://"), nil
	case strings.HasSuffix(raw, ".db"), strings.HasPrefix(raw, "file:"), raw == ":memory:":
		return driverSQLite, raw, nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme: %s", raw)
	}
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS bot_games (
		game_id     TEXT PRIMARY KEY,
		white_name  TEXT NOT NULL,
		black_name  TEXT NOT NULL,
		opponent    TEXT NOT NULL,
		bot_color   TEXT NOT NULL,
		variant     TEXT NOT NULL,
		speed       TEXT NOT NULL,
		rated       BOOLEAN NOT NULL,
		initial_fen TEXT NOT NULL,
		status      TEXT NOT NULL,
		winner      TEXT NOT NULL,
		result      TEXT NOT NULL,
		moves_uci   TEXT NOT NULL,
		moves_san   TEXT NOT NULL,
		pgn         TEXT NOT NULL,
		started_at  BIGINT NOT NULL,
		ended_at    BIGINT NOT NULL,
		duration_ms BIGINT NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Save is a no-op: only final results are stored in SQL.
func (s *SQLStore) Save(context.Context, *Game) error { return nil }

// Finish upserts the final record, so a replayed finish overwrites rather than duplicates.
func (s *SQLStore) Finish(ctx context.Context, g *Game) error {
	if s == nil || s.db == nil || g == nil || g.ID == "" {
		return nil
	}
	movesUCI, _ := json.Marshal(nonNil(g.MovesUCI))
	movesSAN, _ := json.Marshal(nonNil(g.MovesSAN))
	ended := g.UpdatedAt
	if ended.IsZero() {
		ended = time.Now()
	}
	duration := max(ended.Sub(g.StartedAt).Milliseconds(), 0)

	q := `INSERT INTO bot_games (
		game_id, white_name, black_name, opponent, bot_color, variant, speed, rated,
		initial_fen, status, winner, result, moves_uci, moves_san, pgn,
		started_at, ended_at, duration_ms
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
	) ON CONFLICT (game_id) DO UPDATE SET
		white_name=EXCLUDED.white_name,
		black_name=EXCLUDED.black_name,
		opponent=EXCLUDED.opponent,
		bot_color=EXCLUDED.bot_color,
		variant=EXCLUDED.variant,
		speed=EXCLUDED.speed,
		rated=EXCLUDED.rated,
		initial_fen=EXCLUDED.initial_fen,
		status=EXCLUDED.status,
		winner=EXCLUDED.winner,
		result=EXCLUDED.result,
		moves_uci=EXCLUDED.moves_uci,
		moves_san=EXCLUDED.moves_san,
		pgn=EXCLUDED.pgn,
		started_at=EXCLUDED.started_at,
		ended_at=EXCLUDED.ended_at,
		duration_ms=EXCLUDED.duration_ms`

	_, err := s.db.ExecContext(ctx, s.rebind(q),
		g.ID, g.White, g.Black, g.Opponent, g.BotColor, g.Variant, g.Speed, g.Rated,
		g.InitialFEN, g.Status, g.Winner, g.PGNResult(), string(movesUCI), string(movesSAN), BuildPGN(g),
		g.StartedAt.UnixMilli(), ended.UnixMilli(), duration,
	)
	if err != nil {
		return fmt.Errorf("upsert game %s: %w", g.ID, err)
	}
	return nil
}

// Result reads back the stored PGN result and move count of a game.
func (s *SQLStore) Result(ctx context.Context, id string) (result string, plies int, err error) {
	var raw string
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT result, moves_uci FROM bot_games WHERE game_id = $1`), id)
	if err := row.Scan(&result, &raw); err != nil {
		return "", 0, err
	}
	var moves []string
	if err := json.Unmarshal([]byte(raw), &moves); err != nil {
		return "", 0, fmt.Errorf("decode moves: %w", err)
	}
	return result, len(moves), nil
}

var placeholder = regexp.MustCompile(`\$\d+`)

func (s *SQLStore) rebind(q string) string {
	if s.driver != driverSQLite {
		return q
	}
	return placeholder.ReplaceAllString(q, "?")
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
