package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Feed transports. TransportWS reads the event and game feeds from a
// websocket relay at LICHESS_WS_URL that re-publishes the lichess NDJSON
// streams; lichess.org itself offers no such endpoint, so ws mode needs that
// relay deployed in front of it. Actions always go over HTTP.
const (
	TransportHTTP = "http"
	TransportWS   = "ws"
)

type AppConfig struct {
	LichessToken   string
	LichessBaseURL string
	LichessWSURL   string
	Transport      string
	HTTPTimeout    time.Duration
	// HTTPRetryMax bounds attempts for read-only requests; actions are never retried.
	HTTPRetryMax int

	BotUsername    string
	AcceptVariants []string

	StockfishPath     string
	EnginePreset      string
	EngineDepth       int
	EnginePresetsFile string
	BookPath          string
	BookMaxPly        int

	ArchiveConfig

	ChatEnabled bool
	MessagesDir string
}

// Load reads the environment after merging an optional .env file from the
// working directory. Variables already set in the environment win.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// ArchiveConfig locates the game record stores. Both are optional.
type ArchiveConfig struct {
	RedisURL    string
	DatabaseURL string
}

// LoadArchive reads only the store locations, for commands that inspect
// records without talking to lichess.
func LoadArchive() ArchiveConfig {
	_ = godotenv.Load()
	return archiveFromEnv()
}

func archiveFromEnv() ArchiveConfig {
	return ArchiveConfig{
		RedisURL:    strings.TrimSpace(os.Getenv("REDIS_URL")),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
	}
}

func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{
		LichessBaseURL: "https://lichess.org",
		Transport:      TransportHTTP,
		HTTPTimeout:    10 * time.Second,
		HTTPRetryMax:   3,
		EnginePreset:   "default",
		BookMaxPly:     12,
		ChatEnabled:    true,
	}

	cfg.LichessToken = strings.TrimSpace(os.Getenv("LICHESS_TOKEN"))
	if cfg.LichessToken == "" {
		cfg.LichessToken = strings.TrimSpace(os.Getenv("RUST_BOT_TOKEN"))
	}
	if v := strings.TrimSpace(os.Getenv("LICHESS_BASE_URL")); v != "" {
		cfg.LichessBaseURL = strings.TrimRight(v, "/")
	}
	cfg.LichessWSURL = strings.TrimRight(strings.TrimSpace(os.Getenv("LICHESS_WS_URL")), "/")
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("TRANSPORT"))); v != "" {
		cfg.Transport = v
	}
	if v := strings.TrimSpace(os.Getenv("HTTP_TIMEOUT_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPTimeout = time.Duration(n) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("HTTP_RETRY_MAX")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("HTTP_RETRY_MAX must be a positive integer: %q", v)
		}
		cfg.HTTPRetryMax = n
	}

	cfg.BotUsername = strings.TrimSpace(os.Getenv("BOT_USERNAME"))
	cfg.AcceptVariants = splitList(os.Getenv("ACCEPT_VARIANTS"))

	cfg.StockfishPath = strings.TrimSpace(os.Getenv("STOCKFISH_PATH"))
	if v := strings.TrimSpace(os.Getenv("ENGINE_PRESET")); v != "" {
		cfg.EnginePreset = v
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_DEPTH")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("ENGINE_DEPTH must be a non-negative integer: %q", v)
		}
		cfg.EngineDepth = n
	}
	cfg.EnginePresetsFile = strings.TrimSpace(os.Getenv("ENGINE_PRESETS_FILE"))
	cfg.BookPath = strings.TrimSpace(os.Getenv("POLYGLOT_BOOK_PATH"))
	if v := strings.TrimSpace(os.Getenv("BOOK_MAX_PLY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BookMaxPly = n
		}
	}

	cfg.ArchiveConfig = archiveFromEnv()

	if v := strings.TrimSpace(os.Getenv("CHAT_ENABLED")); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			cfg.ChatEnabled = b
		}
	}
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if cfg.LichessToken == "" {
		return nil, errors.New("LICHESS_TOKEN is required")
	}
	switch cfg.Transport {
	case TransportHTTP:
	case TransportWS:
		if cfg.LichessWSURL == "" {
			return nil, errors.New("LICHESS_WS_URL is required when TRANSPORT=ws")
		}
	default:
		return nil, fmt.Errorf("TRANSPORT must be http or ws: %q", cfg.Transport)
	}

	return cfg, nil
}

// AcceptsVariant reports whether challenges in the variant should be accepted.
// An empty list accepts everything.
func (c *AppConfig) AcceptsVariant(key string) bool {
	if len(c.AcceptVariants) == 0 {
		return true
	}
	for _, v := range c.AcceptVariants {
		if strings.EqualFold(v, key) {
			return true
		}
	}
	return false
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
