package engine

import (
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/cheese-lichess-bot/internal/obslog"
)

type Config struct {
	StockfishPath string
	Preset        string
	Depth         int
	PresetsFile   string
	BookPath      string
	BookMaxPly    int
	Seed          int64
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Build assembles book, stockfish and random players into a Chain, skipping
// the ones that are not configured. Random is always last so a legal move is
// available whenever one exists.
func Build(cfg Config) (Player, io.Closer, error) {
	var (
		players []Player
		closers []io.Closer
	)

	if path := strings.TrimSpace(cfg.BookPath); path != "" {
		book, err := LoadBookFile(path, cfg.BookMaxPly, cfg.Seed)
		if err != nil {
			return nil, nil, err
		}
		players = append(players, book)
		obslog.L().Info("engine_book_loaded", zap.String("path", path), zap.Int("max_ply", book.maxPly))
	}

	if path := strings.TrimSpace(cfg.StockfishPath); path != "" {
		if file := strings.TrimSpace(cfg.PresetsFile); file != "" {
			n, err := LoadPresetsFile(file)
			if err != nil {
				return nil, nil, err
			}
			obslog.L().Info("engine_presets_loaded", zap.String("path", file), zap.Int("count", n))
		}
		preset, err := GetPreset(cfg.Preset)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Depth > 0 {
			preset.DepthCap = cfg.Depth
		}
		sf, err := NewStockfish(path, preset, cfg.Seed)
		if err != nil {
			return nil, nil, err
		}
		players = append(players, sf)
		closers = append(closers, sf)
		obslog.L().Info("engine_stockfish_ready",
			zap.String("path", path),
			zap.String("preset", preset.Name),
			zap.Int("depth", preset.DepthCap),
		)
	}

	players = append(players, NewRandom(cfg.Seed))
	closeAll := closerFunc(func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c.Close())
		}
		return errors.Join(errs...)
	})
	return NewChain(players...), closeAll, nil
}
