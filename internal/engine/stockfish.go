package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-lichess-bot/internal/engine/uci"
	"github.com/park285/cheese-lichess-bot/internal/obslog"
	"github.com/park285/cheese-lichess-bot/internal/rules"
)

// Stockfish searches with a pooled UCI engine and picks among the top
// MultiPV lines using the preset's candidate weights.
type Stockfish struct {
	pool   *uci.Pool
	preset Preset
	rnd    *Random
}

func NewStockfish(binaryPath string, preset Preset, seed int64) (*Stockfish, error) {
	if err := ValidatePreset(preset); err != nil {
		return nil, err
	}
	pool, err := uci.NewPool(uci.PoolConfig{BinaryPath: binaryPath})
	if err != nil {
		return nil, err
	}
	return &Stockfish{pool: pool, preset: preset, rnd: NewRandom(seed)}, nil
}

func (s *Stockfish) Preset() Preset { return s.preset }

func (s *Stockfish) ChooseMove(ctx context.Context, pos rules.Position) (string, error) {
	if len(pos.Legal) == 0 {
		return "", ErrNoMove
	}
	session, err := s.pool.Acquire(ctx, s.preset.options())
	if err != nil {
		return "", fmt.Errorf("acquire engine: %w", err)
	}
	var releaseErr error
	defer func() { s.pool.Release(session, releaseErr) }()

	if pos.Ply() == 0 {
		if err := session.NewGame(ctx); err != nil {
			releaseErr = err
			return "", err
		}
	}

	start := time.Now()
	resp, err := session.Search(ctx, uci.SearchRequest{
		FEN:    pos.InitialFEN,
		Moves:  pos.Moves,
		Limits: s.preset.limits(),
	})
	if errors.Is(err, uci.ErrNoBestMove) {
		return "", ErrNoMove
	}
	if err != nil {
		releaseErr = err
		return "", fmt.Errorf("engine search: %w", err)
	}

	chosen := pickCandidate(s.preset, resp.Candidates, s.rnd.fork())
	if chosen == "" || !pos.IsLegal(chosen) {
		chosen = resp.BestMove
	}
	if !pos.IsLegal(chosen) {
		return "", fmt.Errorf("engine proposed illegal move %q", chosen)
	}
	obslog.L().Debug("engine_search",
		zap.String("preset", s.preset.Name),
		zap.Int("ply", pos.Ply()),
		zap.Int("candidates", len(resp.Candidates)),
		zap.String("best", resp.BestMove),
		zap.String("chosen", chosen),
		zap.Duration("took", time.Since(start)),
	)
	return chosen, nil
}

func (s *Stockfish) Close() error { return s.pool.Close() }

// pickCandidate draws one of the first PrimaryChoices lines, weighted by
// CandidateWeights. Returns "" when there is nothing to draw from.
func pickCandidate(p Preset, candidates []uci.Candidate, r *rand.Rand) string {
	limit := min(p.PrimaryChoices, len(candidates), len(p.CandidateWeights))
	if limit <= 0 {
		return ""
	}
	total := 0.0
	for i := 0; i < limit; i++ {
		total += p.CandidateWeights[i]
	}
	if total <= 0 {
		return candidates[0].Move
	}
	threshold := r.Float64() * total
	for i := 0; i < limit; i++ {
		threshold -= p.CandidateWeights[i]
		if threshold <= 0 {
			return candidates[i].Move
		}
	}
	return candidates[limit-1].Move
}
