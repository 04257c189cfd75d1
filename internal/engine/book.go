package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/cheese-lichess-bot/internal/rules"
)

const defaultBookMaxPly = 12

// Book plays weighted moves from a Polyglot opening book.
type Book struct {
	book   *nchess.PolyglotBook
	maxPly int
	rnd    *Random
}

type BookEntry struct {
	Move   string
	Weight uint16
}

func LoadBook(r io.Reader, maxPly int, seed int64) (*Book, error) {
	book, err := nchess.LoadFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("load polyglot book: %w", err)
	}
	if maxPly <= 0 {
		maxPly = defaultBookMaxPly
	}
	return &Book{book: book, maxPly: maxPly, rnd: NewRandom(seed)}, nil
}

func LoadBookFile(path string, maxPly int, seed int64) (*Book, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open polyglot book %q: %w", path, err)
	}
	defer f.Close()
	return LoadBook(f, maxPly, seed)
}

// Entries lists the book moves for the position that are legal there.
func (b *Book) Entries(pos rules.Position) ([]BookEntry, error) {
	hash, err := nchess.NewZobristHasher().HashPosition(pos.FEN)
	if err != nil {
		return nil, fmt.Errorf("compute polyglot hash: %w", err)
	}
	found := b.book.FindMoves(nchess.ZobristHashToUint64(hash))
	out := make([]BookEntry, 0, len(found))
	for _, entry := range found {
		mv := nchess.DecodeMove(entry.Move).ToMove()
		uci := normalizeCastling(mv.String(), pos)
		if uci == "" {
			continue
		}
		out = append(out, BookEntry{Move: uci, Weight: entry.Weight})
	}
	return out, nil
}

func (b *Book) ChooseMove(ctx context.Context, pos rules.Position) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if pos.Ply() >= b.maxPly {
		return "", ErrNoMove
	}
	entries, err := b.Entries(pos)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", ErrNoMove
	}

	total := 0
	for _, e := range entries {
		total += int(e.Weight)
	}
	if total <= 0 {
		return entries[0].Move, nil
	}
	roll := b.rnd.fork().Intn(total)
	for _, e := range entries {
		roll -= int(e.Weight)
		if roll < 0 {
			return e.Move, nil
		}
	}
	return entries[len(entries)-1].Move, nil
}

// Polyglot encodes castling as king-takes-rook. Returns "" when the move is
// not legal in either form.
func normalizeCastling(uci string, pos rules.Position) string {
	uci = strings.ToLower(uci)
	if pos.IsLegal(uci) {
		return uci
	}
	switch uci {
	case "e1h1":
		uci = "e1g1"
	case "e1a1":
		uci = "e1c1"
	case "e8h8":
		uci = "e8g8"
	case "e8a8":
		uci = "e8c8"
	default:
		return ""
	}
	if pos.IsLegal(uci) {
		return uci
	}
	return ""
}
