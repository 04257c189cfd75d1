package archive

import (
	"fmt"
	"strings"
	"time"
)

const startPos = "startpos"

// BuildPGN renders the game from its SAN list with the seven-tag roster plus
// FEN/SetUp for games that did not start from the initial position.
func BuildPGN(g *Game) string {
	if g == nil {
		return ""
	}
	result := g.PGNResult()
	date := g.StartedAt
	if date.IsZero() {
		date = time.Now()
	}

	var b strings.Builder
	tag := func(name, value string) {
		fmt.Fprintf(&b, "[%s \"%s\"]\n", name, sanitizePGN(value))
	}
	tag("Event", eventName(g))
	tag("Site", "https://lichess.org/"+g.ID)
	tag("Date", date.Format("2006.01.02"))
	tag("Round", "-")
	tag("White", orUnknown(g.White))
	tag("Black", orUnknown(g.Black))
	tag("Result", result)
	if v := strings.TrimSpace(g.Variant); v != "" && v != "standard" {
		tag("Variant", v)
	}
	if fen := strings.TrimSpace(g.InitialFEN); fen != "" && fen != startPos {
		tag("FEN", fen)
		tag("SetUp", "1")
	}
	if status := strings.TrimSpace(g.Status); status != "" {
		tag("Termination", status)
	}
	b.WriteString("\n")

	ply := firstPly(g.InitialFEN)
	for i, san := range g.MovesSAN {
		moveNo := (ply+i)/2 + 1
		switch {
		case (ply+i)%2 == 0:
			fmt.Fprintf(&b, "%d. ", moveNo)
		case i == 0:
			fmt.Fprintf(&b, "%d... ", moveNo)
		}
		b.WriteString(strings.TrimSpace(san))
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

// firstPly is 1 when the initial FEN has black to move.
func firstPly(fen string) int {
	fields := strings.Fields(fen)
	if len(fields) > 1 && fields[1] == "b" {
		return 1
	}
	return 0
}

func eventName(g *Game) string {
	kind := "Casual"
	if g.Rated {
		kind = "Rated"
	}
	if g.Speed != "" {
		return fmt.Sprintf("%s %s game", kind, g.Speed)
	}
	return kind + " game"
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "?"
	}
	return s
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
