package rules

import (
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Color identifies a playing role. First moves first (white in chess).
type Color string

const (
	First  Color = "white"
	Second Color = "black"

	White = First
	Black = Second
)

func (c Color) String() string { return string(c) }

func (c Color) Opposite() Color {
	if c == First {
		return Second
	}
	return First
}

func ParseColor(s string) Color {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w", "first":
		return First
	case "black", "b", "second":
		return Second
	default:
		return ""
	}
}

func colorFrom(c nchess.Color) Color {
	if c == nchess.White {
		return First
	}
	return Second
}
