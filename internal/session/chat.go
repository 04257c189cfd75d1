package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-lichess-bot/internal/obslog"
	"github.com/park285/cheese-lichess-bot/internal/rules"
)

const (
	roomPlayer    = "player"
	roomSpectator = "spectator"

	chatTimeout = 5 * time.Second
)

// Renderer is the message catalog seen by Chat.
type Renderer interface {
	Has(key string) bool
	Render(key string, data any) (string, error)
}

// Chat posts catalog lines into game rooms. Every failure is logged and swallowed.
type Chat struct {
	chatter Chatter
	catalog Renderer
	engine  string
}

// NewChat returns nil when either side is missing; a nil *Chat stays silent.
func NewChat(chatter Chatter, catalog Renderer, engineName string) *Chat {
	if chatter == nil || catalog == nil {
		return nil
	}
	return &Chat{chatter: chatter, catalog: catalog, engine: engineName}
}

type chatData struct {
	Opponent string
	Color    string
	Status   string
	Engine   string
}

func (c *Chat) Greet(ctx context.Context, gameID, opponent string, color rules.Color) {
	if c == nil {
		return
	}
	data := chatData{Opponent: orSomeone(opponent), Color: color.String(), Engine: c.engine}
	c.say(ctx, gameID, roomPlayer, "game.greeting", data)
	c.say(ctx, gameID, roomSpectator, "game.spectator", data)
}

// Farewell picks the line from the bot's point of view of the result. A
// catalog line for the exact status (game.farewell.status.<status>) wins over
// the win/loss/draw lines.
func (c *Chat) Farewell(ctx context.Context, gameID, opponent string, color rules.Color, status, winner string) {
	if c == nil {
		return
	}
	c.say(ctx, gameID, roomPlayer, c.farewellKey(color, status, winner), chatData{Opponent: orSomeone(opponent), Color: color.String(), Status: status, Engine: c.engine})
}

func (c *Chat) farewellKey(color rules.Color, status, winner string) string {
	if status != "" {
		if key := "game.farewell.status." + status; c.catalog.Has(key) {
			return key
		}
	}
	switch w := rules.ParseColor(winner); {
	case w == color:
		return "game.farewell.win"
	case w == color.Opposite():
		return "game.farewell.loss"
	case status == "draw" || status == "stalemate":
		return "game.farewell.draw"
	}
	return "game.farewell.other"
}

func (c *Chat) say(ctx context.Context, gameID, room, key string, data chatData) {
	text, err := c.catalog.Render(key, data)
	if err != nil {
		obslog.L().Warn("game_chat_render_error", zap.String("game_id", gameID), zap.String("key", key), zap.Error(err))
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), chatTimeout)
	defer cancel()
	if err := c.chatter.Chat(cctx, gameID, room, text); err != nil {
		obslog.L().Warn("game_chat_error", zap.String("game_id", gameID), zap.String("room", room), zap.Error(err))
	}
}

func orSomeone(name string) string {
	if name == "" {
		return "friend"
	}
	return name
}
