package lichess

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event kinds on /api/stream/event.
const (
	EventChallenge         = "challenge"
	EventChallengeCanceled = "challengeCanceled"
	EventChallengeDeclined = "challengeDeclined"
	EventGameStart         = "gameStart"
	EventGameFinish        = "gameFinish"
)

// Update kinds on /api/bot/game/stream/{id}.
const (
	UpdateGameFull     = "gameFull"
	UpdateGameState    = "gameState"
	UpdateChatLine     = "chatLine"
	UpdateOpponentGone = "opponentGone"
)

type Event struct {
	Type      string     `json:"type"`
	Challenge *Challenge `json:"challenge,omitempty"`
	Game      *GameInfo  `json:"game,omitempty"`
}

// GameID returns the game identifier carried by gameStart/gameFinish events.
func (e Event) GameID() string {
	if e.Game == nil {
		return ""
	}
	if e.Game.GameID != "" {
		return e.Game.GameID
	}
	return e.Game.ID
}

type User struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Rating  int    `json:"rating,omitempty"`
	AILevel int    `json:"aiLevel,omitempty"`
}

// Username tolerates a nil receiver so callers can pass optional players straight through.
func (u *User) Username() string {
	if u == nil {
		return ""
	}
	return u.Name
}

type Variant struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Short string `json:"short,omitempty"`
}

type TimeControl struct {
	Type        string `json:"type"`
	Limit       int    `json:"limit,omitempty"`
	Increment   int    `json:"increment,omitempty"`
	DaysPerTurn int    `json:"daysPerTurn,omitempty"`
	Show        string `json:"show,omitempty"`
}

// Describe renders the time control for logs, "n/a" when absent.
func (tc *TimeControl) Describe() string {
	if tc == nil {
		return "n/a"
	}
	switch {
	case tc.Show != "":
		return tc.Show
	case tc.Type == "clock":
		return fmt.Sprintf("%d+%d", tc.Limit/60, tc.Increment)
	case tc.Type == "correspondence":
		return fmt.Sprintf("%dd", tc.DaysPerTurn)
	case tc.Type != "":
		return tc.Type
	default:
		return "n/a"
	}
}

type Challenge struct {
	ID          string       `json:"id"`
	URL         string       `json:"url,omitempty"`
	Status      string       `json:"status,omitempty"`
	Challenger  *User        `json:"challenger,omitempty"`
	DestUser    *User        `json:"destUser,omitempty"`
	Variant     Variant      `json:"variant"`
	Rated       bool         `json:"rated"`
	Speed       string       `json:"speed,omitempty"`
	TimeControl *TimeControl `json:"timeControl,omitempty"`
	Color       string       `json:"color,omitempty"`
}

type Opponent struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Rating   int    `json:"rating,omitempty"`
	AI       int    `json:"ai,omitempty"`
}

type GameInfo struct {
	ID       string    `json:"id,omitempty"`
	GameID   string    `json:"gameId"`
	FullID   string    `json:"fullId,omitempty"`
	Color    string    `json:"color,omitempty"`
	FEN      string    `json:"fen,omitempty"`
	Opponent *Opponent `json:"opponent,omitempty"`
	IsMyTurn bool      `json:"isMyTurn,omitempty"`
	Source   string    `json:"source,omitempty"`
	Winner   string    `json:"winner,omitempty"`
	Rated    bool      `json:"rated,omitempty"`
}

type GameFull struct {
	ID         string    `json:"id"`
	Variant    Variant   `json:"variant"`
	Rated      bool      `json:"rated"`
	Speed      string    `json:"speed,omitempty"`
	White      *User     `json:"white,omitempty"`
	Black      *User     `json:"black,omitempty"`
	InitialFEN string    `json:"initialFen"`
	State      GameState `json:"state"`
}

type GameState struct {
	Type   string `json:"type,omitempty"`
	Moves  string `json:"moves"`
	WTime  int64  `json:"wtime,omitempty"`
	BTime  int64  `json:"btime,omitempty"`
	WInc   int64  `json:"winc,omitempty"`
	BInc   int64  `json:"binc,omitempty"`
	Status string `json:"status"`
	Winner string `json:"winner,omitempty"`
	WDraw  bool   `json:"wdraw,omitempty"`
	BDraw  bool   `json:"bdraw,omitempty"`
}

// InProgress reports whether the status means the game is still being played.
func (s GameState) InProgress() bool { return StatusInProgress(s.Status) }

func StatusInProgress(status string) bool {
	switch strings.TrimSpace(status) {
	case "created", "started":
		return true
	default:
		return false
	}
}

type ChatLine struct {
	Username string `json:"username"`
	Text     string `json:"text"`
	Room     string `json:"room"`
}

// GameUpdate is one line of a game stream. Exactly one of Full, State or Chat
// is set for the known kinds; other kinds keep only Type and Raw.
type GameUpdate struct {
	Type  string
	Full  *GameFull
	State *GameState
	Chat  *ChatLine
	Raw   json.RawMessage
}

func (u *GameUpdate) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	*u = GameUpdate{Type: head.Type, Raw: append(json.RawMessage(nil), data...)}
	switch head.Type {
	case UpdateGameFull:
		u.Full = new(GameFull)
		return json.Unmarshal(data, u.Full)
	case UpdateGameState:
		u.State = new(GameState)
		return json.Unmarshal(data, u.State)
	case UpdateChatLine:
		u.Chat = new(ChatLine)
		return json.Unmarshal(data, u.Chat)
	}
	return nil
}

type Account struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Title    string `json:"title,omitempty"`
}

// IsBot reports whether the account has been upgraded to a bot account.
func (a *Account) IsBot() bool { return a != nil && a.Title == "BOT" }

// APIError is returned for non-2xx responses.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lichess api error: status=%d body=%s", e.Status, e.Body)
}
