package session

import "sync"

// Context carries the opponent name recorded by the last accepted challenge
// into the color resolution of the next game. It is the only state that
// outlives a single game.
type Context struct {
	mu       sync.Mutex
	opponent string
}

// NewContext returns an empty context.
func NewContext() *Context { return &Context{} }

// Opponent is the last recorded challenger, or "" when none.
func (c *Context) Opponent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opponent
}

// SetOpponent overwrites the recorded challenger.
func (c *Context) SetOpponent(name string) {
	c.mu.Lock()
	c.opponent = name
	c.mu.Unlock()
}

// Clear forgets the recorded challenger.
func (c *Context) Clear() { c.SetOpponent("") }
