package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/park285/cheese-lichess-bot/internal/rules"
)

// Random plays a uniformly chosen legal move.
type Random struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRandom(seed int64) *Random {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Random{rnd: rand.New(rand.NewSource(seed))}
}

func (r *Random) ChooseMove(ctx context.Context, pos rules.Position) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(pos.Legal) == 0 {
		return "", ErrNoMove
	}
	r.mu.Lock()
	i := r.rnd.Intn(len(pos.Legal))
	r.mu.Unlock()
	return pos.Legal[i], nil
}

// fork derives an independent generator so callers don't hold the lock
// across a whole selection.
func (r *Random) fork() *rand.Rand {
	r.mu.Lock()
	seed := r.rnd.Int63()
	r.mu.Unlock()
	return rand.New(rand.NewSource(seed))
}
