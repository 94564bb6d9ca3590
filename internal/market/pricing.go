package market

import (
	"math/rand"
	"sync"
	"time"
)

// Price floor and random-walk parameters. The walk has two regimes: most
// ticks draw a small Gaussian relative change, and a rare fat-tail tick
// draws a uniform change of up to ±20%.
const (
	MinPrice = 0.01

	fatTailProb  = 0.05
	fatTailRange = 0.20
	gaussStdDev  = 0.02
)

// Model produces the next price from the current one. Implementations must
// be safe for concurrent use; tests swap in deterministic sequences.
type Model interface {
	Next(current float64) float64
}

// RandomWalk is the production Model.
type RandomWalk struct {
	mu   sync.Mutex
	rand *rand.Rand
}

// NewRandomWalk builds the production model. A nil src seeds from the clock.
func NewRandomWalk(src rand.Source) *RandomWalk {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &RandomWalk{rand: rand.New(src)}
}

func (m *RandomWalk) Next(current float64) float64 {
	m.mu.Lock()
	var change float64
	if m.rand.Float64() < fatTailProb {
		change = -fatTailRange + 2*fatTailRange*m.rand.Float64()
	} else {
		change = m.rand.NormFloat64() * gaussStdDev
	}
	m.mu.Unlock()

	next := current * (1 + change)
	if next < MinPrice {
		next = MinPrice
	}
	return next
}
