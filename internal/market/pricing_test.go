package market

import (
	"math"
	"math/rand"
	"testing"
)

func TestRandomWalkNeverBreaksFloor(t *testing.T) {
	walk := NewRandomWalk(rand.NewSource(1))
	price := 0.02
	for i := 0; i < 10_000; i++ {
		price = walk.Next(price)
		if price < MinPrice {
			t.Fatalf("iteration %d: price %v below floor", i, price)
		}
	}
}

func TestRandomWalkFloorsDegenerateInputs(t *testing.T) {
	walk := NewRandomWalk(rand.NewSource(7))
	for _, current := range []float64{0, -5, MinPrice} {
		if got := walk.Next(current); got < MinPrice {
			t.Fatalf("current=%v got=%v want >= %v", current, got, MinPrice)
		}
	}
}

func TestRandomWalkMovesPrices(t *testing.T) {
	walk := NewRandomWalk(rand.NewSource(42))
	price := 100.0
	var moved bool
	for i := 0; i < 100; i++ {
		next := walk.Next(price)
		if next != price {
			moved = true
		}
		price = next
	}
	if !moved {
		t.Fatalf("expected the walk to move the price at least once")
	}
}

func TestRandomWalkDeterministicForSeed(t *testing.T) {
	a := NewRandomWalk(rand.NewSource(99))
	b := NewRandomWalk(rand.NewSource(99))
	price := 250.0
	pa, pb := price, price
	for i := 0; i < 50; i++ {
		pa = a.Next(pa)
		pb = b.Next(pb)
		if math.Abs(pa-pb) > 1e-12 {
			t.Fatalf("iteration %d: %v vs %v", i, pa, pb)
		}
	}
}
