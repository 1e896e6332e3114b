package engine

import (
	"time"

	talib "github.com/markcheno/go-talib"

	"github.com/patrickgrad/coin-trader/model"
)

// tickLookback bounds the window the reference price is averaged over.
const tickLookback = 15 * time.Second

type sample struct {
	at    time.Time
	price float64
}

// refTracker maintains a rolling per-product window of trade prices and
// derives the reference price the agents quote around.
type refTracker struct {
	samples map[string][]sample
}

func newRefTracker() *refTracker {
	return &refTracker{samples: make(map[string][]sample)}
}

// Observe folds one tick into the window and returns the current reference
// price for its product.
func (r *refTracker) Observe(tick model.Tick) float64 {
	window := append(r.samples[tick.ProductID], sample{at: tick.Time, price: tick.Price})

	cutoff := tick.Time.Add(-tickLookback)
	for len(window) > 0 && window[0].at.Before(cutoff) {
		window = window[1:]
	}
	r.samples[tick.ProductID] = window

	prices := make([]float64, len(window))
	for i, s := range window {
		prices[i] = s.price
	}
	sma := talib.Sma(prices, len(prices))
	return sma[len(sma)-1]
}
