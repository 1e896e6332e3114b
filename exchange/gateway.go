// Package exchange defines the gateway contract that mediates all
// agent<->venue interaction. Two implementations exist: Live (rate-limited
// calls against the real venue plus its market-data feed) and the replay
// gateway in exchange/backtest. Both deliver market events over a single
// channel consumed by the decision loop, so agents cannot tell them apart.
package exchange

import (
	"context"

	"github.com/patrickgrad/coin-trader/model"
)

// Token costs per venue-mutating call.
const (
	CostCancel   = 1
	CostPlace    = 1
	CostReplace  = 2
	CostAccounts = 1
	CostOrders   = 2
)

// PlaceCallback receives the raw placement outcome. Venue rejections arrive
// as response fields, never as panics or errors.
type PlaceCallback func(model.PlaceResponse)

type Gateway interface {
	// Start begins delivering events; Close releases every background
	// goroutine within a bounded time.
	Start(ctx context.Context) error
	Close() error

	// Events is the sole stream of market data and housekeeping triggers.
	Events() <-chan model.Event

	PlaceLimitOrder(req model.OrderRequest, cb PlaceCallback)
	// ReplaceLimitOrder places the new order first, then cancels the
	// previous one. A failed cancel after a successful place leaves a
	// duplicate on the venue; the watchdog repairs it.
	ReplaceLimitOrder(prev model.Order, req model.OrderRequest, cb PlaceCallback)
	PlaceMarketOrder(productID string, side model.Side, size float64, cb PlaceCallback)
	CancelOrder(orderID string)

	GetAccounts() ([]model.Account, error)
	GetOrders() ([]model.OpenOrder, error)

	// Tokens reports the currently available request budget. The per-tick
	// hot path checks it instead of blocking the decision loop.
	Tokens() int
}
