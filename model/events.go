package model

import "time"

// Event is a message crossing a producer goroutine into the decision loop.
// All events are immutable once sent; the loop is the only consumer.
type Event interface {
	event()
}

// Tick is a market trade reported by the venue's ticker stream.
type Tick struct {
	ProductID string
	Price     float64
	TakerSide Side
	Size      float64
	BestBid   float64
	BestAsk   float64
	Time      time.Time
}

// ProductMeta carries the instrument rounding rules. Orders cannot legally
// be sized until this has arrived.
type ProductMeta struct {
	ProductID      string
	BaseMinSize    float64
	QuoteIncrement float64
	BaseIncrement  float64
}

// Status delivers product metadata from the venue status channel.
type Status struct {
	Products []ProductMeta
}

// Fill is a (partial) match of one of our resting orders. Only delivered
// when this process was the maker.
type Fill struct {
	ProductID    string
	Side         Side
	Size         float64
	Price        float64
	MakerFeeRate float64
	Time         time.Time
}

// WatchdogTick asks the loop to run one reconciliation pass.
type WatchdogTick struct{}

// AccountSync asks the loop to refresh the wallet from venue truth.
type AccountSync struct{}

// Barrier lets the replay gateway keep simulated time in lockstep with the
// decision loop: the loop closes Done once every earlier event has been
// fully processed. Live gateways never send one.
type Barrier struct {
	Done chan struct{}
}

func (Tick) event()         {}
func (Status) event()       {}
func (Fill) event()         {}
func (WatchdogTick) event() {}
func (AccountSync) event()  {}
func (Barrier) event()      {}
