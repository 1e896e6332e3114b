// Package backtest implements the replay gateway: a deterministic,
// simulated-clock substitute for the live venue. It presents the exact same
// Gateway contract to the agents, matching resting orders against recorded
// ticks and synthesizing fills, so a strategy run twice over the same series
// produces the same fills and wallet trajectory.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/patrickgrad/coin-trader/exchange"
	"github.com/patrickgrad/coin-trader/logger"
	"github.com/patrickgrad/coin-trader/model"
)

type Config struct {
	ProductID      string
	Meta           model.ProductMeta
	InitialFunds   map[string]float64 // currency -> balance
	Delta          time.Duration      // simulated time step
	WatchdogPeriod time.Duration
	AccountPeriod  time.Duration
	MakerFeeRate   float64
	TakerFeeRate   float64
}

type simOrder struct {
	id          string
	side        model.Side
	price       float64
	outstanding float64
}

// scheduled is a synthesized event waiting for its simulated delivery time.
type scheduled struct {
	at int64 // sim ms
	ev model.Event
}

// Exchange replays a recorded tick series. A dedicated goroutine advances
// simulated time in fixed deltas and marshals synthesized events into the
// decision loop; delivery is barrier-acked so the loop finishes every event
// of a step before time moves again.
type Exchange struct {
	cfg   Config
	ticks []model.Tick
	log   *logger.Logger

	mu         sync.Mutex
	now        int64 // sim clock, ms
	i          int   // next tick row
	openOrders map[string]*simOrder
	pending    []scheduled
	balance    map[string]float64
	seq        int
	lastTick   model.Tick

	events chan model.Event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, ticks []model.Tick, log *logger.Logger) *Exchange {
	funds := make(map[string]float64, len(cfg.InitialFunds))
	for c, v := range cfg.InitialFunds {
		funds[c] = v
	}
	return &Exchange{
		cfg:        cfg,
		ticks:      ticks,
		log:        log,
		openOrders: make(map[string]*simOrder),
		balance:    funds,
		events:     make(chan model.Event),
		done:       make(chan struct{}),
	}
}

func (b *Exchange) Start(ctx context.Context) error {
	if len(b.ticks) == 0 {
		return errors.New("backtest: empty tick series")
	}
	if b.cfg.WatchdogPeriod <= 0 {
		b.cfg.WatchdogPeriod = 15 * time.Second
	}
	if b.cfg.AccountPeriod <= 0 {
		b.cfg.AccountPeriod = 5 * time.Second
	}
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.now = b.ticks[0].Time.UnixMilli()
	b.lastTick = b.ticks[0]
	// Same housekeeping cadence the live gateway runs, with an immediate
	// account sync so the loop's wallet starts from venue truth.
	b.pending = append(b.pending,
		scheduled{at: b.now, ev: model.AccountSync{}},
		scheduled{at: b.now + b.cfg.WatchdogPeriod.Milliseconds(), ev: model.WatchdogTick{}},
	)
	go b.run()
	return nil
}

func (b *Exchange) Events() <-chan model.Event {
	return b.events
}

// Tokens never limits the replay: the rate budget is a live-venue concern.
func (b *Exchange) Tokens() int {
	return 1 << 30
}

func (b *Exchange) run() {
	defer close(b.events)
	defer close(b.done)

	// Instrument metadata arrives first, as the venue status channel would
	// deliver it before any tick.
	if !b.deliver([]model.Event{model.Status{Products: []model.ProductMeta{b.cfg.Meta}}}) {
		return
	}

	delta := b.cfg.Delta.Milliseconds()
	if delta <= 0 {
		delta = 1000
	}
	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}
		due, more := b.advance(delta)
		if !b.deliver(due) {
			return
		}
		if !more {
			b.log.Info("BacktestExchange", "tick series exhausted at t(%d)", b.now)
			return
		}
	}
}

// advance moves simulated time forward one delta: fire due scheduled events,
// match the ticks belonging to this step, and queue their deliveries for the
// next step. Returns false once the series is exhausted and only the
// self-rescheduling housekeeping remains, so the replay terminates.
func (b *Exchange) advance(delta int64) ([]model.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var due []model.Event
	var keep []scheduled
	for _, s := range b.pending {
		if s.at <= b.now {
			due = append(due, s.ev)
			switch s.ev.(type) {
			case model.WatchdogTick:
				keep = append(keep, scheduled{at: b.now + b.cfg.WatchdogPeriod.Milliseconds(), ev: model.WatchdogTick{}})
			case model.AccountSync:
				keep = append(keep, scheduled{at: b.now + b.cfg.AccountPeriod.Milliseconds(), ev: model.AccountSync{}})
			}
		} else {
			keep = append(keep, s)
		}
	}

	for b.i < len(b.ticks) && b.ticks[b.i].Time.UnixMilli() <= b.now {
		tick := b.ticks[b.i]
		b.lastTick = tick
		for _, fill := range b.match(tick) {
			keep = append(keep, scheduled{at: b.now + delta, ev: fill})
		}
		keep = append(keep, scheduled{at: b.now + delta, ev: tick})
		b.i++
	}

	b.pending = keep
	b.now += delta

	more := b.i < len(b.ticks)
	if !more {
		for _, s := range keep {
			if !housekeeping(s.ev) {
				more = true
				break
			}
		}
	}
	return due, more
}

// housekeeping events reschedule themselves forever and must not keep a
// finished replay alive.
func housekeeping(ev model.Event) bool {
	switch ev.(type) {
	case model.WatchdogTick, model.AccountSync:
		return true
	}
	return false
}

// match executes resting orders against one tick: the taker must be on the
// opposite side and the trade price must cross the order's price. Fills are
// capped at the order's outstanding size.
func (b *Exchange) match(tick model.Tick) []model.Fill {
	// Map iteration order is randomized; fills must come out in a stable
	// order for replays to be reproducible.
	ids := make([]string, 0, len(b.openOrders))
	for id := range b.openOrders {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var fills []model.Fill
	for _, id := range ids {
		o := b.openOrders[id]
		if o.side == tick.TakerSide {
			continue
		}
		crossed := (o.side == model.Buy && tick.Price < o.price) ||
			(o.side == model.Sell && tick.Price > o.price)
		if !crossed {
			continue
		}

		size := math.Min(o.outstanding, tick.Size)
		b.settle(o.side, size, o.price, b.cfg.MakerFeeRate)
		o.outstanding -= size
		if math.Abs(o.outstanding) < 1e-8 {
			delete(b.openOrders, id)
		}

		b.log.Info("BacktestExchange", "fill side(%s) size(%v) price(%v) t(%d)", o.side, size, o.price, b.now)
		fills = append(fills, model.Fill{
			ProductID:    b.cfg.ProductID,
			Side:         o.side,
			Size:         size,
			Price:        o.price,
			MakerFeeRate: b.cfg.MakerFeeRate,
			Time:         time.UnixMilli(b.now).UTC(),
		})
	}
	return fills
}

// settle applies an execution to the simulated wallet; the fee comes out of
// the quote currency.
func (b *Exchange) settle(side model.Side, size, price, feeRate float64) {
	base, quote := model.SplitProduct(b.cfg.ProductID)
	switch side {
	case model.Buy:
		b.balance[quote] -= price * size
		b.balance[base] += size
	case model.Sell:
		b.balance[base] -= size
		b.balance[quote] += price * size
	}
	b.balance[quote] -= price * size * feeRate
}

// holds derives per-currency hold amounts from the resting orders, the way
// the venue reports funds reserved for open orders.
func (b *Exchange) holds() map[string]float64 {
	base, quote := model.SplitProduct(b.cfg.ProductID)
	out := make(map[string]float64, 2)
	for _, o := range b.openOrders {
		if o.side == model.Buy {
			out[quote] += o.price * o.outstanding
		} else {
			out[base] += o.outstanding
		}
	}
	return out
}

// deliver pushes a batch of events into the loop and waits at a barrier
// until all of them have been processed.
func (b *Exchange) deliver(batch []model.Event) bool {
	for _, ev := range batch {
		select {
		case b.events <- ev:
		case <-b.ctx.Done():
			return false
		}
	}
	if len(batch) == 0 {
		return true
	}
	done := make(chan struct{})
	select {
	case b.events <- model.Barrier{Done: done}:
	case <-b.ctx.Done():
		return false
	}
	select {
	case <-done:
		return true
	case <-b.ctx.Done():
		return false
	}
}

func (b *Exchange) PlaceLimitOrder(req model.OrderRequest, cb exchange.PlaceCallback) {
	b.mu.Lock()
	b.seq++
	id := fmt.Sprintf("sim-%08d", b.seq)
	b.openOrders[id] = &simOrder{id: id, side: req.Side, price: req.Price, outstanding: req.Size}
	b.mu.Unlock()

	cb(model.PlaceResponse{ID: id, Price: req.Price, Size: req.Size})
}

func (b *Exchange) ReplaceLimitOrder(prev model.Order, req model.OrderRequest, cb exchange.PlaceCallback) {
	b.PlaceLimitOrder(req, cb)
	b.CancelOrder(prev.ID)
}

func (b *Exchange) PlaceMarketOrder(productID string, side model.Side, size float64, cb exchange.PlaceCallback) {
	b.mu.Lock()
	price := b.lastTick.BestAsk
	if side == model.Sell {
		price = b.lastTick.BestBid
	}
	b.settle(side, size, price, b.cfg.TakerFeeRate)
	b.seq++
	id := fmt.Sprintf("sim-%08d", b.seq)
	b.mu.Unlock()

	cb(model.PlaceResponse{ID: id, Price: price, Size: size, FilledSize: size})
}

func (b *Exchange) CancelOrder(orderID string) {
	b.mu.Lock()
	delete(b.openOrders, orderID)
	b.mu.Unlock()
}

func (b *Exchange) GetOrders() ([]model.OpenOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.OpenOrder, 0, len(b.openOrders))
	for _, o := range b.openOrders {
		out = append(out, model.OpenOrder{
			ID:        o.id,
			Side:      o.side,
			ProductID: b.cfg.ProductID,
			Price:     o.price,
			Size:      o.outstanding,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *Exchange) GetAccounts() ([]model.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	holds := b.holds()
	out := make([]model.Account, 0, len(b.balance))
	for c, v := range b.balance {
		out = append(out, model.Account{
			Currency:  c,
			Available: v - holds[c],
			Hold:      holds[c],
			Balance:   v,
		})
	}
	return out, nil
}

// Balance reports the simulated wallet, for end-of-run evaluation.
func (b *Exchange) Balance(currency string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance[currency]
}

func (b *Exchange) Close() error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	return nil
}
