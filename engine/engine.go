// Package engine runs the single-threaded decision loop. It is the only
// goroutine that touches agent or wallet state; market data, housekeeping
// triggers and replay events all arrive as immutable messages on the
// gateway's event channel.
package engine

import (
	"context"
	"sync/atomic"

	"github.com/patrickgrad/coin-trader/agent"
	"github.com/patrickgrad/coin-trader/checkpoint"
	"github.com/patrickgrad/coin-trader/exchange"
	"github.com/patrickgrad/coin-trader/logger"
	"github.com/patrickgrad/coin-trader/model"
)

type instrument struct {
	productID string
	// buyer first, seller second: fan-out order within a tick is fixed.
	agents [2]*agent.Agent
	base   string
	quote  string
}

type Engine struct {
	gw  exchange.Gateway
	log *logger.Logger

	wallet      *model.Wallet
	products    []string
	instruments map[string]*instrument
	currencies  map[string]bool

	ref   *refTracker
	fault atomic.Bool
}

func New(gw exchange.Gateway, wallet *model.Wallet, log *logger.Logger) *Engine {
	return &Engine{
		gw:          gw,
		log:         log,
		wallet:      wallet,
		instruments: make(map[string]*instrument),
		currencies:  make(map[string]bool),
		ref:         newRefTracker(),
	}
}

// AddInstrument registers the buyer/seller pair for one product.
func (e *Engine) AddInstrument(productID string, buyer, seller *agent.Agent) {
	base, quote := model.SplitProduct(productID)
	e.products = append(e.products, productID)
	e.instruments[productID] = &instrument{
		productID: productID,
		agents:    [2]*agent.Agent{buyer, seller},
		base:      base,
		quote:     quote,
	}
	e.currencies[base] = true
	e.currencies[quote] = true
}

// Faulted reports whether an unhandled fault was contained. The supervising
// process uses it to exit non-zero for an external restart.
func (e *Engine) Faulted() bool {
	return e.fault.Load()
}

// Run consumes events until the context is cancelled, the gateway closes its
// channel (end of replay data), or a fault is contained. On the way out it
// cancels every resting order.
func (e *Engine) Run(ctx context.Context) {
	defer e.closeAgents()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.gw.Events():
			if !ok {
				return
			}
			e.dispatch(ev)
			if e.fault.Load() {
				return
			}
		}
	}
}

// dispatch routes one event, containing any panic from agent or gateway code
// so a bad callback cannot silently corrupt the loop.
func (e *Engine) dispatch(ev model.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Engine", "fault while handling %T: %v", ev, r)
			e.fault.Store(true)
		}
	}()

	switch m := ev.(type) {
	case model.Tick:
		e.handleTick(m)
	case model.Status:
		e.handleStatus(m)
	case model.Fill:
		e.handleFill(m)
	case model.WatchdogTick:
		e.runWatchdog()
	case model.AccountSync:
		e.refreshAccounts()
	case model.Barrier:
		close(m.Done)
	}
}

func (e *Engine) handleTick(tick model.Tick) {
	inst, ok := e.instruments[tick.ProductID]
	if !ok {
		return
	}
	refPrice := e.ref.Observe(tick)
	e.log.Info("Engine", "tick product(%s) ref(%v) price(%v) taker(%s) bid(%v) ask(%v)",
		tick.ProductID, refPrice, tick.Price, tick.TakerSide, tick.BestBid, tick.BestAsk)
	for _, ag := range inst.agents {
		ag.OnTick(tick, refPrice)
	}
}

func (e *Engine) handleStatus(status model.Status) {
	for _, meta := range status.Products {
		if inst, ok := e.instruments[meta.ProductID]; ok {
			for _, ag := range inst.agents {
				ag.SetMeta(meta)
			}
		}
	}
}

// handleFill settles the wallet first, then notifies the owning side, so a
// fill is always observed after the balance move it caused.
func (e *Engine) handleFill(fill model.Fill) {
	inst, ok := e.instruments[fill.ProductID]
	if !ok {
		e.log.Warn("Engine", "fill for untraded product %s ignored", fill.ProductID)
		return
	}

	e.wallet.ApplyFill(fill.Side, inst.base, inst.quote, fill.Size, fill.Price, fill.MakerFeeRate)

	for _, ag := range inst.agents {
		if ag.Side() == fill.Side {
			ag.OnFill(fill)
		}
	}
}

// refreshAccounts re-adopts venue wallet truth. Runs rarely enough that the
// blocking token acquire inside the gateway is acceptable.
func (e *Engine) refreshAccounts() {
	accounts, err := e.gw.GetAccounts()
	if err != nil {
		e.log.Warn("Engine", "account refresh failed: %v", err)
		return
	}
	e.wallet.Refresh(accounts, e.currencies)
	for _, c := range e.wallet.Currencies() {
		f, _ := e.wallet.Get(c)
		e.log.Info("Engine", "%s available(%v) hold(%v) balance(%v)", c, f.Available, f.Hold, f.Balance)
	}
}

func (e *Engine) closeAgents() {
	for _, product := range e.products {
		for _, ag := range e.instruments[product].agents {
			ag.Close()
		}
	}
}

// Snapshot exports wallet balances and per-agent adaptive state.
func (e *Engine) Snapshot() checkpoint.Snapshot {
	snap := checkpoint.NewSnapshot()
	for _, c := range e.wallet.Currencies() {
		f, _ := e.wallet.Get(c)
		snap.Wallet[c] = checkpoint.WalletEntry{Available: f.Available, Hold: f.Hold}
	}
	for _, product := range e.products {
		for _, ag := range e.instruments[product].agents {
			snap.Agents[checkpoint.AgentKey(product, string(ag.Side()))] = ag.Snapshot()
		}
	}
	return snap
}

// Restore adopts a checkpoint taken by a previous process.
func (e *Engine) Restore(snap checkpoint.Snapshot) {
	for currency, entry := range snap.Wallet {
		if e.currencies[currency] {
			e.wallet.Set(currency, entry.Available, entry.Hold)
		}
	}
	for _, product := range e.products {
		for _, ag := range e.instruments[product].agents {
			if st, ok := snap.Agents[checkpoint.AgentKey(product, string(ag.Side()))]; ok {
				ag.Restore(st)
			}
		}
	}
}
