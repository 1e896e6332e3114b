// Package agent implements the per-side trading agents. One Agent type
// carries the whole decision state machine; the buyer/seller split lives in
// a small SideProfile capability record instead of two subtypes.
package agent

import (
	"math"
	"time"

	"github.com/patrickgrad/coin-trader/exchange"
	"github.com/patrickgrad/coin-trader/logger"
	"github.com/patrickgrad/coin-trader/model"
)

// AlphaConfig tunes the closed-loop controller for the quoted offset.
// Alpha is a fraction of the reference price, clamped to [Lower, Upper].
type AlphaConfig struct {
	Initial    float64
	Lower      float64
	Upper      float64
	Decay      float64       // idle divisor
	FillBump   float64       // multiplier applied on every fill
	RapidBoost float64       // multiplier on rapid completed trades; 0 disables
	Backoff    float64       // multiplier applied on funds exhaustion
	LongIdle   time.Duration // idle threshold before decay
	RapidWin   time.Duration // window defining a rapid repeat trade
}

// Config is the per-instrument agent configuration.
type Config struct {
	ProductID      string
	PDiffThresh    float64
	VDiffThresh    float64
	PortfolioRatio float64
	Alpha          AlphaConfig
}

// State is the adaptive state carried across restarts by a checkpoint.
type State struct {
	Alpha           float64   `json:"alpha"`
	LastAlphaUpdate time.Time `json:"last_alpha_update"`
	LastTrade       time.Time `json:"last_trade"`
}

// Agent owns one resting order on one side of one instrument. Every method
// is invoked from the decision loop only, in order, never re-entrantly.
type Agent struct {
	cfg     Config
	profile SideProfile

	base  string
	quote string

	order model.Order
	meta  *model.ProductMeta

	alpha           float64
	lastAlphaUpdate time.Time
	lastTrade       time.Time

	wallet *model.Wallet
	gw     exchange.Gateway
	log    *logger.Logger

	closed bool

	// clock follows event time (tick/fill timestamps), not the wall, so
	// replay runs behave identically to live ones.
	clock time.Time
}

func newAgent(cfg Config, profile SideProfile, wallet *model.Wallet, gw exchange.Gateway, log *logger.Logger) *Agent {
	base, quote := model.SplitProduct(cfg.ProductID)
	return &Agent{
		cfg:     cfg,
		profile: profile,
		base:    base,
		quote:   quote,
		order:   model.EmptyOrder(),
		alpha:   cfg.Alpha.Initial,
		wallet:  wallet,
		gw:      gw,
		log:     log,
	}
}

func NewBuyer(cfg Config, wallet *model.Wallet, gw exchange.Gateway, log *logger.Logger) *Agent {
	return newAgent(cfg, buyerProfile(), wallet, gw, log)
}

func NewSeller(cfg Config, wallet *model.Wallet, gw exchange.Gateway, log *logger.Logger) *Agent {
	return newAgent(cfg, sellerProfile(), wallet, gw, log)
}

func (a *Agent) Side() model.Side          { return a.profile.Side }
func (a *Agent) ProductID() string         { return a.cfg.ProductID }
func (a *Agent) CurrentOrder() model.Order { return a.order }
func (a *Agent) Alpha() float64            { return a.alpha }

// ResetOrder drops our belief that an order is resting. The next tick will
// quote fresh.
func (a *Agent) ResetOrder() {
	a.order = model.EmptyOrder()
}

// SetMeta adopts the instrument rounding rules from a venue status message.
func (a *Agent) SetMeta(meta model.ProductMeta) {
	m := meta
	a.meta = &m
}

// Snapshot exports the adaptive state for checkpointing.
func (a *Agent) Snapshot() State {
	return State{Alpha: a.alpha, LastAlphaUpdate: a.lastAlphaUpdate, LastTrade: a.lastTrade}
}

// Restore adopts checkpointed adaptive state at startup.
func (a *Agent) Restore(s State) {
	a.alpha = a.clampAlpha(s.Alpha)
	a.lastAlphaUpdate = s.LastAlphaUpdate
	a.lastTrade = s.LastTrade
}

// OnTick runs one decision step against the latest market state.
func (a *Agent) OnTick(tick model.Tick, refPrice float64) {
	a.clock = tick.Time
	alphaUpdated := a.maybeDecayAlpha()

	if a.meta == nil {
		a.notReady("product metadata not known yet")
		return
	}
	if refPrice <= 0 {
		a.notReady("no reference price yet")
		return
	}

	price := a.profile.Price(a, tick, refPrice)
	size, ok := a.profile.Size(a, price)
	if !ok {
		a.notReady("wallet not populated yet")
		return
	}

	priceThresh := false
	sizeThresh := false
	if a.order.Opened() {
		priceThresh = math.Abs(price-a.order.Price)/a.order.Price >= a.cfg.PDiffThresh
		if a.order.Filled() {
			// Outstanding already consumed: the order is gone and a new
			// quote is always warranted.
			sizeThresh = true
		} else {
			sizeThresh = math.Abs(a.order.Outstanding-size)/a.order.Outstanding >= a.cfg.VDiffThresh
		}
	}

	req := model.OrderRequest{
		ProductID: a.cfg.ProductID,
		Side:      a.profile.Side,
		Price:     price,
		Size:      size,
		PostOnly:  true,
	}

	switch {
	case !a.order.Opened():
		if a.gw.Tokens() < exchange.CostPlace {
			a.logInfo("skip tick, %d tokens available", a.gw.Tokens())
			return
		}
		a.order = model.Order{Price: price, Size: size, Outstanding: size}
		a.gw.PlaceLimitOrder(req, a.onOrderPlaced)
		a.logInfo("new order price(%v) size(%v) alpha(%v)", price, size, a.alpha)

	case alphaUpdated || priceThresh || sizeThresh:
		if a.gw.Tokens() < exchange.CostReplace {
			a.logInfo("skip replace, %d tokens available", a.gw.Tokens())
			return
		}
		prev := a.order
		a.order = model.Order{Price: price, Size: size, Outstanding: size}
		a.gw.ReplaceLimitOrder(prev, req, a.onOrderPlaced)
		a.logInfo("replace order price(%v) size(%v) alpha(%v)", price, size, a.alpha)

	default:
		a.logInfo("noop price(%v) size(%v)", price, size)
	}
}

// OnFill reacts to a maker fill of our resting order. Wallet settlement has
// already been applied by the decision loop before this is called.
func (a *Agent) OnFill(fill model.Fill) {
	a.clock = fill.Time
	a.logInfo("fill size(%v) price(%v) side(%s) maker_fee_rate(%v)", fill.Size, fill.Price, fill.Side, fill.MakerFeeRate)

	a.order.Outstanding -= fill.Size
	a.bumpAlpha(a.cfg.Alpha.FillBump)

	if a.order.Filled() {
		// A completed trade right after the previous one means the market is
		// running through our quotes; widen sharply to throttle.
		if a.cfg.Alpha.RapidBoost > 0 && !a.lastTrade.IsZero() &&
			fill.Time.Sub(a.lastTrade) <= a.cfg.Alpha.RapidWin {
			a.bumpAlpha(a.cfg.Alpha.RapidBoost)
			a.logWarn("rapid trades, alpha boosted to %v", a.alpha)
		}
		a.lastTrade = fill.Time
	}
}

// Close cancels the resting order once. Idempotent; used on shutdown.
func (a *Agent) Close() {
	if a.order.Opened() && !a.closed {
		a.gw.CancelOrder(a.order.ID)
		a.order = model.EmptyOrder()
		a.closed = true
	}
}

func (a *Agent) onOrderPlaced(resp model.PlaceResponse) {
	if resp.OK() {
		a.order = model.Order{
			Price:       resp.Price,
			ID:          resp.ID,
			Size:        resp.Size,
			Outstanding: resp.Size - resp.FilledSize,
		}
		if a.profile.Side == model.Buy {
			a.wallet.HoldForBuy(a.quote, resp.Price, resp.Size)
		} else {
			a.wallet.HoldForSell(a.base, resp.Size)
		}
		a.logInfo("%s %v @ %v success", a.profile.Side, resp.Size, resp.Price)
		return
	}

	a.logWarn("%s order failed to be placed!", a.profile.Side)
	a.order = model.EmptyOrder()

	switch resp.Message {
	case model.MsgPostOnly:
		a.logWarn("order failed because of post only mode")
	case model.MsgInsufficientFunds:
		a.handleInsufficientFunds()
	case model.MsgOrderRejected:
		a.logWarn("order rejected, try again")
	case model.MsgServiceUnavailable:
		a.logError("service unavailable, try again")
	default:
		a.logError("order failed for unknown reason")
		a.logError("response: %+v", resp)
	}
}

// handleInsufficientFunds runs the one-shot protective liquidation: dump a
// minimum clip at market on the opposite side and back alpha off upward.
// Only the liquidating side reacts; the other side just logs.
func (a *Agent) handleInsufficientFunds() {
	if !a.profile.Liquidate {
		a.logWarn("insufficient funds")
		return
	}
	if a.meta != nil && a.gw.Tokens() >= exchange.CostPlace {
		size := a.meta.BaseMinSize * emergencyClipMultiple
		a.gw.PlaceMarketOrder(a.cfg.ProductID, a.profile.Side.Opposite(), size, a.onMarketPlaced)
	} else {
		a.logWarn("insufficient funds")
	}
	a.bumpAlpha(a.cfg.Alpha.Backoff)
}

func (a *Agent) onMarketPlaced(resp model.PlaceResponse) {
	if resp.Message != "" {
		a.logError("emergency market order failed: %+v", resp)
		return
	}
	a.logInfo("emergency %s %v @ %v success", a.profile.Side.Opposite(), resp.Size, resp.Price)
}

const emergencyClipMultiple = 3

// maybeDecayAlpha lowers alpha when we have been idle too long on both the
// alpha-update and the last-trade clocks.
func (a *Agent) maybeDecayAlpha() bool {
	if a.lastAlphaUpdate.IsZero() {
		// First event seen; start the idle clock here.
		a.lastAlphaUpdate = a.clock
		return false
	}
	idleUpdate := a.clock.Sub(a.lastAlphaUpdate) >= a.cfg.Alpha.LongIdle
	idleTrade := a.lastTrade.IsZero() || a.clock.Sub(a.lastTrade) >= a.cfg.Alpha.LongIdle
	if idleUpdate && idleTrade {
		a.alpha = a.clampAlpha(a.alpha / a.cfg.Alpha.Decay)
		a.lastAlphaUpdate = a.clock
		return true
	}
	return false
}

func (a *Agent) bumpAlpha(factor float64) {
	a.alpha = a.clampAlpha(a.alpha * factor)
	a.lastAlphaUpdate = a.clock
}

func (a *Agent) clampAlpha(v float64) float64 {
	if v < a.cfg.Alpha.Lower {
		return a.cfg.Alpha.Lower
	}
	if v > a.cfg.Alpha.Upper {
		return a.cfg.Alpha.Upper
	}
	return v
}

// notReady resets local order state instead of propagating a fault when a
// precondition (metadata, wallet) has not arrived yet.
func (a *Agent) notReady(reason string) {
	a.order = model.EmptyOrder()
	a.logInfo("not ready: %s", reason)
}

func (a *Agent) logInfo(format string, args ...any) {
	a.log.Info(a.profile.Name+","+a.cfg.ProductID, format, args...)
}

func (a *Agent) logWarn(format string, args ...any) {
	a.log.Warn(a.profile.Name+","+a.cfg.ProductID, format, args...)
}

func (a *Agent) logError(format string, args ...any) {
	a.log.Error(a.profile.Name+","+a.cfg.ProductID, format, args...)
}
