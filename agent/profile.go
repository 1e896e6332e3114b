package agent

import (
	"math"

	"github.com/patrickgrad/coin-trader/model"
)

// SideProfile is the capability record distinguishing the buyer from the
// seller: pricing, sizing, and whether funds exhaustion triggers the
// protective market liquidation.
type SideProfile struct {
	Name      string
	Side      model.Side
	Price     func(a *Agent, tick model.Tick, refPrice float64) float64
	Size      func(a *Agent, price float64) (float64, bool)
	Liquidate bool
}

func buyerProfile() SideProfile {
	return SideProfile{
		Name:      "Buyer",
		Side:      model.Buy,
		Price:     buyerPrice,
		Size:      buyerSize,
		Liquidate: true,
	}
}

func sellerProfile() SideProfile {
	return SideProfile{
		Name:  "Seller",
		Side:  model.Sell,
		Price: sellerPrice,
		Size:  sellerSize,
	}
}

// buyerPrice quotes alpha below the reference price, capped at one increment
// better than the current best bid so a bad reference price cannot make us
// cross the book.
func buyerPrice(a *Agent, tick model.Tick, refPrice float64) float64 {
	bid := math.Min(refPrice*(1-a.alpha), tick.BestBid+a.meta.QuoteIncrement)
	return RoundToIncrement(bid, a.meta.QuoteIncrement)
}

// sellerPrice mirrors buyerPrice above the reference price.
func sellerPrice(a *Agent, tick model.Tick, refPrice float64) float64 {
	ask := math.Max(refPrice*(1+a.alpha), tick.BestAsk-a.meta.QuoteIncrement)
	return RoundToIncrement(ask, a.meta.QuoteIncrement)
}

// buyerSize sizes the bid from the wallet ratio: the closer the portfolio is
// to all-quote, the larger the clip. Capped by available quote funds and
// floored at the venue minimum.
func buyerSize(a *Agent, price float64) (float64, bool) {
	quote, okQ := a.wallet.Get(a.quote)
	base, okB := a.wallet.Get(a.base)
	if !okQ || !okB || price <= 0 {
		return 0, false
	}

	total := quote.Balance + base.Balance*price
	if total <= 0 {
		return 0, false
	}
	ratio := quote.Balance / total

	var calc float64
	if ratio <= 0.5 {
		calc = (0.005 + ratio*(0.0075/0.5)) * (quote.Balance / price)
	} else {
		calc = (0.085*ratio - 0.035) * (quote.Balance / price)
	}

	size := math.Max(math.Min(calc, quote.Available/price), a.meta.BaseMinSize)
	return RoundToIncrement(size, a.meta.BaseIncrement), true
}

// sellerSize offers a fixed portfolio ratio's worth of the base currency.
func sellerSize(a *Agent, price float64) (float64, bool) {
	base, ok := a.wallet.Get(a.base)
	if !ok {
		return 0, false
	}

	calc := a.cfg.PortfolioRatio * base.Balance
	size := math.Max(math.Min(calc, base.Available), a.meta.BaseMinSize)
	return RoundToIncrement(size, a.meta.BaseIncrement), true
}

// RoundToIncrement rounds x to the nearest multiple of inc.
func RoundToIncrement(x, inc float64) float64 {
	if inc <= 0 {
		return x
	}
	return math.Round(x/inc) * inc
}
