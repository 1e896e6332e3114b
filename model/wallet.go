package model

// Funds is the per-currency available/hold/balance triple reported by the
// venue. Balance must always equal Available + Hold.
type Funds struct {
	Available float64
	Hold      float64
	Balance   float64
}

// Wallet tracks funds for every currency we trade. It is owned exclusively
// by the decision loop: placements, fills and snapshot refreshes all happen
// from that single goroutine, so there is no lock here on purpose.
type Wallet struct {
	funds map[string]Funds
}

func NewWallet() *Wallet {
	return &Wallet{funds: make(map[string]Funds)}
}

// Get returns the funds for a currency and whether we have seen it yet.
func (w *Wallet) Get(currency string) (Funds, bool) {
	f, ok := w.funds[currency]
	return f, ok
}

// Set overwrites a single currency, recomputing balance.
func (w *Wallet) Set(currency string, available, hold float64) {
	w.funds[currency] = Funds{Available: available, Hold: hold, Balance: available + hold}
}

// Refresh replaces our local view with the venue account snapshot, keeping
// only the currencies we care about. Venue truth wins over any local drift.
func (w *Wallet) Refresh(accounts []Account, currencies map[string]bool) {
	for _, acct := range accounts {
		if currencies != nil && !currencies[acct.Currency] {
			continue
		}
		w.funds[acct.Currency] = Funds{
			Available: acct.Available,
			Hold:      acct.Hold,
			Balance:   acct.Balance,
		}
	}
}

// HoldForBuy moves quote funds available->hold when a buy order is accepted.
func (w *Wallet) HoldForBuy(quote string, price, size float64) {
	f := w.funds[quote]
	f.Available -= size * price
	f.Hold += size * price
	f.Balance = f.Available + f.Hold
	w.funds[quote] = f
}

// HoldForSell moves base funds available->hold when a sell order is accepted.
func (w *Wallet) HoldForSell(base string, size float64) {
	f := w.funds[base]
	f.Available -= size
	f.Hold += size
	f.Balance = f.Available + f.Hold
	w.funds[base] = f
}

// ApplyFill settles a maker fill against the wallet. The maker fee always
// comes out of the quote currency, matching the venue's fee schedule.
func (w *Wallet) ApplyFill(side Side, base, quote string, size, price, makerFeeRate float64) {
	b := w.funds[base]
	q := w.funds[quote]

	switch side {
	case Buy:
		q.Hold -= size * price
		q.Available -= makerFeeRate * size * price
		b.Available += size
	case Sell:
		b.Hold -= size
		q.Available += size * price
		q.Available -= makerFeeRate * size * price
	}

	b.Balance = b.Available + b.Hold
	q.Balance = q.Available + q.Hold
	w.funds[base] = b
	w.funds[quote] = q
}

// Currencies returns the set of currencies currently tracked.
func (w *Wallet) Currencies() []string {
	out := make([]string, 0, len(w.funds))
	for c := range w.funds {
		out = append(out, c)
	}
	return out
}
