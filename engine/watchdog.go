package engine

import "github.com/patrickgrad/coin-trader/model"

// runWatchdog reconciles each agent's believed order against the venue's
// open-order snapshot. The match stream is not guaranteed exactly-once, so
// this pass is the system's consistency backstop: missed fills and cancels
// show up as an empty snapshot, duplicates from half-failed replaces show up
// as foreign ids.
func (e *Engine) runWatchdog() {
	orders, err := e.gw.GetOrders()
	if err != nil {
		e.log.Warn("Watchdog", "order snapshot failed: %v", err)
		return
	}
	e.reconcile(orders)
}

func (e *Engine) reconcile(orders []model.OpenOrder) {
	for _, product := range e.products {
		for _, ag := range e.instruments[product].agents {
			var mine []model.OpenOrder
			for _, o := range orders {
				if o.ProductID == product && o.Side == ag.Side() {
					mine = append(mine, o)
				}
			}

			// A fill or cancel we never heard about: re-quote next tick.
			if len(mine) == 0 {
				if ag.CurrentOrder().Opened() {
					e.log.Warn("Watchdog", "%s,%s believed order %s missing from venue, resetting",
						ag.Side(), product, ag.CurrentOrder().ID)
				}
				ag.ResetOrder()
				continue
			}

			cancelled := 0
			for _, o := range mine {
				if o.ID != ag.CurrentOrder().ID {
					e.log.Warn("Watchdog", "%s,%s cancelling unrecognized order %s", ag.Side(), product, o.ID)
					e.gw.CancelOrder(o.ID)
					cancelled++
				}
			}

			// Every resting order was foreign: local state has diverged
			// completely, start over.
			if cancelled == len(mine) {
				ag.ResetOrder()
			}
		}
	}
}
