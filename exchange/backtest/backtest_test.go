package backtest

import (
	"context"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/patrickgrad/coin-trader/agent"
	"github.com/patrickgrad/coin-trader/engine"
	"github.com/patrickgrad/coin-trader/logger"
	"github.com/patrickgrad/coin-trader/model"
)

var testMeta = model.ProductMeta{
	ProductID:      "BTC-USD",
	BaseMinSize:    0.0001,
	QuoteIncrement: 0.01,
	BaseIncrement:  0.0001,
}

func testConfig() Config {
	return Config{
		ProductID:      "BTC-USD",
		Meta:           testMeta,
		InitialFunds:   map[string]float64{"USD": 1000, "BTC": 2},
		Delta:          time.Second,
		WatchdogPeriod: 15 * time.Second,
		AccountPeriod:  5 * time.Second,
		MakerFeeRate:   0.0015,
		TakerFeeRate:   0.0025,
	}
}

func quietLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelError)
}

func tickAt(ms int64, price, size float64, taker model.Side) model.Tick {
	return model.Tick{
		ProductID: "BTC-USD",
		Price:     price,
		TakerSide: taker,
		Size:      size,
		BestBid:   price - 0.05,
		BestAsk:   price + 0.05,
		Time:      time.UnixMilli(ms).UTC(),
	}
}

func TestMatchRequiresOppositeTakerAndCrossedPrice(t *testing.T) {
	b := New(testConfig(), nil, quietLogger())
	b.PlaceLimitOrder(model.OrderRequest{ProductID: "BTC-USD", Side: model.Buy, Price: 98, Size: 0.5}, func(model.PlaceResponse) {})

	// Same-side taker never matches, whatever the price.
	if fills := b.match(tickAt(0, 97, 0.1, model.Buy)); len(fills) != 0 {
		t.Fatalf("same-side taker matched: %+v", fills)
	}
	// Opposite taker above the bid does not cross.
	if fills := b.match(tickAt(0, 98.5, 0.1, model.Sell)); len(fills) != 0 {
		t.Fatalf("uncrossed price matched: %+v", fills)
	}
	// Opposite taker trading through the bid fills at the order's price.
	fills := b.match(tickAt(0, 97.5, 0.1, model.Sell))
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	if fills[0].Price != 98 || fills[0].Side != model.Buy {
		t.Fatalf("unexpected fill: %+v", fills[0])
	}
}

func TestMatchCapsFillAtTickSizeAndOutstanding(t *testing.T) {
	b := New(testConfig(), nil, quietLogger())
	b.PlaceLimitOrder(model.OrderRequest{ProductID: "BTC-USD", Side: model.Buy, Price: 98, Size: 0.5}, func(model.PlaceResponse) {})

	fills := b.match(tickAt(0, 97, 0.2, model.Sell))
	if len(fills) != 1 || fills[0].Size != 0.2 {
		t.Fatalf("fill not capped at tick size: %+v", fills)
	}

	// 0.3 outstanding; a larger tick consumes only the remainder.
	fills = b.match(tickAt(0, 97, 1.0, model.Sell))
	if len(fills) != 1 || !approx(fills[0].Size, 0.3) {
		t.Fatalf("fill not capped at outstanding: %+v", fills)
	}

	orders, _ := b.GetOrders()
	if len(orders) != 0 {
		t.Fatalf("consumed order still resting: %+v", orders)
	}
}

func TestSettleChargesMakerFeeInQuote(t *testing.T) {
	b := New(testConfig(), nil, quietLogger())
	b.PlaceLimitOrder(model.OrderRequest{ProductID: "BTC-USD", Side: model.Buy, Price: 100, Size: 1}, func(model.PlaceResponse) {})

	b.match(tickAt(0, 99, 1, model.Sell))

	if !approx(b.Balance("BTC"), 3) {
		t.Fatalf("base not credited: %v", b.Balance("BTC"))
	}
	if !approx(b.Balance("USD"), 1000-100-100*0.0015) {
		t.Fatalf("quote debit or fee wrong: %v", b.Balance("USD"))
	}
}

func TestReplaceLeavesOnlyNewOrder(t *testing.T) {
	b := New(testConfig(), nil, quietLogger())
	var first model.Order
	b.PlaceLimitOrder(model.OrderRequest{ProductID: "BTC-USD", Side: model.Buy, Price: 98, Size: 0.5}, func(r model.PlaceResponse) {
		first = model.Order{Price: r.Price, ID: r.ID, Size: r.Size, Outstanding: r.Size}
	})
	var second string
	b.ReplaceLimitOrder(first, model.OrderRequest{ProductID: "BTC-USD", Side: model.Buy, Price: 97, Size: 0.4}, func(r model.PlaceResponse) {
		second = r.ID
	})

	orders, _ := b.GetOrders()
	if len(orders) != 1 || orders[0].ID != second {
		t.Fatalf("expected only the replacement resting, got %+v", orders)
	}
}

func TestMarketOrderFillsAtTouchWithTakerFee(t *testing.T) {
	b := New(testConfig(), nil, quietLogger())
	b.lastTick = tickAt(0, 100, 1, model.Sell)

	var resp model.PlaceResponse
	b.PlaceMarketOrder("BTC-USD", model.Sell, 0.5, func(r model.PlaceResponse) { resp = r })

	if resp.Price != b.lastTick.BestBid || resp.FilledSize != 0.5 {
		t.Fatalf("unexpected market execution: %+v", resp)
	}
	proceeds := 0.5 * b.lastTick.BestBid
	if !approx(b.Balance("USD"), 1000+proceeds-proceeds*0.0025) {
		t.Fatalf("taker fee wrong: %v", b.Balance("USD"))
	}
	if !approx(b.Balance("BTC"), 1.5) {
		t.Fatalf("base not debited: %v", b.Balance("BTC"))
	}
}

func TestStartRejectsEmptySeries(t *testing.T) {
	b := New(testConfig(), nil, quietLogger())
	if err := b.Start(context.Background()); err == nil {
		t.Fatal("expected error for empty tick series")
	}
}

// series is a synthetic price walk wide enough to run through quotes on both
// sides many times over.
func series() []model.Tick {
	start := int64(1_700_000_000_000)
	ticks := make([]model.Tick, 0, 120)
	price := 100.0
	for i := 0; i < 120; i++ {
		price += 2.5 * math.Sin(float64(i)/7)
		taker := model.Sell
		if i%2 == 1 {
			taker = model.Buy
		}
		ticks = append(ticks, tickAt(start+int64(i)*1000, price, 0.05, taker))
	}
	return ticks
}

type runResult struct {
	usd, btc    float64
	buyerAlpha  float64
	sellerAlpha float64
}

func replayOnce(t *testing.T, ticks []model.Tick) runResult {
	t.Helper()
	log := quietLogger()
	cfg := testConfig()
	b := New(cfg, ticks, log)

	w := model.NewWallet()
	for c, v := range cfg.InitialFunds {
		w.Set(c, v, 0)
	}

	agCfg := agent.Config{
		ProductID:      "BTC-USD",
		PDiffThresh:    0.0005,
		VDiffThresh:    0.0010,
		PortfolioRatio: 0.1,
		Alpha: agent.AlphaConfig{
			Initial:    0.02,
			Lower:      0.0005,
			Upper:      0.5,
			Decay:      1.25,
			FillBump:   1.0075,
			RapidBoost: 5,
			Backoff:    1.05,
			LongIdle:   5 * time.Minute,
			RapidWin:   30 * time.Second,
		},
	}
	buyer := agent.NewBuyer(agCfg, w, b, log)
	seller := agent.NewSeller(agCfg, w, b, log)

	eng := engine.New(b, w, log)
	eng.AddInstrument("BTC-USD", buyer, seller)

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	eng.Run(context.Background())
	b.Close()

	if eng.Faulted() {
		t.Fatal("replay faulted")
	}
	return runResult{
		usd:         b.Balance("USD"),
		btc:         b.Balance("BTC"),
		buyerAlpha:  buyer.Alpha(),
		sellerAlpha: seller.Alpha(),
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	ticks := series()
	first := replayOnce(t, ticks)
	second := replayOnce(t, ticks)

	if first != second {
		t.Fatalf("replays diverged:\n  %+v\n  %+v", first, second)
	}
	if first.btc == 2 && first.usd == 1000 {
		t.Fatal("replay produced no executions at all")
	}
}

// The watchdog and account-sync cadence reschedule themselves forever; the
// replay must still close its event stream once the tick series is done.
func TestReplayStopsAfterSeries(t *testing.T) {
	// 30 seconds of ticks: long enough for both housekeeping cadences to fire.
	b := New(testConfig(), series()[:30], quietLogger())
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer b.Close()

	done := make(chan struct{})
	var ticks, syncs, watchdogs int
	go func() {
		defer close(done)
		for ev := range b.Events() {
			switch m := ev.(type) {
			case model.Tick:
				ticks++
			case model.AccountSync:
				syncs++
			case model.WatchdogTick:
				watchdogs++
			case model.Barrier:
				close(m.Done)
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("event stream never closed after the series ended")
	}
	if ticks != 30 {
		t.Fatalf("expected all 30 ticks delivered, got %d", ticks)
	}
	if syncs == 0 {
		t.Fatal("no account sync delivered during the replay")
	}
	if watchdogs == 0 {
		t.Fatal("no watchdog pass delivered during the replay")
	}
}

// GetAccounts must report funds reserved by resting orders as holds, so the
// loop's periodic refresh clears any hold drift left by replaces.
func TestAccountsReportHoldsForRestingOrders(t *testing.T) {
	b := New(testConfig(), nil, quietLogger())
	var first model.Order
	b.PlaceLimitOrder(model.OrderRequest{ProductID: "BTC-USD", Side: model.Buy, Price: 100, Size: 0.5}, func(r model.PlaceResponse) {
		first = model.Order{Price: r.Price, ID: r.ID, Size: r.Size, Outstanding: r.Size}
	})

	if usd := account(t, b, "USD"); !approx(usd.Hold, 50) || !approx(usd.Available, 950) {
		t.Fatalf("resting buy not held: %+v", usd)
	}

	// After a replace only the new order's reservation may remain.
	b.ReplaceLimitOrder(first, model.OrderRequest{ProductID: "BTC-USD", Side: model.Buy, Price: 99, Size: 0.4}, func(model.PlaceResponse) {})
	if usd := account(t, b, "USD"); !approx(usd.Hold, 0.4*99) || !approx(usd.Available, 1000-0.4*99) {
		t.Fatalf("stale hold survived the replace: %+v", usd)
	}

	b.PlaceLimitOrder(model.OrderRequest{ProductID: "BTC-USD", Side: model.Sell, Price: 110, Size: 0.25}, func(model.PlaceResponse) {})
	if btc := account(t, b, "BTC"); !approx(btc.Hold, 0.25) || !approx(btc.Available, 1.75) {
		t.Fatalf("resting sell not held: %+v", btc)
	}
}

func account(t *testing.T, b *Exchange, currency string) model.Account {
	t.Helper()
	accounts, err := b.GetAccounts()
	if err != nil {
		t.Fatalf("get accounts: %v", err)
	}
	for _, a := range accounts {
		if a.Currency == currency {
			return a
		}
	}
	t.Fatalf("currency %s not reported", currency)
	return model.Account{}
}

func TestLoadTicks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.csv")
	data := "time,price,size,taker_side,bid,ask\n" +
		"1700000000000,100.5,0.25,sell,100.45,100.55\n" +
		"1700000001000,100.6,0.10,buy,100.55,100.65\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	ticks, err := LoadTicks(path, "BTC-USD")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(ticks) != 2 {
		t.Fatalf("expected 2 ticks, got %d", len(ticks))
	}
	want := model.Tick{
		ProductID: "BTC-USD",
		Price:     100.5,
		TakerSide: model.Sell,
		Size:      0.25,
		BestBid:   100.45,
		BestAsk:   100.55,
		Time:      time.UnixMilli(1_700_000_000_000).UTC(),
	}
	if ticks[0] != want {
		t.Fatalf("got %+v, want %+v", ticks[0], want)
	}
}

func TestLoadTicksRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"missing column": "time,price,size,bid,ask\n1,100,0.1,99,101\n",
		"bad side":       "time,price,size,taker_side,bid,ask\n1,100,0.1,hold,99,101\n",
		"bad time":       "time,price,size,taker_side,bid,ask\nnoon,100,0.1,buy,99,101\n",
		"no rows":        "time,price,size,taker_side,bid,ask\n",
	}
	for name, data := range cases {
		path := filepath.Join(dir, name+".csv")
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadTicks(path, "BTC-USD"); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadFunds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "funds.csv")
	data := "currency,available\nUSD,1000\nBTC,2.5\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	funds, err := LoadFunds(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if funds["USD"] != 1000 || funds["BTC"] != 2.5 {
		t.Fatalf("unexpected funds: %+v", funds)
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
