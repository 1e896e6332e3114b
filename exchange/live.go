package exchange

import (
	"context"
	"time"

	"github.com/patrickgrad/coin-trader/logger"
	"github.com/patrickgrad/coin-trader/model"
	"github.com/patrickgrad/coin-trader/ratelimit"
)

// VenueClient is the REST surface of the venue collaborator. Rejections of
// placements come back inside the PlaceResponse; an error means the call
// itself could not be made.
type VenueClient interface {
	PlaceLimitOrder(ctx context.Context, req model.OrderRequest) model.PlaceResponse
	PlaceMarketOrder(ctx context.Context, productID string, side model.Side, size float64) model.PlaceResponse
	CancelOrder(ctx context.Context, orderID string) error
	GetAccounts(ctx context.Context) ([]model.Account, error)
	GetOrders(ctx context.Context) ([]model.OpenOrder, error)
}

// Feed pushes decoded market-data events into the given channel from its
// own goroutine until the context is cancelled.
type Feed interface {
	Start(ctx context.Context, events chan<- model.Event) error
	Close() error
}

// Live drives the rate limiter and the real market-data feed.
type Live struct {
	client VenueClient
	feed   Feed
	bucket *ratelimit.LeakyBucket
	log    *logger.Logger

	watchdogPeriod time.Duration
	accountPeriod  time.Duration

	events chan model.Event
	ctx    context.Context
	cancel context.CancelFunc
}

type LiveConfig struct {
	BucketCapacity int
	BucketInterval time.Duration
	WatchdogPeriod time.Duration
	AccountPeriod  time.Duration
}

func NewLive(client VenueClient, feed Feed, cfg LiveConfig, log *logger.Logger) *Live {
	return &Live{
		client:         client,
		feed:           feed,
		bucket:         ratelimit.NewLeakyBucket(cfg.BucketCapacity, cfg.BucketInterval),
		log:            log,
		watchdogPeriod: cfg.WatchdogPeriod,
		accountPeriod:  cfg.AccountPeriod,
		events:         make(chan model.Event, 256),
	}
}

func (l *Live) Start(ctx context.Context) error {
	l.ctx, l.cancel = context.WithCancel(ctx)
	if err := l.feed.Start(l.ctx, l.events); err != nil {
		l.cancel()
		return err
	}
	go l.housekeeping()
	return nil
}

// housekeeping marshals the watchdog and account-refresh cadence into the
// event stream so the decision loop stays the only place agent state is
// touched.
func (l *Live) housekeeping() {
	// Prime the loop right away so the wallet and order view do not wait a
	// full period after startup.
	l.push(model.AccountSync{})
	l.push(model.WatchdogTick{})

	watchdog := time.NewTicker(l.watchdogPeriod)
	accounts := time.NewTicker(l.accountPeriod)
	defer watchdog.Stop()
	defer accounts.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-watchdog.C:
			l.push(model.WatchdogTick{})
		case <-accounts.C:
			l.push(model.AccountSync{})
		}
	}
}

func (l *Live) push(ev model.Event) {
	select {
	case l.events <- ev:
	case <-l.ctx.Done():
	}
}

func (l *Live) Events() <-chan model.Event {
	return l.events
}

func (l *Live) Tokens() int {
	return l.bucket.Available()
}

func (l *Live) PlaceLimitOrder(req model.OrderRequest, cb PlaceCallback) {
	if !l.bucket.Acquire(CostPlace) {
		return
	}
	cb(l.client.PlaceLimitOrder(l.ctx, req))
}

func (l *Live) ReplaceLimitOrder(prev model.Order, req model.OrderRequest, cb PlaceCallback) {
	if !l.bucket.Acquire(CostReplace) {
		return
	}
	resp := l.client.PlaceLimitOrder(l.ctx, req)
	if err := l.client.CancelOrder(l.ctx, prev.ID); err != nil {
		// The new order is already resting; the stale one becomes a
		// duplicate the watchdog will cancel on its next pass.
		l.log.Warn("LiveGateway", "cancel of replaced order %s failed: %v", prev.ID, err)
	}
	cb(resp)
}

func (l *Live) PlaceMarketOrder(productID string, side model.Side, size float64, cb PlaceCallback) {
	if !l.bucket.Acquire(CostPlace) {
		return
	}
	cb(l.client.PlaceMarketOrder(l.ctx, productID, side, size))
}

func (l *Live) CancelOrder(orderID string) {
	if !l.bucket.Acquire(CostCancel) {
		return
	}
	// Shutdown cancels arrive after the root context is already dead, and an
	// order left resting survives until the next process starts. Give the
	// call its own bounded context so it still reaches the venue.
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := l.client.CancelOrder(ctx, orderID); err != nil {
		l.log.Warn("LiveGateway", "cancel %s failed: %v", orderID, err)
	}
}

const cancelTimeout = 10 * time.Second

func (l *Live) GetAccounts() ([]model.Account, error) {
	if !l.bucket.Acquire(CostAccounts) {
		return nil, context.Canceled
	}
	return l.client.GetAccounts(l.ctx)
}

func (l *Live) GetOrders() ([]model.OpenOrder, error) {
	if !l.bucket.Acquire(CostOrders) {
		return nil, context.Canceled
	}
	return l.client.GetOrders(l.ctx)
}

func (l *Live) Close() error {
	if l.cancel != nil {
		l.cancel()
	}
	l.bucket.Close()
	return l.feed.Close()
}
