package exchange

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/patrickgrad/coin-trader/logger"
	"github.com/patrickgrad/coin-trader/model"
)

type fakeClient struct {
	calls        []string
	cancelCtxErr error
}

func (c *fakeClient) PlaceLimitOrder(ctx context.Context, req model.OrderRequest) model.PlaceResponse {
	c.calls = append(c.calls, "place")
	return model.PlaceResponse{ID: "ord-1", Price: req.Price, Size: req.Size}
}

func (c *fakeClient) PlaceMarketOrder(ctx context.Context, productID string, side model.Side, size float64) model.PlaceResponse {
	c.calls = append(c.calls, "market")
	return model.PlaceResponse{ID: "mkt-1", Size: size, FilledSize: size}
}

func (c *fakeClient) CancelOrder(ctx context.Context, orderID string) error {
	c.calls = append(c.calls, "cancel "+orderID)
	c.cancelCtxErr = ctx.Err()
	return nil
}

func (c *fakeClient) GetAccounts(ctx context.Context) ([]model.Account, error) {
	c.calls = append(c.calls, "accounts")
	return nil, nil
}

func (c *fakeClient) GetOrders(ctx context.Context) ([]model.OpenOrder, error) {
	c.calls = append(c.calls, "orders")
	return nil, nil
}

type fakeFeed struct{}

func (fakeFeed) Start(ctx context.Context, events chan<- model.Event) error { return nil }
func (fakeFeed) Close() error                                               { return nil }

func newTestLive(client *fakeClient) *Live {
	return NewLive(client, fakeFeed{}, LiveConfig{
		BucketCapacity: 10,
		BucketInterval: time.Millisecond,
		WatchdogPeriod: time.Hour,
		AccountPeriod:  time.Hour,
	}, logger.New(io.Discard, logger.LevelError))
}

func TestLivePrimesHousekeeping(t *testing.T) {
	client := &fakeClient{}
	l := newTestLive(client)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Close()

	deadline := time.After(2 * time.Second)
	var got []model.Event
	for len(got) < 2 {
		select {
		case ev := <-l.Events():
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("housekeeping events not delivered, got %v", got)
		}
	}
	if _, ok := got[0].(model.AccountSync); !ok {
		t.Fatalf("expected AccountSync first, got %T", got[0])
	}
	if _, ok := got[1].(model.WatchdogTick); !ok {
		t.Fatalf("expected WatchdogTick second, got %T", got[1])
	}
}

func TestLiveReplacePlacesBeforeCancelling(t *testing.T) {
	client := &fakeClient{}
	l := newTestLive(client)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Close()

	var resp model.PlaceResponse
	prev := model.Order{ID: "stale-1", Price: 98, Size: 0.5, Outstanding: 0.5}
	req := model.OrderRequest{ProductID: "BTC-USD", Side: model.Buy, Price: 97, Size: 0.4, PostOnly: true}
	l.ReplaceLimitOrder(prev, req, func(r model.PlaceResponse) { resp = r })

	if len(client.calls) != 2 || client.calls[0] != "place" || client.calls[1] != "cancel stale-1" {
		t.Fatalf("unexpected call order: %v", client.calls)
	}
	if resp.ID != "ord-1" {
		t.Fatalf("callback did not see the placement: %+v", resp)
	}
}

func TestLivePlaceWaitsForTokens(t *testing.T) {
	client := &fakeClient{}
	l := newTestLive(client)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Close()

	// The bucket starts empty; the call must block until refill, then land.
	var resp model.PlaceResponse
	l.PlaceLimitOrder(model.OrderRequest{ProductID: "BTC-USD", Side: model.Buy, Price: 97, Size: 0.4}, func(r model.PlaceResponse) { resp = r })

	if len(client.calls) != 1 || client.calls[0] != "place" {
		t.Fatalf("placement never reached the client: %v", client.calls)
	}
	if resp.ID != "ord-1" {
		t.Fatalf("callback did not see the placement: %+v", resp)
	}
}

// Shutdown cancels run after the root context has already been cancelled;
// they must still go out on a live context or the order survives the process.
func TestLiveCancelWorksAfterShutdown(t *testing.T) {
	client := &fakeClient{}
	l := newTestLive(client)
	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Close()

	cancel()
	l.CancelOrder("ord-1")

	found := false
	for _, call := range client.calls {
		if call == "cancel ord-1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("cancel never reached the client: %v", client.calls)
	}
	if client.cancelCtxErr != nil {
		t.Fatalf("cancel went out on a dead context: %v", client.cancelCtxErr)
	}
}

func TestLiveCloseUnblocksCalls(t *testing.T) {
	client := &fakeClient{}
	l := NewLive(client, fakeFeed{}, LiveConfig{
		BucketCapacity: 5,
		BucketInterval: time.Hour, // never fills during the test
		WatchdogPeriod: time.Hour,
		AccountPeriod:  time.Hour,
	}, logger.New(io.Discard, logger.LevelError))
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := l.GetAccounts()
		errc <- err
	}()

	time.Sleep(50 * time.Millisecond)
	l.Close()

	select {
	case err := <-errc:
		if err == nil {
			t.Fatal("blocked call must fail after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("close did not release the blocked call")
	}
	if len(client.calls) != 0 {
		t.Fatalf("client reached without tokens: %v", client.calls)
	}
}
