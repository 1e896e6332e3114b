package coinbase

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/patrickgrad/coin-trader/logger"
	"github.com/patrickgrad/coin-trader/model"
)

// Feed runs the venue's websocket market-data stream on its own goroutine
// and marshals every decoded message into the event channel. It never
// touches agent or wallet state itself.
type Feed struct {
	wsURL      string
	apiKey     string
	apiSecret  string
	productIDs []string
	log        *logger.Logger
	backoff    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewFeed(wsURL, apiKey, apiSecret string, productIDs []string, log *logger.Logger) *Feed {
	return &Feed{
		wsURL:      wsURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		productIDs: productIDs,
		log:        log,
		backoff:    2 * time.Second,
		done:       make(chan struct{}),
	}
}

func (f *Feed) Start(ctx context.Context, events chan<- model.Event) error {
	f.ctx, f.cancel = context.WithCancel(ctx)
	go f.run(events)
	return nil
}

// run keeps one connection alive, reconnecting with a flat backoff. Dropped
// stream messages are tolerated: the watchdog repairs any resulting drift.
func (f *Feed) run(events chan<- model.Event) {
	defer close(f.done)
	for {
		if f.ctx.Err() != nil {
			return
		}
		if err := f.consume(events); err != nil && f.ctx.Err() == nil {
			f.log.Warn("Feed", "stream error: %v, reconnecting", err)
			select {
			case <-time.After(f.backoff):
			case <-f.ctx.Done():
				return
			}
		}
	}
}

func (f *Feed) consume(events chan<- model.Event) error {
	conn, err := f.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock the blocked ReadMessage on shutdown; connDone releases the
	// watcher when this connection ends so reconnects don't pile them up.
	connDone := make(chan struct{})
	defer close(connDone)
	go func() {
		select {
		case <-f.ctx.Done():
			conn.Close()
		case <-connDone:
		}
	}()

	sub := map[string]any{
		"type":        "subscribe",
		"product_ids": f.productIDs,
		"channels":    []string{"ticker", "status", "user"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	f.log.Info("Feed", "market data socket opened for %v", f.productIDs)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ev, ok := decode(data, f.log)
		if !ok {
			continue
		}
		select {
		case events <- ev:
		case <-f.ctx.Done():
			return nil
		}
	}
}

func (f *Feed) dial() (*websocket.Conn, error) {
	tok, err := buildJWT(f.apiKey, f.apiSecret)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+tok)

	d := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := d.DialContext(f.ctx, f.wsURL, headers)
	return conn, err
}

func (f *Feed) Close() error {
	if f.cancel != nil {
		f.cancel()
		<-f.done
	}
	return nil
}

// wireMessage is the superset of stream payloads we care about.
type wireMessage struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Side      string `json:"side"`
	LastSize  string `json:"last_size"`
	Size      string `json:"size"`
	BestBid   string `json:"best_bid"`
	BestAsk   string `json:"best_ask"`
	Time      string `json:"time"`

	MakerFeeRate string `json:"maker_fee_rate"`

	Products []struct {
		ID             string `json:"id"`
		BaseMinSize    string `json:"base_min_size"`
		QuoteIncrement string `json:"quote_increment"`
		BaseIncrement  string `json:"base_increment"`
	} `json:"products"`
}

func decode(data []byte, log *logger.Logger) (model.Event, bool) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn("Feed", "undecodable message: %v", err)
		return nil, false
	}

	switch msg.Type {
	case "ticker":
		ts, err := time.Parse(time.RFC3339Nano, msg.Time)
		if err != nil {
			ts = time.Now().UTC()
		}
		return model.Tick{
			ProductID: msg.ProductID,
			Price:     parseFloat(msg.Price),
			TakerSide: model.Side(msg.Side),
			Size:      parseFloat(msg.LastSize),
			BestBid:   parseFloat(msg.BestBid),
			BestAsk:   parseFloat(msg.BestAsk),
			Time:      ts,
		}, true

	case "status":
		status := model.Status{}
		for _, p := range msg.Products {
			status.Products = append(status.Products, model.ProductMeta{
				ProductID:      p.ID,
				BaseMinSize:    parseFloat(p.BaseMinSize),
				QuoteIncrement: parseFloat(p.QuoteIncrement),
				BaseIncrement:  parseFloat(p.BaseIncrement),
			})
		}
		return status, true

	case "match":
		// Fee rate only present when we were the maker; anything else is a
		// manual or rebalance trade we should not book.
		if msg.MakerFeeRate == "" {
			log.Warn("Feed", "match without maker fee rate ignored (not our maker order)")
			return nil, false
		}
		ts, err := time.Parse(time.RFC3339Nano, msg.Time)
		if err != nil {
			ts = time.Now().UTC()
		}
		return model.Fill{
			ProductID:    msg.ProductID,
			Side:         model.Side(msg.Side),
			Size:         parseFloat(msg.Size),
			Price:        parseFloat(msg.Price),
			MakerFeeRate: parseFloat(msg.MakerFeeRate),
			Time:         ts,
		}, true
	}

	return nil, false
}
