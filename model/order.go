package model

import (
	"math"
	"strings"
)

// Side of an order or trade from our point of view.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// SplitProduct splits a product id like "BTC-USD" into base and quote
// currencies.
func SplitProduct(productID string) (base, quote string) {
	parts := strings.SplitN(productID, "-", 2)
	if len(parts) != 2 {
		return productID, ""
	}
	return parts[0], parts[1]
}

const fillEpsilon = 1e-8

// Order describes a single resting limit order and its fill progress. The
// zero-ish value built by EmptyOrder means "no resting order believed open".
// Agents replace the whole value when they decide a new quote; nothing
// mutates an Order in place across the open/replace boundary.
type Order struct {
	Price       float64
	ID          string
	Size        float64
	Outstanding float64
}

// EmptyOrder returns the unopened sentinel. Price -1 keeps any stale
// comparison against it from looking like a live quote.
func EmptyOrder() Order {
	return Order{Price: -1}
}

// Opened reports whether we believe an order is resting on the venue.
func (o Order) Opened() bool {
	return o.ID != ""
}

// Filled reports whether the outstanding size has been fully consumed.
func (o Order) Filled() bool {
	return math.Abs(o.Outstanding) < fillEpsilon
}
