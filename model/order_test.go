package model

import "testing"

func TestEmptyOrderNeverOpened(t *testing.T) {
	o := EmptyOrder()
	if o.Opened() {
		t.Fatal("empty order reported opened")
	}
	if !o.Filled() {
		t.Fatal("empty order should count as filled (zero outstanding)")
	}
}

func TestOpenedIffIDSet(t *testing.T) {
	o := Order{Price: 100, Size: 1, Outstanding: 1}
	if o.Opened() {
		t.Fatal("order without id reported opened")
	}
	o.ID = "abc-123"
	if !o.Opened() {
		t.Fatal("order with id not reported opened")
	}
}

func TestFilledIndependentOfOpened(t *testing.T) {
	o := Order{Price: 100, ID: "abc", Size: 1, Outstanding: 1}
	if o.Filled() {
		t.Fatal("order with outstanding size reported filled")
	}
	o.Outstanding = 5e-9
	if !o.Filled() {
		t.Fatal("order within epsilon of zero not reported filled")
	}
	o.Outstanding = -5e-9
	if !o.Filled() {
		t.Fatal("fill check must use absolute value")
	}
}

func TestSplitProduct(t *testing.T) {
	base, quote := SplitProduct("BTC-USD")
	if base != "BTC" || quote != "USD" {
		t.Fatalf("got %s/%s", base, quote)
	}
}

func TestSideOpposite(t *testing.T) {
	if Buy.Opposite() != Sell || Sell.Opposite() != Buy {
		t.Fatal("opposite side mapping broken")
	}
}
