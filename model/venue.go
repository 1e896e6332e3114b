package model

// Known venue rejection reasons agents branch on. Anything else is treated
// as recoverable-unknown.
const (
	MsgPostOnly           = "Post only mode"
	MsgInsufficientFunds  = "Insufficient funds"
	MsgOrderRejected      = "Order rejected"
	MsgServiceUnavailable = "ServiceUnavailable"
)

// OrderRequest describes a limit order we want resting on the venue.
type OrderRequest struct {
	ProductID string
	Side      Side
	Price     float64
	Size      float64
	PostOnly  bool
}

// PlaceResponse is the raw outcome of a placement. Venue rejections surface
// through Message rather than an error so agents can branch on the reason.
type PlaceResponse struct {
	ID         string
	Price      float64
	Size       float64
	FilledSize float64
	Message    string
}

// OK reports whether the venue accepted the order.
func (r PlaceResponse) OK() bool {
	return r.Message == "" && r.ID != ""
}

// Account is one row of the venue account snapshot.
type Account struct {
	Currency  string
	Available float64
	Hold      float64
	Balance   float64
}

// OpenOrder is one row of the venue open-order snapshot used by the
// reconciliation watchdog.
type OpenOrder struct {
	ID        string
	Side      Side
	ProductID string
	Price     float64
	Size      float64
}
