package models

import "time"

// OrderSide is the broker order side.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// SideFor maps a trade direction to the broker side for entry.
func SideFor(d Direction) OrderSide {
	if d == Bullish {
		return SideBuy
	}
	return SideSell
}

// OrderType is the broker order type.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// OrderIntent is what the execution layer hands to the broker collaborator.
type OrderIntent struct {
	Symbol     string
	Side       OrderSide
	Type       OrderType
	Size       float64
	LimitPrice float64 // zero for market orders
	ZoneID     ZoneID
	ReduceOnly bool
}

// OrderAck is the broker's synchronous placement response.
type OrderAck struct {
	OrderID  string
	Accepted bool
	Reason   string
}

// FillEventKind distinguishes asynchronous broker confirmations.
type FillEventKind int

const (
	FillConfirmed FillEventKind = iota
	FillCancelled
	FillRejected
)

// FillEvent is the asynchronous confirmation delivered by the broker
// stream for a previously placed order.
type FillEvent struct {
	OrderID   string
	Symbol    string
	Kind      FillEventKind
	Price     float64
	Size      float64
	Reason    string
	Timestamp time.Time
}
