package models

// Trade records a match between two orders in the same book. Price is always
// the resting order's price and Side is the aggressor's side.
type Trade struct {
	TradeID     uint64
	BuyOrderID  uint64
	SellOrderID uint64
	Instrument  string
	Price       float64
	Quantity    uint32
	Timestamp   uint64 // the aggressor's timestamp
	Side        Side
}
