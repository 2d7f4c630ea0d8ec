package book

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"tradeit/pkg/models"
)

// TradeSink receives every trade a book emits, in generation order.
type TradeSink func(models.Trade)

// priceLevel holds the FIFO queue of resting orders at one price.
type priceLevel struct {
	price  float64
	orders []*models.Order
}

// OrderBook maintains resting liquidity for a single instrument and matches
// crossing flow under price-time priority.
type OrderBook struct {
	instrument string
	logger     *logrus.Logger

	mu          sync.Mutex
	bids        []*priceLevel // price descending
	asks        []*priceLevel // price ascending
	orders      map[uint64]*models.Order
	nextTradeID uint64
	sink        TradeSink
}

func New(instrument string, logger *logrus.Logger) *OrderBook {
	return &OrderBook{
		instrument:  instrument,
		logger:      logger,
		orders:      make(map[uint64]*models.Order),
		nextTradeID: 1,
	}
}

func (b *OrderBook) Instrument() string {
	return b.instrument
}

// SetTradeSink registers the single sink for this book, replacing any
// previous one.
func (b *OrderBook) SetTradeSink(sink TradeSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = sink
}

// AddOrder matches the order against the opposing side if it is a market
// order or a crossing limit order, emitting the resulting trades through the
// sink and returning them. A non-crossing limit order rests in the book, as
// does the residual of a partially matched limit order. Market order
// residual is discarded.
func (b *OrderBook) AddOrder(order models.Order) []models.Trade {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.crosses(order) {
		trades, remaining := b.match(order)
		if remaining > 0 && order.Type == models.OrderTypeLimit {
			order.Quantity = remaining
			b.insertLimit(order)
		}
		if b.sink != nil {
			for _, t := range trades {
				b.sink(t)
			}
		}
		return trades
	}

	if order.Type == models.OrderTypeLimit {
		b.insertLimit(order)
		b.logger.WithFields(logrus.Fields{
			"instrument": b.instrument,
			"order_id":   order.ID,
			"side":       order.Side,
			"price":      order.Price,
			"quantity":   order.Quantity,
		}).Debug("order added to book")
	}

	return nil
}

func (b *OrderBook) crosses(order models.Order) bool {
	if order.Type == models.OrderTypeMarket {
		return true
	}
	if order.Side == models.SideBuy {
		return len(b.asks) > 0 && order.Price >= b.asks[0].price
	}
	return len(b.bids) > 0 && order.Price <= b.bids[0].price
}

// match walks the opposing side best price first, trading FIFO within each
// level. The aggressor's remaining quantity is tracked locally; the caller's
// order is never mutated.
func (b *OrderBook) match(order models.Order) ([]models.Trade, uint32) {
	var trades []models.Trade
	remaining := order.Quantity

	opposing := &b.asks
	if order.Side == models.SideSell {
		opposing = &b.bids
	}

	for remaining > 0 && len(*opposing) > 0 {
		level := (*opposing)[0]
		if order.Type == models.OrderTypeLimit {
			if order.Side == models.SideBuy && order.Price < level.price {
				break
			}
			if order.Side == models.SideSell && order.Price > level.price {
				break
			}
		}

		for remaining > 0 && len(level.orders) > 0 {
			resting := level.orders[0]
			traded := remaining
			if resting.Quantity < traded {
				traded = resting.Quantity
			}

			trade := models.Trade{
				TradeID:    b.nextTradeID,
				Instrument: b.instrument,
				Price:      level.price,
				Quantity:   traded,
				Timestamp:  order.Timestamp,
				Side:       order.Side,
			}
			if order.Side == models.SideBuy {
				trade.BuyOrderID = order.ID
				trade.SellOrderID = resting.ID
			} else {
				trade.BuyOrderID = resting.ID
				trade.SellOrderID = order.ID
			}
			b.nextTradeID++
			trades = append(trades, trade)

			b.logger.WithFields(logrus.Fields{
				"instrument": b.instrument,
				"trade_id":   trade.TradeID,
				"buy_id":     trade.BuyOrderID,
				"sell_id":    trade.SellOrderID,
				"price":      trade.Price,
				"quantity":   trade.Quantity,
			}).Debug("trade executed")

			resting.Quantity -= traded
			remaining -= traded
			if resting.Quantity == 0 {
				level.orders = level.orders[1:]
				delete(b.orders, resting.ID)
			}
		}

		if len(level.orders) == 0 {
			*opposing = (*opposing)[1:]
		}
	}

	return trades, remaining
}

func (b *OrderBook) insertLimit(order models.Order) {
	o := &order
	if order.Side == models.SideBuy {
		b.bids = insertIntoLevels(b.bids, o, func(level float64) bool { return level <= o.Price })
	} else {
		b.asks = insertIntoLevels(b.asks, o, func(level float64) bool { return level >= o.Price })
	}
	b.orders[o.ID] = o
}

// insertIntoLevels appends the order to its price level, creating the level
// at its sorted position when absent. stopAt reports whether a level price
// is at or past the order's price in this side's sort order.
func insertIntoLevels(levels []*priceLevel, o *models.Order, stopAt func(float64) bool) []*priceLevel {
	idx := sort.Search(len(levels), func(i int) bool { return stopAt(levels[i].price) })
	if idx < len(levels) && levels[idx].price == o.Price {
		levels[idx].orders = append(levels[idx].orders, o)
		return levels
	}
	level := &priceLevel{price: o.Price, orders: []*models.Order{o}}
	levels = append(levels, nil)
	copy(levels[idx+1:], levels[idx:])
	levels[idx] = level
	return levels
}

// CancelOrder removes a resting order. It reports false for unknown ids
// without side effects.
func (b *OrderBook) CancelOrder(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[id]
	if !ok {
		b.logger.WithFields(logrus.Fields{
			"instrument": b.instrument,
			"order_id":   id,
		}).Debug("cancel failed, order not found")
		return false
	}

	side := &b.bids
	if o.Side == models.SideSell {
		side = &b.asks
	}
	for li, level := range *side {
		if level.price != o.Price {
			continue
		}
		for qi, resting := range level.orders {
			if resting.ID != id {
				continue
			}
			level.orders = append(level.orders[:qi], level.orders[qi+1:]...)
			if len(level.orders) == 0 {
				*side = append((*side)[:li], (*side)[li+1:]...)
			}
			delete(b.orders, id)
			b.logger.WithFields(logrus.Fields{
				"instrument": b.instrument,
				"order_id":   id,
			}).Debug("order canceled")
			return true
		}
	}
	return false
}

// BestBid returns a snapshot of the head-of-book bid.
func (b *OrderBook) BestBid() (models.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.bids) == 0 {
		return models.Order{}, false
	}
	return *b.bids[0].orders[0], true
}

// BestAsk returns a snapshot of the head-of-book ask.
func (b *OrderBook) BestAsk() (models.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.asks) == 0 {
		return models.Order{}, false
	}
	return *b.asks[0].orders[0], true
}

// Orders returns a snapshot of all resting orders keyed by id.
func (b *OrderBook) Orders() map[uint64]models.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[uint64]models.Order, len(b.orders))
	for id, o := range b.orders {
		out[id] = *o
	}
	return out
}

// PrintBook logs a snapshot of the book's levels for diagnostics.
func (b *OrderBook) PrintBook() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.logger.Infof("order book [%s]", b.instrument)
	b.logger.Info("  asks:")
	for _, level := range b.asks {
		b.logger.Infof("    %.2f x %d", level.price, len(level.orders))
	}
	b.logger.Info("  bids:")
	for _, level := range b.bids {
		b.logger.Infof("    %.2f x %d", level.price, len(level.orders))
	}
}
