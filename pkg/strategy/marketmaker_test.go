package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeit/pkg/book"
	"tradeit/pkg/models"
)

func newTestMarketMaker(t *testing.T, maxLoss float64) (*MarketMaker, *book.OrderBook, *submitRecorder, *cancelRecorder) {
	t.Helper()
	logger := testLogger()
	bk := book.New("ETH-USD", logger)
	submits := &submitRecorder{}
	cancels := &cancelRecorder{}
	mm := NewMarketMaker("ETH-USD", bk, submits.submit, cancels.cancel, maxLoss, t.TempDir(), logger)
	mm.now = func() uint64 { return 10_000_000 }
	return mm, bk, submits, cancels
}

func seedTopOfBook(bk *book.OrderBook, bid, ask float64) {
	bk.AddOrder(models.Order{ID: 900, Instrument: "ETH-USD", Type: models.OrderTypeLimit, Side: models.SideBuy, Price: bid, Quantity: 5})
	bk.AddOrder(models.Order{ID: 901, Instrument: "ETH-USD", Type: models.OrderTypeLimit, Side: models.SideSell, Price: ask, Quantity: 5})
}

func TestQuotePricesStraddleMid(t *testing.T) {
	mm, bk, submits, _ := newTestMarketMaker(t, -500.0)
	seedTopOfBook(bk, 99.0, 101.0)

	mm.placeQuotes()

	orders := submits.all()
	require.Len(t, orders, 2)

	mid := 100.0
	bid, ask := orders[0], orders[1]
	assert.Equal(t, models.SideBuy, bid.Side)
	assert.Equal(t, models.SideSell, ask.Side)
	assert.Less(t, bid.Price, mid)
	assert.Greater(t, ask.Price, mid)
	assert.Equal(t, uint32(1), bid.Quantity)
	assert.Equal(t, models.OrderTypeLimit, bid.Type)
}

func TestSkipsCycleWithoutBothSides(t *testing.T) {
	mm, bk, submits, _ := newTestMarketMaker(t, -500.0)
	bk.AddOrder(models.Order{ID: 900, Instrument: "ETH-USD", Type: models.OrderTypeLimit, Side: models.SideBuy, Price: 99.0, Quantity: 1})

	mm.placeQuotes()

	assert.Empty(t, submits.all())
}

func TestFreshQuotesKeptWithinDrift(t *testing.T) {
	mm, bk, submits, cancels := newTestMarketMaker(t, -500.0)
	seedTopOfBook(bk, 99.0, 101.0)

	mm.placeQuotes()
	mm.placeQuotes()

	// same top of book, same clock: the second cycle leaves both quotes alone
	assert.Len(t, submits.all(), 2)
	assert.Empty(t, cancels.all())
	assert.Equal(t, uint64(2), mm.totalQuotes)
}

func TestStaleQuotesReplacedOnPriceDrift(t *testing.T) {
	mm, bk, submits, cancels := newTestMarketMaker(t, -500.0)
	seedTopOfBook(bk, 99.0, 101.0)

	mm.placeQuotes()
	first := submits.all()
	require.Len(t, first, 2)

	bk.CancelOrder(900)
	bk.CancelOrder(901)
	seedTopOfBook(bk, 99.5, 101.5)

	mm.placeQuotes()
	second := submits.all()
	require.Len(t, second, 4)

	assert.ElementsMatch(t, []uint64{first[0].ID, first[1].ID}, cancels.all())
	assert.NotEqual(t, first[0].ID, second[2].ID)
	assert.Equal(t, uint64(4), mm.totalQuotes)
}

func TestStaleQuotesReplacedOnAge(t *testing.T) {
	mm, bk, submits, cancels := newTestMarketMaker(t, -500.0)
	seedTopOfBook(bk, 99.0, 101.0)

	mm.placeQuotes()
	require.Len(t, submits.all(), 2)

	// advance past the max quote age; prices unchanged
	mm.now = func() uint64 { return 10_000_000 + maxQuoteAgeMicros + 1 }
	mm.placeQuotes()

	assert.Len(t, submits.all(), 4)
	assert.Len(t, cancels.all(), 2)
}

func TestBuyFillAccounting(t *testing.T) {
	mm, _, _, _ := newTestMarketMaker(t, -500.0)
	mm.activeOrders[10] = models.Order{ID: 10, Instrument: "ETH-USD", Type: models.OrderTypeLimit, Side: models.SideBuy, Price: 100.0, Quantity: 2}
	mm.filledQty[10] = 0

	mm.OnTrade(models.Trade{TradeID: 1, BuyOrderID: 10, SellOrderID: 99, Instrument: "ETH-USD", Price: 100.0, Quantity: 1, Side: models.SideSell})

	assert.Equal(t, 1, mm.inventory)
	assert.Equal(t, -100.0, mm.realizedPnL)
	assert.Equal(t, uint64(1), mm.TotalTrades())
	assert.Equal(t, 1.0, mm.AverageTradeSize())

	// partially filled quote stays active
	_, ok := mm.activeOrders[10]
	assert.True(t, ok)

	mm.OnTrade(models.Trade{TradeID: 2, BuyOrderID: 10, SellOrderID: 98, Instrument: "ETH-USD", Price: 100.0, Quantity: 1, Side: models.SideSell})
	_, ok = mm.activeOrders[10]
	assert.False(t, ok)
	assert.Equal(t, 2, mm.inventory)
}

func TestSellFillAccounting(t *testing.T) {
	mm, _, _, _ := newTestMarketMaker(t, -500.0)
	mm.activeOrders[11] = models.Order{ID: 11, Instrument: "ETH-USD", Type: models.OrderTypeLimit, Side: models.SideSell, Price: 101.0, Quantity: 1}
	mm.filledQty[11] = 0

	mm.OnTrade(models.Trade{TradeID: 1, BuyOrderID: 99, SellOrderID: 11, Instrument: "ETH-USD", Price: 101.0, Quantity: 1, Side: models.SideBuy})

	assert.Equal(t, -1, mm.inventory)
	assert.Equal(t, 101.0, mm.realizedPnL)
}

func TestIgnoresOtherInstruments(t *testing.T) {
	mm, _, _, _ := newTestMarketMaker(t, -500.0)
	mm.activeOrders[10] = models.Order{ID: 10, Quantity: 1}
	mm.filledQty[10] = 0

	mm.OnTrade(models.Trade{TradeID: 1, BuyOrderID: 10, SellOrderID: 99, Instrument: "BTC-USD", Price: 100.0, Quantity: 1})

	assert.Equal(t, uint64(0), mm.TotalTrades())
	assert.Equal(t, 0.0, mm.realizedPnL)
}

func TestRiskLatchOnLoss(t *testing.T) {
	mm, bk, submits, _ := newTestMarketMaker(t, -50.0)
	seedTopOfBook(bk, 99.0, 101.0)
	mm.activeOrders[10] = models.Order{ID: 10, Instrument: "ETH-USD", Type: models.OrderTypeLimit, Side: models.SideBuy, Price: 30.0, Quantity: 10}
	mm.filledQty[10] = 0

	mm.OnTrade(models.Trade{TradeID: 1, BuyOrderID: 10, SellOrderID: 99, Instrument: "ETH-USD", Price: 30.0, Quantity: 1})
	assert.False(t, mm.RiskViolated())

	mm.OnTrade(models.Trade{TradeID: 2, BuyOrderID: 10, SellOrderID: 98, Instrument: "ETH-USD", Price: 30.0, Quantity: 1})
	assert.True(t, mm.RiskViolated())

	// subsequent quoting cycles produce no new quotes
	mm.placeQuotes()
	assert.Empty(t, submits.all())
}

func TestRiskLatchOnInventory(t *testing.T) {
	mm, _, _, _ := newTestMarketMaker(t, -500.0)
	mm.activeOrders[10] = models.Order{ID: 10, Instrument: "ETH-USD", Type: models.OrderTypeLimit, Side: models.SideBuy, Price: 1.0, Quantity: 20}
	mm.filledQty[10] = 0

	mm.OnTrade(models.Trade{TradeID: 1, BuyOrderID: 10, SellOrderID: 99, Instrument: "ETH-USD", Price: 1.0, Quantity: 11})

	assert.True(t, mm.RiskViolated())
}

func TestLatchIsSticky(t *testing.T) {
	mm, _, _, _ := newTestMarketMaker(t, -50.0)
	mm.activeOrders[10] = models.Order{ID: 10, Instrument: "ETH-USD", Type: models.OrderTypeLimit, Side: models.SideBuy, Price: 60.0, Quantity: 5}
	mm.filledQty[10] = 0
	mm.OnTrade(models.Trade{TradeID: 1, BuyOrderID: 10, SellOrderID: 99, Instrument: "ETH-USD", Price: 60.0, Quantity: 1})
	require.True(t, mm.RiskViolated())

	// a profitable fill afterwards does not clear the latch
	mm.activeOrders[11] = models.Order{ID: 11, Instrument: "ETH-USD", Type: models.OrderTypeLimit, Side: models.SideSell, Price: 100.0, Quantity: 1}
	mm.filledQty[11] = 0
	mm.OnTrade(models.Trade{TradeID: 2, BuyOrderID: 99, SellOrderID: 11, Instrument: "ETH-USD", Price: 100.0, Quantity: 1})

	assert.True(t, mm.RiskViolated())
}

func TestDrawdownTracksPeakShortfall(t *testing.T) {
	mm, _, _, _ := newTestMarketMaker(t, -500.0)
	mm.activeOrders[11] = models.Order{ID: 11, Instrument: "ETH-USD", Type: models.OrderTypeLimit, Side: models.SideSell, Price: 100.0, Quantity: 1}
	mm.filledQty[11] = 0
	mm.OnTrade(models.Trade{TradeID: 1, BuyOrderID: 99, SellOrderID: 11, Instrument: "ETH-USD", Price: 100.0, Quantity: 1})
	require.Equal(t, 100.0, mm.realizedPnL)

	mm.activeOrders[12] = models.Order{ID: 12, Instrument: "ETH-USD", Type: models.OrderTypeLimit, Side: models.SideBuy, Price: 130.0, Quantity: 1}
	mm.filledQty[12] = 0
	mm.OnTrade(models.Trade{TradeID: 2, BuyOrderID: 12, SellOrderID: 99, Instrument: "ETH-USD", Price: 130.0, Quantity: 1})

	assert.Equal(t, -30.0, mm.realizedPnL)
	assert.Equal(t, 130.0, mm.MaxDrawdown())
	assert.GreaterOrEqual(t, mm.MaxDrawdown(), 0.0)
}

func TestStartStopLifecycle(t *testing.T) {
	mm, bk, _, _ := newTestMarketMaker(t, -500.0)
	seedTopOfBook(bk, 99.0, 101.0)
	mm.now = nowMicros

	mm.Start()
	mm.Start() // double start is a no-op
	mm.Stop()
	mm.Stop() // double stop is a no-op

	assert.False(t, mm.running.Load())
}
