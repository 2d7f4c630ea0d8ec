package strategy

import (
	"math"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"tradeit/pkg/book"
	"tradeit/pkg/models"
	"tradeit/pkg/report"
)

const (
	quotePeriod       = 500 * time.Millisecond
	maxQuoteAgeMicros = 500_000
	maxPriceDrift     = 0.02
	quoteQuantity     = 1
	inventoryLimit    = 10
)

// MarketMaker continually quotes a bid and an ask around the mid-price of
// its book, honoring inventory and loss limits.
type MarketMaker struct {
	tracker

	symbol  string
	book    *book.OrderBook
	submit  SubmitFunc
	cancel  CancelFunc
	maxLoss float64
	logsDir string
	logger  *logrus.Logger

	running   atomic.Bool
	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	marketMu     sync.Mutex
	recentOrders []models.Order

	// quote state, guarded by tracker.mu
	inventory    int
	activeOrders map[uint64]models.Order
	filledQty    map[uint64]uint32
	currentBidID uint64
	currentAskID uint64
	totalQuotes  uint64

	metricsLog *report.CSVLog
	tradeLog   *report.CSVLog

	now func() uint64
}

func NewMarketMaker(symbol string, bk *book.OrderBook, submit SubmitFunc, cancel CancelFunc, maxLoss float64, logsDir string, logger *logrus.Logger) *MarketMaker {
	return &MarketMaker{
		symbol:       symbol,
		book:         bk,
		submit:       submit,
		cancel:       cancel,
		maxLoss:      maxLoss,
		logsDir:      logsDir,
		logger:       logger,
		stopCh:       make(chan struct{}),
		activeOrders: make(map[uint64]models.Order),
		filledQty:    make(map[uint64]uint32),
		now:          nowMicros,
	}
}

func (m *MarketMaker) Name() string {
	return "MarketMaker"
}

func (m *MarketMaker) Start() {
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	m.metricsLog = report.OpenCSVLog(
		filepath.Join(m.logsDir, "market_maker_metrics.csv"),
		[]string{"timestamp", "inventory", "pnl", "spread", "bid_id", "ask_id"},
		m.logger,
	)
	m.tradeLog = report.OpenCSVLog(
		filepath.Join(m.logsDir, "market_maker_trades.csv"),
		[]string{"trade_id", "instrument", "price", "quantity", "pnl", "inventory", "timestamp", "risk_breached"},
		m.logger,
	)
	m.wg.Add(1)
	go m.run()
}

func (m *MarketMaker) Stop() {
	m.running.Store(false)
	m.closeOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
	m.metricsLog.Close()
	m.tradeLog.Close()

	m.mu.Lock()
	quotes := m.totalQuotes
	trades := m.totalTrades
	m.mu.Unlock()
	ratio := 0.0
	if trades > 0 {
		ratio = float64(quotes) / float64(trades)
	}
	m.logger.WithFields(logrus.Fields{
		"quotes":               quotes,
		"trades":               trades,
		"quote_to_trade_ratio": ratio,
	}).Info("market maker stopped")
}

func (m *MarketMaker) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(quotePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if !m.running.Load() {
				return
			}
			m.placeQuotes()
		}
	}
}

func (m *MarketMaker) OnMarketData(order models.Order) {
	if order.Instrument != m.symbol {
		return
	}
	m.marketMu.Lock()
	defer m.marketMu.Unlock()
	m.recentOrders = append(m.recentOrders, order)
	if len(m.recentOrders) > 100 {
		m.recentOrders = m.recentOrders[1:]
	}
}

// OnTrade credits fills against the maker's own outstanding quotes and
// re-checks the risk limits.
func (m *MarketMaker) OnTrade(trade models.Trade) {
	if trade.Instrument != m.symbol {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalTrades++

	var pnl float64
	if own, ok := m.activeOrders[trade.BuyOrderID]; ok {
		m.filledQty[trade.BuyOrderID] += trade.Quantity
		m.inventory += int(trade.Quantity)
		leg := -trade.Price * float64(trade.Quantity)
		m.realizedPnL += leg
		pnl += leg
		m.totalQuantity += uint64(trade.Quantity)
		if m.filledQty[trade.BuyOrderID] >= own.Quantity {
			delete(m.activeOrders, trade.BuyOrderID)
			delete(m.filledQty, trade.BuyOrderID)
		}
	}
	if own, ok := m.activeOrders[trade.SellOrderID]; ok {
		m.filledQty[trade.SellOrderID] += trade.Quantity
		m.inventory -= int(trade.Quantity)
		leg := trade.Price * float64(trade.Quantity)
		m.realizedPnL += leg
		pnl += leg
		m.totalQuantity += uint64(trade.Quantity)
		if m.filledQty[trade.SellOrderID] >= own.Quantity {
			delete(m.activeOrders, trade.SellOrderID)
			delete(m.filledQty, trade.SellOrderID)
		}
	}

	m.markPnL()

	if m.realizedPnL <= m.maxLoss || absInt(m.inventory) > inventoryLimit {
		if !m.riskViolated {
			m.logger.WithFields(logrus.Fields{
				"realized_pnl": m.realizedPnL,
				"inventory":    m.inventory,
			}).Warn("market maker risk violation detected post-trade, stopping")
		}
		m.riskViolated = true
		m.running.Store(false)
		return
	}

	m.logger.WithFields(logrus.Fields{
		"inventory":    m.inventory,
		"realized_pnl": m.realizedPnL,
	}).Info("market maker position updated")

	m.tradeLog.Append([]string{
		strconv.FormatUint(trade.TradeID, 10),
		trade.Instrument,
		formatFloat(trade.Price),
		strconv.FormatUint(uint64(trade.Quantity), 10),
		formatFloat(pnl),
		strconv.Itoa(m.inventory),
		strconv.FormatUint(trade.Timestamp, 10),
		strconv.FormatBool(m.riskViolated),
	})
}

// placeQuotes runs one quoting cycle: pre-check risk, compute target prices
// from the book's mid, refresh stale quotes and fill any empty slot.
func (m *MarketMaker) placeQuotes() {
	m.mu.Lock()
	if m.realizedPnL <= m.maxLoss || absInt(m.inventory) > inventoryLimit {
		m.riskViolated = true
		m.mu.Unlock()
		m.running.Store(false)
		m.logger.Warn("market maker risk limits exceeded, stopping")
		return
	}
	m.mu.Unlock()

	bestBid, haveBid := m.book.BestBid()
	bestAsk, haveAsk := m.book.BestAsk()
	if !haveBid || !haveAsk {
		return
	}

	mid := (bestBid.Price + bestAsk.Price) / 2
	half := math.Max(0.01, (bestAsk.Price-bestBid.Price)/2)
	bidPrice := mid - half
	askPrice := mid + half
	now := m.now()

	var cancels []uint64
	var quotes []models.Order

	m.mu.Lock()
	if m.quoteStaleLocked(m.currentBidID, bidPrice, now) {
		if m.currentBidID != 0 {
			cancels = append(cancels, m.currentBidID)
			delete(m.activeOrders, m.currentBidID)
			delete(m.filledQty, m.currentBidID)
		}
		m.currentBidID = 0
	}
	if m.quoteStaleLocked(m.currentAskID, askPrice, now) {
		if m.currentAskID != 0 {
			cancels = append(cancels, m.currentAskID)
			delete(m.activeOrders, m.currentAskID)
			delete(m.filledQty, m.currentAskID)
		}
		m.currentAskID = 0
	}

	if m.currentBidID == 0 {
		bid := models.Order{
			ID:         models.NextOrderID(),
			Instrument: m.symbol,
			Type:       models.OrderTypeLimit,
			Side:       models.SideBuy,
			Price:      bidPrice,
			Quantity:   quoteQuantity,
			Timestamp:  now,
		}
		m.activeOrders[bid.ID] = bid
		m.filledQty[bid.ID] = 0
		m.currentBidID = bid.ID
		quotes = append(quotes, bid)
	}
	if m.currentAskID == 0 {
		ask := models.Order{
			ID:         models.NextOrderID(),
			Instrument: m.symbol,
			Type:       models.OrderTypeLimit,
			Side:       models.SideSell,
			Price:      askPrice,
			Quantity:   quoteQuantity,
			Timestamp:  now,
		}
		m.activeOrders[ask.ID] = ask
		m.filledQty[ask.ID] = 0
		m.currentAskID = ask.ID
		quotes = append(quotes, ask)
	}

	m.totalQuotes += uint64(len(quotes))
	inventory := m.inventory
	pnl := m.realizedPnL
	bidID := m.currentBidID
	askID := m.currentAskID
	m.mu.Unlock()

	// Cancels and submits re-enter the simulator, so they run outside the
	// state lock: a submitted quote can trade immediately and come straight
	// back through OnTrade on this goroutine.
	for _, id := range cancels {
		m.cancel(m.symbol, id)
	}
	for _, q := range quotes {
		m.submit(q)
	}

	m.metricsLog.Append([]string{
		time.Now().Format("2006-01-02 15:04:05"),
		strconv.Itoa(inventory),
		formatFloat(pnl),
		formatFloat(half),
		strconv.FormatUint(bidID, 10),
		strconv.FormatUint(askID, 10),
	})
}

// quoteStaleLocked reports whether a quote slot needs refreshing: the slot is
// empty, the quote is gone from the active set, it outlived the max age, or
// its price drifted past the threshold. Callers hold mu.
func (m *MarketMaker) quoteStaleLocked(id uint64, newPrice float64, now uint64) bool {
	if id == 0 {
		return true
	}
	old, ok := m.activeOrders[id]
	if !ok {
		return true
	}
	expired := now > old.Timestamp+maxQuoteAgeMicros
	moved := math.Abs(old.Price-newPrice) > maxPriceDrift
	return expired || moved
}

func (m *MarketMaker) PrintSummary() {
	m.mu.Lock()
	defer m.mu.Unlock()
	ratio := 0.0
	if m.totalTrades > 0 {
		ratio = float64(m.totalQuotes) / float64(m.totalTrades)
	}
	m.logger.WithFields(logrus.Fields{
		"strategy":             "marketmaker",
		"realized_pnl":         m.realizedPnL,
		"inventory":            m.inventory,
		"symbol":               m.symbol,
		"total_quotes":         m.totalQuotes,
		"total_trades":         m.totalTrades,
		"average_trade_size":   m.averageTradeSizeLocked(),
		"quote_to_trade_ratio": ratio,
		"max_drawdown":         m.maxDrawdown,
		"risk_breached":        m.riskViolated,
	}).Info("market maker summary")
}

func (m *MarketMaker) ExportSummary(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ratio := 0.0
	if m.totalTrades > 0 {
		ratio = float64(m.totalQuotes) / float64(m.totalTrades)
	}
	return report.WriteSummary(path, map[string]interface{}{
		"strategy":             "marketmaker",
		"pnl":                  m.realizedPnL,
		"inventory_" + m.symbol: m.inventory,
		"total_quotes":         m.totalQuotes,
		"total_trades":         m.totalTrades,
		"average_trade_size":   m.averageTradeSizeLocked(),
		"quote_to_trade_ratio": ratio,
		"max_drawdown":         m.maxDrawdown,
		"risk_breached":        m.riskViolated,
	})
}

func nowMicros() uint64 {
	return uint64(time.Now().UnixMicro())
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
