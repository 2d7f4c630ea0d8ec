package strategy

import (
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"tradeit/pkg/models"
	"tradeit/pkg/report"
)

const (
	arbitragePeriod = 500 * time.Millisecond

	// Hard floor for the cross-spread. The configured spread threshold is
	// accepted but the live rule uses this constant; preserved as observed.
	arbitrageMinSpread = 0.05

	arbitrageOrderQty = 10
)

// ArbitrageTrader watches two instruments and fires paired limit orders when
// the cross-spread between them exceeds a hard threshold.
type ArbitrageTrader struct {
	tracker

	symbol1 string
	symbol2 string
	submit  SubmitFunc

	spreadThreshold float64
	orderSize       int
	maxLoss         float64
	logsDir         string
	logger          *logrus.Logger

	running   atomic.Bool
	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// guarded by tracker.mu
	bestBid   map[string]float64
	bestAsk   map[string]float64
	positions map[string]int

	tradeLog *report.CSVLog

	now func() uint64
}

func NewArbitrageTrader(symbol1, symbol2 string, submit SubmitFunc, spreadThreshold float64, orderSize int, maxLoss float64, logsDir string, logger *logrus.Logger) *ArbitrageTrader {
	return &ArbitrageTrader{
		symbol1:         symbol1,
		symbol2:         symbol2,
		submit:          submit,
		spreadThreshold: spreadThreshold,
		orderSize:       orderSize,
		maxLoss:         maxLoss,
		logsDir:         logsDir,
		logger:          logger,
		stopCh:          make(chan struct{}),
		bestBid:         make(map[string]float64),
		bestAsk:         make(map[string]float64),
		positions:       make(map[string]int),
		now:             nowMicros,
	}
}

func (a *ArbitrageTrader) Name() string {
	return "ArbitrageTrader"
}

func (a *ArbitrageTrader) Start() {
	if !a.running.CompareAndSwap(false, true) {
		return
	}
	a.logger.WithFields(logrus.Fields{
		"symbol1": a.symbol1,
		"symbol2": a.symbol2,
	}).Info("arbitrage trader started")
	a.tradeLog = report.OpenCSVLog(
		filepath.Join(a.logsDir, "arbitrage_trades.csv"),
		[]string{
			"trade_id", "instrument", "price", "quantity", "pnl",
			"position_" + a.symbol1, "position_" + a.symbol2,
			"total_pnl", "risk_breached", "timestamp",
		},
		a.logger,
	)
	a.wg.Add(1)
	go a.run()
}

func (a *ArbitrageTrader) Stop() {
	a.running.Store(false)
	a.closeOnce.Do(func() { close(a.stopCh) })
	a.wg.Wait()
	a.tradeLog.Close()
	a.logger.Info("arbitrage trader stopped")
}

func (a *ArbitrageTrader) run() {
	defer a.wg.Done()
	ticker := time.NewTicker(arbitragePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			if !a.running.Load() {
				return
			}
			a.mu.Lock()
			pending := a.checkOpportunityLocked()
			a.mu.Unlock()
			for _, o := range pending {
				a.submit(o)
			}
		}
	}
}

// OnMarketData folds the quote into the per-instrument best bid/ask and
// checks for an opportunity.
func (a *ArbitrageTrader) OnMarketData(order models.Order) {
	if !a.running.Load() {
		return
	}

	a.mu.Lock()
	if order.Side == models.SideBuy {
		if cur, ok := a.bestBid[order.Instrument]; !ok || order.Price > cur {
			a.bestBid[order.Instrument] = order.Price
		}
	} else {
		if cur, ok := a.bestAsk[order.Instrument]; !ok || order.Price < cur {
			a.bestAsk[order.Instrument] = order.Price
		}
	}
	pending := a.checkOpportunityLocked()
	a.mu.Unlock()

	// Submissions re-enter the simulator and can fan trades straight back
	// into OnTrade, so they happen after the state lock is released.
	for _, o := range pending {
		a.submit(o)
	}
}

// checkOpportunityLocked applies the opportunity rule and returns the paired
// orders to submit. Callers hold mu.
func (a *ArbitrageTrader) checkOpportunityLocked() []models.Order {
	ask1, ok1 := a.bestAsk[a.symbol1]
	bid2, ok2 := a.bestBid[a.symbol2]
	ask2, ok3 := a.bestAsk[a.symbol2]
	bid1, ok4 := a.bestBid[a.symbol1]
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil
	}

	now := a.now()
	var orders []models.Order

	// buy symbol1, sell symbol2
	if bid2-ask1 > arbitrageMinSpread {
		orders = append(orders,
			models.Order{ID: models.NextOrderID(), Instrument: a.symbol1, Type: models.OrderTypeLimit, Side: models.SideBuy, Price: ask1, Quantity: arbitrageOrderQty, Timestamp: now},
			models.Order{ID: models.NextOrderID(), Instrument: a.symbol2, Type: models.OrderTypeLimit, Side: models.SideSell, Price: bid2, Quantity: arbitrageOrderQty, Timestamp: now},
		)
		a.logger.WithFields(logrus.Fields{
			"buy":       a.symbol1,
			"buy_price": ask1,
			"sell":      a.symbol2,
			"sell_price": bid2,
		}).Info("arbitrage opportunity")
	}

	// buy symbol2, sell symbol1
	if bid1-ask2 > arbitrageMinSpread {
		orders = append(orders,
			models.Order{ID: models.NextOrderID(), Instrument: a.symbol2, Type: models.OrderTypeLimit, Side: models.SideBuy, Price: ask2, Quantity: arbitrageOrderQty, Timestamp: now},
			models.Order{ID: models.NextOrderID(), Instrument: a.symbol1, Type: models.OrderTypeLimit, Side: models.SideSell, Price: bid1, Quantity: arbitrageOrderQty, Timestamp: now},
		)
		a.logger.WithFields(logrus.Fields{
			"buy":       a.symbol2,
			"buy_price": ask2,
			"sell":      a.symbol1,
			"sell_price": bid1,
		}).Info("arbitrage opportunity")
	}

	return orders
}

// OnTrade books the trade against the pair's positions. Trades for other
// instruments are ignored entirely.
func (a *ArbitrageTrader) OnTrade(trade models.Trade) {
	if !a.running.Load() {
		return
	}
	if trade.Instrument != a.symbol1 && trade.Instrument != a.symbol2 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	qty := int(trade.Quantity)
	if trade.Side != models.SideBuy {
		qty = -qty
	}
	a.positions[trade.Instrument] += qty
	pnl := float64(qty) * trade.Price

	a.realizedPnL += pnl
	a.totalTrades++
	a.totalQuantity += uint64(trade.Quantity)
	a.markPnL()

	if a.realizedPnL < a.maxLoss {
		if !a.riskViolated {
			a.logger.WithField("realized_pnl", a.realizedPnL).Warn("arbitrage trader risk violation, stopping")
		}
		a.riskViolated = true
		a.running.Store(false)
	}

	a.logger.WithFields(logrus.Fields{
		"trade_id":   trade.TradeID,
		"instrument": trade.Instrument,
		"price":      trade.Price,
		"quantity":   trade.Quantity,
		"pnl":        pnl,
		"position_1": a.positions[a.symbol1],
		"position_2": a.positions[a.symbol2],
		"total_pnl":  a.realizedPnL,
	}).Info("arbitrage trade received")

	a.tradeLog.Append([]string{
		strconv.FormatUint(trade.TradeID, 10),
		trade.Instrument,
		formatFloat(trade.Price),
		strconv.FormatUint(uint64(trade.Quantity), 10),
		formatFloat(pnl),
		strconv.Itoa(a.positions[a.symbol1]),
		strconv.Itoa(a.positions[a.symbol2]),
		formatFloat(a.realizedPnL),
		strconv.FormatBool(a.riskViolated),
		strconv.FormatUint(trade.Timestamp, 10),
	})
}

func (a *ArbitrageTrader) PrintSummary() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger.WithFields(logrus.Fields{
		"strategy":           "arbitrage",
		"realized_pnl":       a.realizedPnL,
		"position_1":         a.positions[a.symbol1],
		"position_2":         a.positions[a.symbol2],
		"total_trades":       a.totalTrades,
		"average_trade_size": a.averageTradeSizeLocked(),
		"max_drawdown":       a.maxDrawdown,
		"risk_breached":      a.riskViolated,
	}).Info("arbitrage summary")
}

func (a *ArbitrageTrader) ExportSummary(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return report.WriteSummary(path, map[string]interface{}{
		"strategy":              "arbitrage",
		"pnl":                   a.realizedPnL,
		"position_" + a.symbol1: a.positions[a.symbol1],
		"position_" + a.symbol2: a.positions[a.symbol2],
		"total_trades":          a.totalTrades,
		"average_trade_size":    a.averageTradeSizeLocked(),
		"max_drawdown":          a.maxDrawdown,
		"risk_breached":         a.riskViolated,
	})
}
