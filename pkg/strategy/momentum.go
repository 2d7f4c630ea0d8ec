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
	momentumPeriod   = 200 * time.Millisecond
	momentumWindow   = 5
	momentumMinData  = 3
	momentumCooldown = 1_000_000 // microseconds
)

// MomentumTrader fires a market order in the direction of a short-window
// price signal, rate-limited by a cooldown.
type MomentumTrader struct {
	tracker

	symbol  string
	submit  SubmitFunc
	maxLoss float64
	logsDir string
	logger  *logrus.Logger

	running   atomic.Bool
	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dataMu       sync.Mutex
	recentPrices []float64
	cooldownEnd  uint64

	// guarded by tracker.mu
	position int

	tradeLog *report.CSVLog

	now func() uint64
}

func NewMomentumTrader(symbol string, submit SubmitFunc, maxLoss float64, logsDir string, logger *logrus.Logger) *MomentumTrader {
	return &MomentumTrader{
		symbol:  symbol,
		submit:  submit,
		maxLoss: maxLoss,
		logsDir: logsDir,
		logger:  logger,
		stopCh:  make(chan struct{}),
		now:     nowMicros,
	}
}

func (m *MomentumTrader) Name() string {
	return "MomentumTrader"
}

func (m *MomentumTrader) Start() {
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	m.tradeLog = report.OpenCSVLog(
		filepath.Join(m.logsDir, "momentum_trades.csv"),
		[]string{"trade_id", "instrument", "price", "quantity", "pnl", "position", "timestamp", "risk_breached"},
		m.logger,
	)
	m.wg.Add(1)
	go m.run()
}

func (m *MomentumTrader) Stop() {
	m.running.Store(false)
	m.closeOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
	m.tradeLog.Close()
}

func (m *MomentumTrader) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(momentumPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if !m.running.Load() {
				return
			}
			m.evaluateMomentum()
		}
	}
}

// OnMarketData appends the price to the sliding window for the traded
// symbol.
func (m *MomentumTrader) OnMarketData(order models.Order) {
	if order.Instrument != m.symbol {
		return
	}
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	m.recentPrices = append(m.recentPrices, order.Price)
	if len(m.recentPrices) > momentumWindow {
		m.recentPrices = m.recentPrices[1:]
	}
}

// OnTrade attributes the trade to this strategy whenever the instrument
// matches. The direction heuristic compares the two order ids: it assumes
// this strategy's order id is the smaller of the pair, which holds only by
// coincidence of allocation order. Preserved as-is for report compatibility.
func (m *MomentumTrader) OnTrade(trade models.Trade) {
	if trade.Instrument != m.symbol {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	qty := int64(trade.Quantity)
	if trade.BuyOrderID >= trade.SellOrderID {
		qty = -qty
	}
	m.position += int(qty)
	pnl := -float64(qty) * trade.Price // sell is +PnL, buy is -PnL

	m.realizedPnL += pnl
	m.totalTrades++
	m.totalQuantity += uint64(trade.Quantity)
	m.markPnL()

	if m.realizedPnL < m.maxLoss {
		if !m.riskViolated {
			m.logger.WithField("realized_pnl", m.realizedPnL).Warn("momentum trader risk violation, stopping")
		}
		m.riskViolated = true
		m.running.Store(false)
	}

	m.tradeLog.Append([]string{
		strconv.FormatUint(trade.TradeID, 10),
		trade.Instrument,
		formatFloat(trade.Price),
		strconv.FormatUint(uint64(trade.Quantity), 10),
		formatFloat(pnl),
		strconv.Itoa(m.position),
		strconv.FormatUint(trade.Timestamp, 10),
		strconv.FormatBool(m.riskViolated),
	})
}

// evaluateMomentum compares the last observed price against the mean of the
// earlier window and fires a market order in the signal's direction, unless
// still cooling down.
func (m *MomentumTrader) evaluateMomentum() {
	m.dataMu.Lock()
	if len(m.recentPrices) < momentumMinData {
		m.dataMu.Unlock()
		return
	}

	current := m.recentPrices[len(m.recentPrices)-1]
	average := 0.0
	for _, p := range m.recentPrices[:len(m.recentPrices)-1] {
		average += p
	}
	average /= float64(len(m.recentPrices) - 1)

	now := m.now()
	if now < m.cooldownEnd {
		m.dataMu.Unlock()
		return
	}
	m.cooldownEnd = now + momentumCooldown

	action := models.SideSell
	if current > average {
		action = models.SideBuy
	}
	order := models.Order{
		ID:         models.NextOrderID(),
		Instrument: m.symbol,
		Type:       models.OrderTypeMarket,
		Side:       action,
		Price:      current,
		Quantity:   1,
		Timestamp:  now,
	}
	m.dataMu.Unlock()

	m.submit(order)
}

// LatestPrice returns the most recent observed price, or false when no
// price has been seen yet.
func (m *MomentumTrader) LatestPrice() (float64, bool) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	if len(m.recentPrices) == 0 {
		return 0, false
	}
	return m.recentPrices[len(m.recentPrices)-1], true
}

func (m *MomentumTrader) PrintSummary() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.WithFields(logrus.Fields{
		"strategy":           "momentum",
		"realized_pnl":       m.realizedPnL,
		"position":           m.position,
		"symbol":             m.symbol,
		"total_trades":       m.totalTrades,
		"average_trade_size": m.averageTradeSizeLocked(),
		"max_drawdown":       m.maxDrawdown,
		"risk_breached":      m.riskViolated,
	}).Info("momentum summary")
}

func (m *MomentumTrader) ExportSummary(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return report.WriteSummary(path, map[string]interface{}{
		"strategy":            "momentum",
		"pnl":                 m.realizedPnL,
		"position_" + m.symbol: m.position,
		"total_trades":        m.totalTrades,
		"average_trade_size":  m.averageTradeSizeLocked(),
		"max_drawdown":        m.maxDrawdown,
		"risk_breached":       m.riskViolated,
	})
}
