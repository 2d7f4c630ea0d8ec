package strategy

import (
	"sync"

	"tradeit/pkg/models"
)

// SubmitFunc delivers an order from a strategy back into the simulator.
type SubmitFunc func(models.Order)

// CancelFunc cancels a resting order by instrument and id, reporting whether
// it was found.
type CancelFunc func(instrument string, id uint64) bool

// Strategy is the capability every trading strategy satisfies. Start spawns
// the strategy's worker; Stop signals it and joins before returning. A
// strategy pairs exactly one Start with one Stop; redundant calls are no-ops.
type Strategy interface {
	Start()
	Stop()
	OnMarketData(order models.Order)
	OnTrade(trade models.Trade)
	Name() string
	PrintSummary()
	ExportSummary(path string) error

	TotalTrades() uint64
	AverageTradeSize() float64
	MaxDrawdown() float64
	RiskViolated() bool
}

// tracker carries the performance state every strategy shares: realized PnL,
// its historical peak, the worst drawdown below that peak, the latched risk
// flag and trade totals. The embedded mutex doubles as the owning strategy's
// state mutex, so strategies guard their own fields with it too.
type tracker struct {
	mu            sync.Mutex
	realizedPnL   float64
	peakPnL       float64
	maxDrawdown   float64
	riskViolated  bool
	totalTrades   uint64
	totalQuantity uint64
}

// markPnL folds the current realized PnL into the peak and drawdown.
// Callers hold mu.
func (t *tracker) markPnL() {
	if t.realizedPnL > t.peakPnL {
		t.peakPnL = t.realizedPnL
	}
	if dd := t.peakPnL - t.realizedPnL; dd > t.maxDrawdown {
		t.maxDrawdown = dd
	}
}

func (t *tracker) TotalTrades() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalTrades
}

func (t *tracker) AverageTradeSize() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.averageTradeSizeLocked()
}

func (t *tracker) averageTradeSizeLocked() float64 {
	if t.totalTrades == 0 {
		return 0
	}
	return float64(t.totalQuantity) / float64(t.totalTrades)
}

func (t *tracker) MaxDrawdown() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxDrawdown
}

func (t *tracker) RiskViolated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.riskViolated
}
