package sim

import (
	"sync"

	"github.com/sirupsen/logrus"

	"tradeit/pkg/book"
	"tradeit/pkg/models"
	"tradeit/pkg/strategy"
)

// Simulator is the central router: it owns one order book per instrument
// (created on first sight) and fans every trade a book emits to every
// registered strategy. A single router mutex serializes the whole pipeline
// from book lookup through trade dispatch, which keeps strategies observing
// trades in emission order.
type Simulator struct {
	logger *logrus.Logger

	mu         sync.Mutex
	books      map[string]*book.OrderBook
	strategies []strategy.Strategy
}

func New(logger *logrus.Logger) *Simulator {
	return &Simulator{
		logger: logger,
		books:  make(map[string]*book.OrderBook),
	}
}

// RegisterStrategy appends the strategy to the dispatch set.
func (s *Simulator) RegisterStrategy(st strategy.Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategies = append(s.strategies, st)
}

// OnOrder routes the order into its instrument's book and dispatches each
// resulting trade to every registered strategy. Safe to call from any
// goroutine.
func (s *Simulator) OnOrder(order models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bookLocked(order.Instrument)
	trades := b.AddOrder(order)
	for _, t := range trades {
		for _, st := range s.strategies {
			st.OnTrade(t)
		}
	}
}

// CancelOrder routes a cancellation to the instrument's book. It reports
// false when the instrument has no book or the order is unknown.
func (s *Simulator) CancelOrder(instrument string, id uint64) bool {
	s.mu.Lock()
	b, ok := s.books[instrument]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return b.CancelOrder(id)
}

// Book returns the order book for the instrument, creating it if needed.
func (s *Simulator) Book(instrument string) *book.OrderBook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookLocked(instrument)
}

func (s *Simulator) bookLocked(instrument string) *book.OrderBook {
	b, ok := s.books[instrument]
	if !ok {
		b = book.New(instrument, s.logger)
		s.books[instrument] = b
		s.logger.WithField("instrument", instrument).Debug("order book created")
	}
	return b
}

// Start starts every registered strategy in registration order.
func (s *Simulator) Start() {
	for _, st := range s.snapshotStrategies() {
		st.Start()
	}
}

// Stop stops every registered strategy in registration order. Strategy
// workers may be blocked submitting orders, so the router lock is not held
// across the joins.
func (s *Simulator) Stop() {
	for _, st := range s.snapshotStrategies() {
		st.Stop()
	}
}

func (s *Simulator) snapshotStrategies() []strategy.Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]strategy.Strategy, len(s.strategies))
	copy(out, s.strategies)
	return out
}
