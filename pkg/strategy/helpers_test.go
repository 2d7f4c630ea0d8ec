package strategy

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"tradeit/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// submitRecorder captures orders a strategy submits.
type submitRecorder struct {
	mu     sync.Mutex
	orders []models.Order
}

func (r *submitRecorder) submit(o models.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, o)
}

func (r *submitRecorder) all() []models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Order, len(r.orders))
	copy(out, r.orders)
	return out
}

// cancelRecorder captures cancel requests a strategy issues.
type cancelRecorder struct {
	mu  sync.Mutex
	ids []uint64
}

func (r *cancelRecorder) cancel(instrument string, id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return true
}

func (r *cancelRecorder) all() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, len(r.ids))
	copy(out, r.ids)
	return out
}
