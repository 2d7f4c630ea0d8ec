package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"tradeit/pkg/models"
)

// OrderCallback receives each accepted tick as an order.
type OrderCallback func(models.Order)

// Handler replays a CSV tick file. Rows are
// timestamp,symbol,side,price,quantity,type; malformed rows are skipped with
// a warning. Start paces delivery through a rate limiter; Load delivers
// everything synchronously without pacing.
type Handler struct {
	path    string
	logger  *logrus.Logger
	limiter *rate.Limiter

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
}

func NewHandler(path string, eventsPerSecond float64, logger *logrus.Logger) *Handler {
	if eventsPerSecond <= 0 {
		eventsPerSecond = 100
	}
	return &Handler{
		path:    path,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(eventsPerSecond), 1),
		done:    make(chan struct{}),
	}
}

// Start spawns the replay worker.
func (h *Handler) Start(cb OrderCallback) {
	if !h.running.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.wg.Add(1)
	go h.feedLoop(ctx, cb)
}

// Stop cancels the replay and joins the worker.
func (h *Handler) Stop() {
	h.running.Store(false)
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
}

// Done is closed when the replay reaches end of file or is stopped.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

func (h *Handler) feedLoop(ctx context.Context, cb OrderCallback) {
	defer h.wg.Done()
	defer close(h.done)

	if err := h.replay(ctx, cb, true); err != nil {
		if ctx.Err() == nil {
			h.logger.WithError(err).Error("market data replay failed")
		}
		return
	}
	h.logger.Info("finished processing market data file")
}

// Load delivers every accepted row without pacing.
func (h *Handler) Load(cb OrderCallback) error {
	return h.replay(context.Background(), cb, false)
}

func (h *Handler) replay(ctx context.Context, cb OrderCallback, throttled bool) error {
	file, err := os.Open(h.path)
	if err != nil {
		return fmt.Errorf("failed to open market data file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	first := true
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			h.logger.WithError(err).Warn("skipping unreadable line")
			continue
		}

		// A leading row mentioning "timestamp" is a header.
		if first {
			first = false
			if strings.Contains(strings.Join(record, ","), "timestamp") {
				continue
			}
		}

		if len(record) != 6 {
			h.logger.WithField("line", strings.Join(record, ",")).Warn("skipping malformed line")
			continue
		}

		order, err := parseRecord(record)
		if err != nil {
			h.logger.WithError(err).WithField("line", strings.Join(record, ",")).Warn("failed to parse line")
			continue
		}

		if throttled {
			if err := h.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		cb(order)
		h.logger.WithFields(logrus.Fields{
			"instrument": order.Instrument,
			"side":       order.Side,
			"price":      order.Price,
			"quantity":   order.Quantity,
			"timestamp":  order.Timestamp,
		}).Debug("order parsed")
	}
}

// parseRecord turns one accepted row into an order with a freshly allocated
// id. Unrecognized sides fall back to SELL and unrecognized types to MARKET.
func parseRecord(record []string) (models.Order, error) {
	timestamp, err := strconv.ParseUint(strings.TrimSpace(record[0]), 10, 64)
	if err != nil {
		return models.Order{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	symbol := strings.TrimSpace(record[1])
	price, err := strconv.ParseFloat(strings.TrimSpace(record[3]), 64)
	if err != nil {
		return models.Order{}, fmt.Errorf("invalid price: %w", err)
	}
	quantity, err := strconv.ParseUint(strings.TrimSpace(record[4]), 10, 32)
	if err != nil {
		return models.Order{}, fmt.Errorf("invalid quantity: %w", err)
	}

	side := models.SideSell
	if strings.TrimSpace(record[2]) == "BUY" {
		side = models.SideBuy
	}
	orderType := models.OrderTypeMarket
	if strings.TrimSpace(record[5]) == "LIMIT" {
		orderType = models.OrderTypeLimit
	}

	return models.Order{
		ID:         models.NextOrderID(),
		Instrument: symbol,
		Type:       orderType,
		Side:       side,
		Price:      price,
		Quantity:   uint32(quantity),
		Timestamp:  timestamp,
	}, nil
}
