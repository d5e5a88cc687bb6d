package watcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/pinbar/polywatcher/internal/domain"
	"github.com/pinbar/polywatcher/internal/platform/polymarket"
)

const (
	streamRetryDelay    = 2 * time.Second
	streamMaxRetryDelay = 60 * time.Second
)

// Stream is the push feed the worker drives. Satisfied by
// polymarket.UserWSClient; once Connect returns nil the stream keeps
// itself alive until Close.
type Stream interface {
	Connect(ctx context.Context) error
	OnTrade(polymarket.TradeHandler)
	OnOrder(polymarket.OrderHandler)
	Close() error
}

// streamWorker wires a Stream into the trade/order ingest path. Its only
// job is the initial connection: repeated with backoff until it succeeds
// or the context is canceled.
type streamWorker struct {
	stream Stream
	trades func(domain.Trade)
	orders func(domain.Order)
	logger *slog.Logger
}

func newStreamWorker(stream Stream, trades func(domain.Trade), orders func(domain.Order), logger *slog.Logger) *streamWorker {
	return &streamWorker{
		stream: stream,
		trades: trades,
		orders: orders,
		logger: logger.With(slog.String("component", "stream_worker")),
	}
}

// Run registers the ingest handlers, connects, and then blocks until the
// context is canceled. The stream handles its own reconnects after the
// first successful connect.
func (w *streamWorker) Run(ctx context.Context) error {
	w.stream.OnTrade(func(t domain.Trade) {
		w.trades(t)
	})
	w.stream.OnOrder(func(o domain.Order) {
		w.orders(o)
	})

	delay := streamRetryDelay
	for {
		err := w.stream.Connect(ctx)
		if err == nil {
			break
		}

		w.logger.Warn("stream connect failed, retrying",
			slog.Duration("next_delay", delay),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > streamMaxRetryDelay {
			delay = streamMaxRetryDelay
		}
	}

	w.logger.Info("stream connected")
	defer w.logger.Info("stream worker stopped")

	<-ctx.Done()
	return w.stream.Close()
}
