package worker

import (
	"context"
	"log/slog"
	"time"
)

// Replayer drains dead-lettered audit events. *audit.Log implements it.
type Replayer interface {
	Replay(ctx context.Context, n int) (int, error)
}

const (
	defaultInterval  = 30 * time.Second
	defaultBatchSize = 100
)

// Worker periodically replays dead-lettered audit events into the store.
type Worker struct {
	source    Replayer
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

// Option configures the Worker.
type Option func(*Worker)

func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

func NewWorker(source Replayer, opts ...Option) *Worker {
	w := &Worker{
		source:    source,
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run replays on every tick until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Drain(ctx)
		}
	}
}

// Drain replays full batches until the buffer is empty or a replay fails.
// It returns the number of events persisted.
func (w *Worker) Drain(ctx context.Context) int {
	total := 0
	for {
		n, err := w.source.Replay(ctx, w.batchSize)
		total += n
		if err != nil {
			if w.logger != nil {
				w.logger.WarnContext(ctx, "audit replay stopped", "replayed", total, "error", err)
			}
			return total
		}
		if n < w.batchSize {
			if total > 0 && w.logger != nil {
				w.logger.InfoContext(ctx, "audit events replayed", "replayed", total)
			}
			return total
		}
	}
}
