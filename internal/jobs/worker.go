package jobs

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler executes one claimed job. A returned error moves the job to the
// error state with the message preserved; nil moves it to done.
type Handler func(ctx context.Context, j Job) error

// Worker polls the store for due jobs and runs them through registered
// handlers. One failing job never aborts the batch.
type Worker struct {
	store       Store
	handlers    map[string]Handler
	poll        time.Duration
	concurrency int
	batchSize   int
}

// NewWorker creates a worker over store. Handlers are registered per job
// kind before Run.
func NewWorker(store Store, poll time.Duration, concurrency, batchSize int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	if batchSize < 1 {
		batchSize = 1
	}
	return &Worker{
		store:       store,
		handlers:    make(map[string]Handler),
		poll:        poll,
		concurrency: concurrency,
		batchSize:   batchSize,
	}
}

// Register installs the handler for a job kind.
func (w *Worker) Register(kind string, h Handler) {
	w.handlers[kind] = h
}

// Run polls until ctx is cancelled. An empty poll sleeps; a full batch polls
// again immediately to drain backlog faster than the poll interval.
func (w *Worker) Run(ctx context.Context) error {
	log := zap.L().With(zap.Duration("poll", w.poll), zap.Int("concurrency", w.concurrency))
	log.Info("worker: started")

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		n, err := w.RunOnce(ctx)
		if err != nil {
			log.Error("worker: batch failed", zap.Error(err))
		}
		if n >= w.batchSize {
			continue
		}

		select {
		case <-ctx.Done():
			log.Info("worker: stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce claims and executes one batch, returning how many jobs ran.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	claimed, err := w.store.Claim(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for _, j := range claimed {
		j := j
		g.Go(func() error {
			w.execute(gctx, j)
			return nil
		})
	}
	_ = g.Wait()

	return len(claimed), nil
}

func (w *Worker) execute(ctx context.Context, j Job) {
	log := zap.L().With(
		zap.String("job_id", j.ID),
		zap.String("kind", j.Kind),
		zap.String("tenant_id", j.TenantID),
	)

	h, ok := w.handlers[j.Kind]
	if !ok {
		log.Error("worker: no handler for kind")
		if err := w.store.MarkError(ctx, j.ID, "no handler for kind "+j.Kind); err != nil {
			log.Error("worker: mark error", zap.Error(err))
		}
		return
	}

	start := time.Now()
	if err := h(ctx, j); err != nil {
		log.Warn("worker: job failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		if markErr := w.store.MarkError(ctx, j.ID, err.Error()); markErr != nil {
			log.Error("worker: mark error", zap.Error(markErr))
		}
		return
	}

	log.Info("worker: job done", zap.Duration("elapsed", time.Since(start)))
	if err := w.store.MarkDone(ctx, j.ID); err != nil {
		log.Error("worker: mark done", zap.Error(err))
	}
}

// decodePayload unmarshals a job payload into dst.
func decodePayload(j Job, dst any) error {
	return json.Unmarshal(j.Payload, dst)
}
