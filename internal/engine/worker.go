package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"coinarius-analytics/internal/logger"
	"coinarius-analytics/internal/model"
)

// Updater runs one engine cycle.
type Updater interface {
	Update(ctx context.Context) (*model.Output, error)
}

// PublishObserver receives the outcome of every sink publication.
type PublishObserver interface {
	ObservePublish(sink string, took time.Duration, err error)
}

type nopPublishObserver struct{}

func (nopPublishObserver) ObservePublish(string, time.Duration, error) {}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

func WithWorkerLogger(l *logger.Logger) WorkerOption {
	return func(w *Worker) { w.log = l }
}

// WithCycleTimeout bounds a single cycle including publication.
func WithCycleTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) { w.timeout = d }
}

func WithPublishObserver(o PublishObserver) WorkerOption {
	return func(w *Worker) { w.observer = o }
}

// WithCycleHook is called after every cycle with its result.
func WithCycleHook(fn func(*model.Output, error)) WorkerOption {
	return func(w *Worker) { w.hook = fn }
}

// Worker repeats update cycles forever, waiting lag between them, and
// hands every new output to the sinks.
type Worker struct {
	engine   Updater
	sinks    []model.OutputSink
	lag      time.Duration
	timeout  time.Duration
	log      *logger.Logger
	observer PublishObserver
	hook     func(*model.Output, error)

	after func(time.Duration) <-chan time.Time
}

// NewWorker creates a worker over u publishing to sinks.
func NewWorker(u Updater, lag time.Duration, sinks []model.OutputSink, opts ...WorkerOption) *Worker {
	w := &Worker{
		engine:   u,
		sinks:    sinks,
		lag:      lag,
		timeout:  2 * time.Minute,
		log:      logger.Nop(),
		observer: nopPublishObserver{},
		after:    time.After,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With(logger.String("component", "worker"))
	return w
}

// Run blocks until ctx is cancelled. Cancellation is observed between
// cycles; a cycle already running completes, publication included.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started", logger.Duration("lag", w.lag), logger.Int("sinks", len(w.sinks)))
	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopped")
			return nil
		case <-w.after(w.lag):
		}
		w.RunOnce(ctx)
	}
}

// RunOnce performs one cycle and publishes its output. Failures are
// logged and reported to the hook, never returned.
func (w *Worker) RunOnce(ctx context.Context) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()
	cctx = logger.WithTraceID(cctx, uuid.NewString())

	out, err := w.engine.Update(cctx)
	if w.hook != nil {
		w.hook(out, err)
	}
	if err != nil {
		w.log.WithContext(cctx).Warn("cycle failed, keeping previous output", logger.Error(err))
		return
	}
	w.Publish(cctx, out)
}

// Publish hands out to every sink. A failing sink does not stop the others.
func (w *Worker) Publish(ctx context.Context, out *model.Output) {
	if out == nil {
		return
	}
	for _, s := range w.sinks {
		start := time.Now()
		err := s.Publish(ctx, out)
		w.observer.ObservePublish(s.Name(), time.Since(start), err)
		if err != nil {
			w.log.WithContext(ctx).Error("publish failed",
				logger.String("sink", s.Name()),
				logger.Uint64("version", out.Version),
				logger.Error(err),
			)
		}
	}
}
