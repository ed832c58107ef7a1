// Package engine drives the calculators: it fetches feed snapshots, runs
// full or incremental passes in registry order and publishes an immutable
// output snapshot after every successful cycle.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"coinarius-analytics/internal/calculator"
	"coinarius-analytics/internal/feed"
	"coinarius-analytics/internal/logger"
	"coinarius-analytics/internal/model"
)

// Observer receives timing of cycles and calculator runs.
type Observer interface {
	ObserveCycle(mode string, took time.Duration, err error)
	ObserveCalculator(id string, took time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveCycle(string, time.Duration, error) {}
func (nopObserver) ObserveCalculator(string, time.Duration)   {}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now for the full-refresh decision and output stamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithInitialPoints sets the history depth fetched by Initialise.
func WithInitialPoints(n int) Option {
	return func(e *Engine) { e.initialPoints = n }
}

// WithRefreshPoints sets the history depth fetched by a periodic full refresh.
func WithRefreshPoints(n int) Option {
	return func(e *Engine) { e.refreshPoints = n }
}

// WithFullInterval sets how long after the last full fetch a full pass is due.
func WithFullInterval(d time.Duration) Option {
	return func(e *Engine) { e.fullInterval = d }
}

// WithMaxHistory caps the raw history kept per symbol.
func WithMaxHistory(n int) Option {
	return func(e *Engine) { e.maxHistory = n }
}

// Engine owns the calculators and the published output. Cycles are
// serialised; Output may be called concurrently with a running cycle.
type Engine struct {
	feed     feed.Client
	universe *model.Universe
	registry *calculator.Registry
	log      *logger.Logger
	observer Observer
	now      func() time.Time

	initialPoints int
	refreshPoints int
	fullInterval  time.Duration
	maxHistory    int

	mu          sync.Mutex
	initialised bool
	history     feed.Snapshot
	lastFetched time.Time

	out atomic.Pointer[model.Output]
}

// New creates an engine over the given feed, universe and calculators.
func New(client feed.Client, universe *model.Universe, registry *calculator.Registry, opts ...Option) *Engine {
	e := &Engine{
		feed:          client,
		universe:      universe,
		registry:      registry,
		log:           logger.Nop(),
		observer:      nopObserver{},
		now:           time.Now,
		initialPoints: 100,
		refreshPoints: 5,
		fullInterval:  24 * time.Hour,
		maxHistory:    100,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(logger.String("component", "engine"))
	return e
}

// Output returns the latest published snapshot, or nil before the first cycle.
func (e *Engine) Output() *model.Output {
	return e.out.Load()
}

// Initialised reports whether the first full pass has completed.
func (e *Engine) Initialised() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialised
}

// Initialise fetches the initial history and runs the first full pass.
// Calling it again after success is a no-op.
func (e *Engine) Initialise(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialised {
		e.log.Info("engine already initialised")
		return nil
	}
	_, err := e.initialise(ctx)
	return err
}

// Update runs one cycle. It initialises first when needed, runs a full
// pass when the last full fetch is at least the full interval old, and an
// incremental pass otherwise. A failed cycle leaves the published output
// and every calculator cache as they were.
func (e *Engine) Update(ctx context.Context) (*model.Output, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialised {
		e.log.Info("engine not initialised, running initial full pass")
		return e.initialise(ctx)
	}
	if e.now().Sub(e.lastFetched) >= e.fullInterval {
		return e.refresh(ctx)
	}
	return e.incremental(ctx)
}

func (e *Engine) initialise(ctx context.Context) (*model.Output, error) {
	start := time.Now()
	out, err := e.initialiseCycle(ctx)
	e.observer.ObserveCycle("initialise", time.Since(start), err)
	return out, err
}

func (e *Engine) initialiseCycle(ctx context.Context) (*model.Output, error) {
	snap, err := e.fetch(ctx, e.initialPoints)
	if err != nil {
		return nil, e.fail(ctx, "initialise", err)
	}
	if len(snap.Assets) == 0 {
		return nil, e.fail(ctx, "initialise", &UpstreamFetchError{Points: e.initialPoints, Err: ErrNoData})
	}
	snap = feed.Merge(feed.Snapshot{}, snap, e.maxHistory)

	fetchedAt := e.now()
	out, err := e.fullCycle(ctx, snap, fetchedAt)
	if err != nil {
		return nil, e.fail(ctx, "initialise", err)
	}
	e.history = snap
	e.lastFetched = fetchedAt
	e.initialised = true
	e.log.Info("engine initialised",
		logger.Int("symbols", len(out.Symbols)),
		logger.Int("calculators", e.registry.Len()),
		logger.Uint64("version", out.Version),
	)
	return out, nil
}

func (e *Engine) refresh(ctx context.Context) (*model.Output, error) {
	start := time.Now()
	out, err := e.refreshCycle(ctx)
	e.observer.ObserveCycle(string(model.ModeFull), time.Since(start), err)
	return out, err
}

func (e *Engine) refreshCycle(ctx context.Context) (*model.Output, error) {
	fresh, err := e.fetch(ctx, e.refreshPoints)
	if err != nil {
		return nil, e.fail(ctx, "refresh", err)
	}
	merged := feed.Merge(e.history, fresh, e.maxHistory)

	fetchedAt := e.now()
	out, err := e.fullCycle(ctx, merged, fetchedAt)
	if err != nil {
		return nil, e.fail(ctx, "refresh", err)
	}
	e.history = merged
	e.lastFetched = fetchedAt
	return out, nil
}

func (e *Engine) incremental(ctx context.Context) (*model.Output, error) {
	start := time.Now()
	out, err := e.incrementalCycle(ctx)
	e.observer.ObserveCycle(string(model.ModeIncremental), time.Since(start), err)
	return out, err
}

func (e *Engine) incrementalCycle(ctx context.Context) (*model.Output, error) {
	tick, err := e.fetch(ctx, 1)
	if err != nil {
		return nil, e.fail(ctx, "incremental", err)
	}

	cyc := calculator.NewCycle(tick)
	for _, c := range e.registry.Order() {
		start := time.Now()
		res, err := c.CalculateLatest(cyc)
		e.observer.ObserveCalculator(string(c.ID()), time.Since(start))
		if err != nil {
			return nil, e.fail(ctx, "incremental", fmt.Errorf("%s: %w", c.ID(), err))
		}
		cyc.Set(c.ID(), res)
	}

	out := e.patch(e.out.Load(), cyc.Results())
	e.publish(ctx, out)
	return out, nil
}

// fullCycle runs Calculate on every calculator. On failure every cache is
// restored to its state before the pass.
func (e *Engine) fullCycle(ctx context.Context, snap feed.Snapshot, fetchedAt time.Time) (*model.Output, error) {
	calcs := e.registry.Order()
	saved := make([]any, len(calcs))
	for i, c := range calcs {
		if cp, ok := c.(calculator.Checkpointer); ok {
			saved[i] = cp.Checkpoint()
		}
	}

	cyc := calculator.NewCycle(snap)
	for _, c := range calcs {
		start := time.Now()
		res, err := c.Calculate(cyc)
		e.observer.ObserveCalculator(string(c.ID()), time.Since(start))
		if err != nil {
			for i, c := range calcs {
				if cp, ok := c.(calculator.Checkpointer); ok {
					cp.Restore(saved[i])
				}
			}
			return nil, fmt.Errorf("%s: %w", c.ID(), err)
		}
		cyc.Set(c.ID(), res)
	}

	out := e.assemble(cyc.Results(), fetchedAt)
	e.publish(ctx, out)
	return out, nil
}

// fetch asks the feed for points per asset and keeps only universe symbols.
func (e *Engine) fetch(ctx context.Context, points int) (feed.Snapshot, error) {
	snap, err := e.feed.FetchSnapshot(ctx, points)
	if err != nil {
		return feed.Snapshot{}, &UpstreamFetchError{Points: points, Err: err}
	}
	kept := snap.Assets[:0:0]
	for _, a := range snap.Assets {
		if !e.universe.Contains(a.Symbol) {
			continue
		}
		a.Name = e.universe.Name(a.Symbol)
		kept = append(kept, a)
	}
	snap.Assets = kept
	return snap, nil
}

func (e *Engine) fail(ctx context.Context, stage string, err error) error {
	e.log.WithContext(ctx).Error("engine cycle failed",
		logger.String("stage", stage),
		logger.Error(err),
	)
	return fmt.Errorf("%s: %w", stage, err)
}

// assemble builds a full-pass output from every calculator's result.
func (e *Engine) assemble(results map[calculator.ID]calculator.Result, fetchedAt time.Time) *model.Output {
	out := &model.Output{
		Mode:        model.ModeFull,
		LastFetched: fetchedAt,
		Symbols:     make(map[string]model.SymbolOutput, e.universe.Len()),
	}
	for _, sym := range e.universe.Symbols() {
		records := make(map[string]model.Record, len(results))
		for id, res := range results {
			if rec, ok := res[sym.Code]; ok {
				records[string(id)] = rec
			}
		}
		if len(records) == 0 {
			continue
		}
		out.Symbols[sym.Code] = model.SymbolOutput{
			Name:        sym.Name,
			Records:     records,
			TotalZScore: model.TotalZScore(records),
		}
	}
	return out
}

// patch copies prev with the latest values and z-scores from results.
// Series are shared with prev.
func (e *Engine) patch(prev *model.Output, results map[calculator.ID]calculator.Result) *model.Output {
	out := &model.Output{
		Mode:        model.ModeIncremental,
		LastFetched: prev.LastFetched,
		Symbols:     make(map[string]model.SymbolOutput, len(prev.Symbols)),
	}
	for code, so := range prev.Symbols {
		records := make(map[string]model.Record, len(so.Records))
		for id, rec := range so.Records {
			if r, ok := results[calculator.ID(id)][code]; ok {
				rec = rec.WithLatest(r.LastValue, r.LastZScore)
				rec.Appended = r.Appended
			}
			records[id] = rec
		}
		out.Symbols[code] = model.SymbolOutput{
			Name:        so.Name,
			Records:     records,
			TotalZScore: model.TotalZScore(records),
		}
	}
	return out
}

// publish stamps out and swaps it in as the current output. The cycle id
// is the trace id of ctx when the caller set one.
func (e *Engine) publish(ctx context.Context, out *model.Output) {
	var version uint64 = 1
	if prev := e.out.Load(); prev != nil {
		version = prev.Version + 1
	}
	out.Version = version
	out.CycleID = logger.TraceID(ctx)
	if out.CycleID == "" {
		out.CycleID = uuid.NewString()
	}
	out.UpdatedAt = e.now()
	e.out.Store(out)

	e.log.WithContext(ctx).Info("output published",
		logger.String("cycle_id", out.CycleID),
		logger.String("mode", string(out.Mode)),
		logger.Uint64("version", out.Version),
		logger.Int("symbols", len(out.Symbols)),
	)
}
