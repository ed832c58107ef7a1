package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"coinarius-analytics/internal/model"
)

type scriptedUpdater struct {
	mu      sync.Mutex
	calls   int
	fail    map[int]error
	started chan struct{}
	release chan struct{}
}

func (u *scriptedUpdater) Update(ctx context.Context) (*model.Output, error) {
	u.mu.Lock()
	u.calls++
	n := u.calls
	err := u.fail[n]
	u.mu.Unlock()

	if u.started != nil {
		u.started <- struct{}{}
		<-u.release
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &model.Output{Version: uint64(n), Mode: model.ModeIncremental}, nil
}

type recordingSink struct {
	name string
	err  error

	mu   sync.Mutex
	got  []uint64
	errs []error
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(ctx context.Context, out *model.Output) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, out.Version)
	s.errs = append(s.errs, ctx.Err())
	return s.err
}

func (s *recordingSink) versions() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.got...)
}

type countingObserver struct {
	mu     sync.Mutex
	errors int
	total  int
}

func (o *countingObserver) ObservePublish(_ string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.total++
	if err != nil {
		o.errors++
	}
}

// manualTimer lets the test decide when the worker's lag elapses.
func manualTimer(w *Worker) chan time.Time {
	ticks := make(chan time.Time)
	w.after = func(time.Duration) <-chan time.Time { return ticks }
	return ticks
}

func TestWorker_PublishesEachCycle(t *testing.T) {
	u := &scriptedUpdater{fail: map[int]error{2: errors.New("feed down")}}
	sink := &recordingSink{name: "memory"}
	var hookErrs int
	w := NewWorker(u, time.Minute, []model.OutputSink{sink}, WithCycleHook(func(_ *model.Output, err error) {
		if err != nil {
			hookErrs++
		}
	}))
	ticks := manualTimer(w)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- w.Run(ctx) }()

	for i := 0; i < 3; i++ {
		ticks <- time.Now()
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := sink.versions()
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("published versions = %v, want [1 3]", got)
	}
	if hookErrs != 1 {
		t.Errorf("hook saw %d failures, want 1", hookErrs)
	}
}

func TestWorker_FailingSinkDoesNotBlockOthers(t *testing.T) {
	bad := &recordingSink{name: "bad", err: errors.New("redis down")}
	good := &recordingSink{name: "good"}
	obs := &countingObserver{}
	w := NewWorker(&scriptedUpdater{}, time.Minute, []model.OutputSink{bad, good}, WithPublishObserver(obs))

	w.RunOnce(context.Background())

	if len(good.versions()) != 1 {
		t.Error("good sink not reached")
	}
	if obs.total != 2 || obs.errors != 1 {
		t.Errorf("observer total=%d errors=%d, want 2/1", obs.total, obs.errors)
	}
}

func TestWorker_CycleInFlightSurvivesCancellation(t *testing.T) {
	u := &scriptedUpdater{started: make(chan struct{}), release: make(chan struct{})}
	sink := &recordingSink{name: "memory"}
	w := NewWorker(u, time.Minute, []model.OutputSink{sink})
	ticks := manualTimer(w)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- w.Run(ctx) }()

	ticks <- time.Now()
	<-u.started
	cancel()
	close(u.release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
	if got := sink.versions(); len(got) != 1 {
		t.Errorf("in-flight cycle published %v, want one output", got)
	}
	if sink.errs[0] != nil {
		t.Error("sink saw a cancelled context")
	}
}

func TestWorker_StopsWithoutCycling(t *testing.T) {
	u := &scriptedUpdater{}
	w := NewWorker(u, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if u.calls != 0 {
		t.Errorf("cycles = %d, want 0", u.calls)
	}
}
