package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"coinarius-analytics/internal/model"
)

// OutputWriter writes one output. *Publisher implements it.
type OutputWriter interface {
	Write(ctx context.Context, out *model.Output) error
}

// BufferedPublisher is the Redis output sink. Writes go through a circuit
// breaker; while the circuit is open the newest output is held back and
// written once the circuit closes again. Older held outputs are replaced,
// since only the latest analytics matter to readers.
type BufferedPublisher struct {
	writer OutputWriter
	cb     *CircuitBreaker

	mu      sync.Mutex
	pending *model.Output

	// Callbacks
	OnBuffer func()               // called when an output is held back
	OnFlush  func(version uint64) // called after a held output is written
}

// NewBufferedPublisher wraps w with cb.
func NewBufferedPublisher(w OutputWriter, cb *CircuitBreaker) *BufferedPublisher {
	return &BufferedPublisher{writer: w, cb: cb}
}

func (bp *BufferedPublisher) Name() string { return "redis" }

// Publish writes out through the breaker. A rejected write is held and
// reported as success; a failed write is returned.
func (bp *BufferedPublisher) Publish(ctx context.Context, out *model.Output) error {
	err := bp.cb.Execute(func() error {
		return bp.writer.Write(ctx, out)
	})
	if errors.Is(err, ErrCircuitOpen) {
		bp.hold(out)
		return nil
	}
	if err != nil {
		bp.hold(out)
		return err
	}
	bp.drop(out.Version)
	return nil
}

func (bp *BufferedPublisher) hold(out *model.Output) {
	bp.mu.Lock()
	if bp.pending == nil || out.Version >= bp.pending.Version {
		bp.pending = out
	}
	bp.mu.Unlock()
	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// drop clears a held output superseded by a successful write.
func (bp *BufferedPublisher) drop(written uint64) {
	bp.mu.Lock()
	if bp.pending != nil && bp.pending.Version <= written {
		bp.pending = nil
	}
	bp.mu.Unlock()
}

// Flush writes the held output, if any. It is a no-op while the circuit
// is open.
func (bp *BufferedPublisher) Flush(ctx context.Context) error {
	bp.mu.Lock()
	out := bp.pending
	bp.mu.Unlock()
	if out == nil {
		return nil
	}

	err := bp.cb.Execute(func() error {
		return bp.writer.Write(ctx, out)
	})
	if err != nil {
		return err
	}
	bp.drop(out.Version)
	if bp.OnFlush != nil {
		bp.OnFlush(out.Version)
	}
	return nil
}

// Pending returns the held output, or nil.
func (bp *BufferedPublisher) Pending() *model.Output {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.pending
}

// RunFlusher retries the held output every interval until ctx is done.
func (bp *BufferedPublisher) RunFlusher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if bp.Pending() == nil {
				continue
			}
			fctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			bp.Flush(fctx)
			cancel()
		}
	}
}
