package sqlite

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"coinarius-analytics/internal/logger"
	"coinarius-analytics/internal/model"
)

// Checkpointer saves the current output on a cron schedule, skipping
// versions that were already saved.
type Checkpointer struct {
	store  model.OutputStore
	source model.OutputSource
	log    *logger.Logger

	mu    sync.Mutex
	saved uint64

	// OnSave is called after each successful save.
	OnSave func(version uint64)
}

// NewCheckpointer creates a checkpointer reading from source.
func NewCheckpointer(store model.OutputStore, source model.OutputSource, log *logger.Logger) *Checkpointer {
	if log == nil {
		log = logger.Nop()
	}
	return &Checkpointer{store: store, source: source, log: log}
}

// Save writes the current output if it is newer than the last one saved.
// It reports whether a row was written.
func (c *Checkpointer) Save(ctx context.Context) (bool, error) {
	out := c.source.Output()
	if out == nil {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if out.Version <= c.saved {
		return false, nil
	}
	if err := c.store.SaveOutput(ctx, out); err != nil {
		return false, err
	}
	c.saved = out.Version
	if c.OnSave != nil {
		c.OnSave(out.Version)
	}
	return true, nil
}

// Schedule registers Save on spec (e.g. "@every 5m") and starts the cron.
// The returned cron must be stopped by the caller.
func (c *Checkpointer) Schedule(spec string) (*cron.Cron, error) {
	cr := cron.New()
	_, err := cr.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if ok, err := c.Save(ctx); err != nil {
			c.log.Error("checkpoint failed", logger.Error(err))
		} else if ok {
			c.log.Debug("checkpoint saved")
		}
	})
	if err != nil {
		return nil, err
	}
	cr.Start()
	return cr, nil
}
