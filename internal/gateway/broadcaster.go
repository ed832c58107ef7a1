package gateway

import (
	"time"

	"coinarius-analytics/internal/model"
)

// Broadcaster numbers outputs, records them for replay and fans them out.
type Broadcaster struct {
	hub *Hub
	now func() time.Time
}

// NewBroadcaster creates a Broadcaster backed by the given Hub.
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub, now: time.Now}
}

// Broadcast sends out to all clients, filtered per client, and returns
// the frame. Slow clients whose queue is full miss the frame.
func (b *Broadcaster) Broadcast(out *model.Output) (*Frame, error) {
	now := b.now().UTC()
	if b.hub.Latency != nil && !out.UpdatedAt.IsZero() {
		b.hub.Latency.Record(float64(now.Sub(out.UpdatedAt).Microseconds()) / 1000.0)
	}

	b.hub.mu.Lock()
	defer b.hub.mu.Unlock()

	f, err := newFrame(b.hub.seq+1, now, out)
	if err != nil {
		return nil, err
	}
	b.hub.seq = f.Seq
	b.hub.replay.Push(f)

	for c := range b.hub.clients {
		if !c.enqueue(f) && b.hub.OnDrop != nil {
			b.hub.OnDrop()
		}
	}
	return f, nil
}
