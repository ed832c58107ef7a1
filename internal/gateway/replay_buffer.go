package gateway

import "sync"

// ReplayBuffer keeps the most recent frames so reconnecting clients can
// catch up from the last seq they saw. Safe for concurrent use.
type ReplayBuffer struct {
	mu     sync.RWMutex
	frames []*Frame
	head   int // index of the oldest frame once full
	full   bool
}

// NewReplayBuffer creates a buffer holding up to capacity frames.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 64
	}
	return &ReplayBuffer{frames: make([]*Frame, 0, capacity)}
}

// Push appends f, evicting the oldest frame when full.
func (rb *ReplayBuffer) Push(f *Frame) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.full {
		rb.frames = append(rb.frames, f)
		rb.full = len(rb.frames) == cap(rb.frames)
		return
	}
	rb.frames[rb.head] = f
	rb.head = (rb.head + 1) % len(rb.frames)
}

// Since returns frames with Seq > seq, oldest first.
func (rb *ReplayBuffer) Since(seq int64) []*Frame {
	return rb.Range(seq+1, -1)
}

// Range returns frames with from <= Seq <= to, oldest first. A negative
// to means no upper bound.
func (rb *ReplayBuffer) Range(from, to int64) []*Frame {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out []*Frame
	n := len(rb.frames)
	for i := 0; i < n; i++ {
		f := rb.frames[(rb.head+i)%n]
		if f.Seq < from || (to >= 0 && f.Seq > to) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Latest returns the newest frame, or nil.
func (rb *ReplayBuffer) Latest() *Frame {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	n := len(rb.frames)
	if n == 0 {
		return nil
	}
	return rb.frames[(rb.head+n-1)%n]
}

// Len returns the number of buffered frames.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return len(rb.frames)
}
