package speech

import (
	"context"
	"sync"
	"time"
)

// Feed queues transcribed replies per slot until a session listens for
// them. Transcripts come from an external recognizer.
type Feed struct {
	mu       sync.Mutex
	queues   map[string]chan string
	capacity int
}

// NewFeed creates a Feed holding up to capacity pending transcripts per slot.
func NewFeed(capacity int) *Feed {
	if capacity < 1 {
		capacity = 8
	}
	return &Feed{queues: make(map[string]chan string), capacity: capacity}
}

func (f *Feed) queue(slot string) chan string {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.queues[slot]
	if !ok {
		q = make(chan string, f.capacity)
		f.queues[slot] = q
	}
	return q
}

// Push queues text for slot. When the queue is full the oldest
// transcript is dropped; Push reports whether that happened.
func (f *Feed) Push(slot, text string) (dropped bool) {
	q := f.queue(slot)
	for {
		select {
		case q <- text:
			return dropped
		default:
		}
		select {
		case <-q:
			dropped = true
		default:
		}
	}
}

// Listen waits up to window for the next transcript on slot. It returns
// "" with a nil error when the window passes in silence.
func (f *Feed) Listen(ctx context.Context, slot string, window time.Duration) (string, error) {
	q := f.queue(slot)
	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case text := <-q:
		return text, nil
	case <-timer.C:
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Drain discards pending transcripts for slot and returns how many.
func (f *Feed) Drain(slot string) int {
	q := f.queue(slot)
	n := 0
	for {
		select {
		case <-q:
			n++
		default:
			return n
		}
	}
}
