package pipeline

import (
	"context"
	"io"
	"sync"
)

// Feed is a small latest-wins queue of decoded frames. Producers never
// block: when the queue is full the oldest frame is dropped.
type Feed struct {
	frames chan []float32
	closed chan struct{}
	once   sync.Once
	// serializes producers so drop-oldest stays ordered
	mu sync.Mutex
}

func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = 1
	}
	return &Feed{
		frames: make(chan []float32, capacity),
		closed: make(chan struct{}),
	}
}

// Push enqueues frame and reports whether an older frame was dropped.
func (f *Feed) Push(frame []float32) (dropped bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.closed:
		return false
	default:
	}
	for {
		select {
		case f.frames <- frame:
			return dropped
		default:
		}
		select {
		case <-f.frames:
			dropped = true
		default:
		}
	}
}

// ReadFrame blocks for the next frame. It returns io.EOF once the feed is
// closed and drained.
func (f *Feed) ReadFrame(ctx context.Context) ([]float32, error) {
	select {
	case frame := <-f.frames:
		return frame, nil
	default:
	}
	select {
	case frame := <-f.frames:
		return frame, nil
	case <-f.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Feed) Close() {
	f.once.Do(func() { close(f.closed) })
}
