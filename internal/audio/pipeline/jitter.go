package pipeline

import "sync"

// jitterBuffer holds decoded frames between the network and playout.
type jitterBuffer struct {
	mu     sync.Mutex
	frames [][]int16
	min    int
	max    int
	primed bool
}

func newJitterBuffer(lo, hi int) *jitterBuffer {
	lo = max(lo, 1)
	hi = max(hi, lo)
	return &jitterBuffer{min: lo, max: hi}
}

// add appends frame and returns how many old frames were dropped.
func (j *jitterBuffer) add(frame []int16) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.frames = append(j.frames, frame)
	if excess := len(j.frames) - j.max; excess > 0 {
		j.frames = j.frames[excess:]
		return excess
	}
	return 0
}

// pop returns the next frame once min frames have been buffered. After an
// underrun it waits to refill to min again.
func (j *jitterBuffer) pop() ([]int16, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.primed {
		if len(j.frames) < j.min {
			return nil, false
		}
		j.primed = true
	}
	if len(j.frames) == 0 {
		j.primed = false
		return nil, false
	}
	frame := j.frames[0]
	j.frames = j.frames[1:]
	return frame, true
}

func (j *jitterBuffer) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.frames)
}
