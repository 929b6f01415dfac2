package voice

import "sync"

// Accumulator holds the most recent captured samples, oldest first. It is
// capped at maxSamples; appending past the cap drops the oldest samples.
// One producer and one consumer may use it concurrently.
type Accumulator struct {
	mu    sync.Mutex
	ring  []float32 // fixed length maxSamples
	start int       // index of the oldest held sample
	n     int
	total int64
}

func NewAccumulator(maxSamples int) *Accumulator {
	if maxSamples < 1 {
		maxSamples = 1
	}
	return &Accumulator{ring: make([]float32, maxSamples)}
}

// Append adds samples to the tail.
func (a *Accumulator) Append(samples []float32) {
	if len(samples) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total += int64(len(samples))
	size := len(a.ring)
	if len(samples) >= size {
		copy(a.ring, samples[len(samples)-size:])
		a.start, a.n = 0, size
		return
	}
	end := (a.start + a.n) % size
	k := copy(a.ring[end:], samples)
	copy(a.ring, samples[k:])
	if over := a.n + len(samples) - size; over > 0 {
		a.start = (a.start + over) % size
		a.n = size
	} else {
		a.n += len(samples)
	}
}

// SnapshotTail returns a copy of the last count samples, or all of them if
// fewer are held.
func (a *Accumulator) SnapshotTail(count int) []float32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if count > a.n {
		count = a.n
	}
	if count <= 0 {
		return nil
	}
	size := len(a.ring)
	from := (a.start + a.n - count) % size
	out := make([]float32, count)
	k := copy(out, a.ring[from:])
	copy(out[k:], a.ring)
	return out
}

func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.n
}

// Total counts every sample ever appended, including dropped ones.
func (a *Accumulator) Total() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// Reset drops the held samples; Total is unaffected.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.start, a.n = 0, 0
	a.mu.Unlock()
}
