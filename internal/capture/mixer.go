package capture

// maxQueuedFrames bounds each speaker's backlog; older frames are dropped.
const maxQueuedFrames = 10

// frameMixer merges per-speaker decoded frames into one mono stream. Each
// Mix takes at most one frame from every speaker and sums them sample by
// sample, so concurrent speakers overlap in time instead of being
// concatenated.
type frameMixer struct {
	queues map[uint32][][]float32
}

func newFrameMixer() *frameMixer {
	return &frameMixer{queues: make(map[uint32][][]float32)}
}

// Add queues a frame for ssrc.
func (m *frameMixer) Add(ssrc uint32, frame []float32) {
	if len(frame) == 0 {
		return
	}
	q := append(m.queues[ssrc], frame)
	if len(q) > maxQueuedFrames {
		q = q[len(q)-maxQueuedFrames:]
	}
	m.queues[ssrc] = q
}

// Mix returns the next slot, as long as the longest head frame, clamped to
// [-1,1]. It returns nil when nothing is queued.
func (m *frameMixer) Mix() []float32 {
	var out []float32
	for ssrc, q := range m.queues {
		frame := q[0]
		if len(frame) > len(out) {
			out = append(out, make([]float32, len(frame)-len(out))...)
		}
		for i, s := range frame {
			out[i] += s
		}
		if len(q) == 1 {
			delete(m.queues, ssrc)
		} else {
			m.queues[ssrc] = q[1:]
		}
	}
	for i, s := range out {
		switch {
		case s > 1:
			out[i] = 1
		case s < -1:
			out[i] = -1
		}
	}
	return out
}

// Speakers counts ssrcs with queued frames.
func (m *frameMixer) Speakers() int { return len(m.queues) }
