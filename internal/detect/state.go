package detect

// Edge identifies an alert transition emitted by StateMachine.
type Edge int

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	default:
		return "none"
	}
}

// Event is an alert transition together with the result that caused it.
type Event struct {
	Edge Edge `json:"-"`
	// Consecutive is the number of AI chunks in the current run; zero on a
	// falling edge.
	Consecutive int    `json:"consecutive"`
	Result      Result `json:"result"`
}

// StateMachine applies hysteresis to a stream of results: a run of AI
// chunks raises exactly one rising edge and the first real chunk after it
// raises one falling edge. It depends only on the order of results, never on
// wall-clock time, and is not safe for concurrent use.
type StateMachine struct {
	active      bool
	consecutive int
}

// NewStateMachine returns a machine in the Idle state.
func NewStateMachine() *StateMachine {
	return &StateMachine{}
}

// Observe feeds the next result, which must arrive in chunk order.
func (s *StateMachine) Observe(r Result) Event {
	if r.IsAI {
		s.consecutive++
		if !s.active {
			s.active = true
			return Event{Edge: EdgeRising, Consecutive: s.consecutive, Result: r}
		}
		return Event{Edge: EdgeNone, Consecutive: s.consecutive, Result: r}
	}
	if s.active {
		s.active = false
		s.consecutive = 0
		return Event{Edge: EdgeFalling, Result: r}
	}
	return Event{Edge: EdgeNone, Consecutive: s.consecutive, Result: r}
}

// Reset returns the machine to Idle with a zero count.
func (s *StateMachine) Reset() {
	s.active = false
	s.consecutive = 0
}

// Active reports whether an alert is currently raised.
func (s *StateMachine) Active() bool { return s.active }

func (s *StateMachine) Consecutive() int { return s.consecutive }
