package iface

// SchedulingPolicy selects how the scheduler sheds load when frames arrive
// faster than the pipeline drains them.
type SchedulingPolicy int

const (
	// PolicySkip accepts every Nth frame and discards the rest.
	PolicySkip SchedulingPolicy = iota
	// PolicyCoalesce holds at most one pending frame; a newer frame
	// replaces the queued one so only the freshest is ever processed.
	PolicyCoalesce
)

func (p SchedulingPolicy) String() string {
	switch p {
	case PolicySkip:
		return "skip"
	case PolicyCoalesce:
		return "coalesce"
	default:
		return "unknown"
	}
}

// Backend is the inference runtime contract. Implementations load a model
// once and are reused for every Invoke over the pipeline's lifetime; they are
// not required to be safe for concurrent Invoke calls.
type Backend interface {
	Invoke(input Tensor) (Tensor, error)
	InputShape() []int
	OutputShape() []int
	Close() error
}
