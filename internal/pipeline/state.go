package pipeline

// State is the lifecycle stage of a Driver.
type State int32

const (
	StateIdle State = iota
	StateAwaitingArrival
	StateProcessing
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingArrival:
		return "awaiting_arrival"
	case StateProcessing:
		return "processing"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
