package pipeline

// State represents the current lifecycle state of a pipeline
type State int

const (
	// StateCreated indicates the pipeline was constructed but not started
	StateCreated State = iota
	// StateRunning indicates the pipeline is executing
	StateRunning
	// StateStopping indicates shutdown is in progress: drivers cancelled,
	// queues draining or discarding per policy
	StateStopping
	// StateStopped is terminal; it may carry aggregated component faults
	StateStopped
)

// String returns a string representation of the pipeline state
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
