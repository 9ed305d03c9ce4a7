package capture

// State is a step of the capture lifecycle
type State string

const (
	StateInit          State = "init"
	StateOpeningStream State = "opening_stream"
	StateRunning       State = "running"

	// Terminal states
	StateFailedOpen    State = "failed_open"
	StateFailedOutput  State = "failed_output"
	StateReadFailure   State = "stopped_on_read_failure"
	StateStoppedByUser State = "stopped_by_user"
)

// Terminal reports whether no further transition can happen
func (s State) Terminal() bool {
	switch s {
	case StateFailedOpen, StateFailedOutput, StateReadFailure, StateStoppedByUser:
		return true
	}
	return false
}
