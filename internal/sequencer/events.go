package sequencer

// EventKind identifies scheduler notifications.
type EventKind int

const (
	EventTick EventKind = iota
	EventPlay
	EventStop
	EventError
	EventLoop
)

func (k EventKind) String() string {
	switch k {
	case EventTick:
		return "tick"
	case EventPlay:
		return "play"
	case EventStop:
		return "stop"
	case EventError:
		return "error"
	case EventLoop:
		return "loop"
	default:
		return "unknown"
	}
}

// StopReason tells why an EventStop was emitted.
type StopReason int

const (
	StopRequested StopReason = iota // Stop was called
	StopPaused                      // Pause was called
	StopEnded                       // the song reached its end
)

func (r StopReason) String() string {
	switch r {
	case StopRequested:
		return "requested"
	case StopPaused:
		return "paused"
	case StopEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Event is a scheduler notification. Only the fields of its Kind are set.
type Event struct {
	Kind          EventKind
	Elapsed       float64    // EventTick: fractional ticks advanced
	ResetProgress bool       // EventPlay, EventStop
	Reason        StopReason // EventStop
	Err           error      // EventError
	Loop          int        // EventLoop: loops completed so far
}

// State is the scheduler playback state.
type State int

const (
	Idle State = iota
	Playing
	Paused
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	case Ended:
		return "Ended"
	default:
		return "Unknown"
	}
}
