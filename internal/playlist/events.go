package playlist

import "github.com/cbegin/nbsplay-go/internal/sequencer"

type EventKind int

const (
	EventTick EventKind = iota
	EventPlay
	EventStop
	EventError
	EventSwitch
	EventChange
	EventLoopChange
	EventPause
	EventResume
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
	case EventSwitch:
		return "switch"
	case EventChange:
		return "change"
	case EventLoopChange:
		return "loopChange"
	case EventPause:
		return "pause"
	case EventResume:
		return "resume"
	default:
		return "unknown"
	}
}

// Event is a playlist notification. Only the fields of its Kind are set.
type Event struct {
	Kind EventKind

	// EventTick, EventError, EventSwitch. A switch with a nil Entry means
	// nothing is selected any more.
	Entry Entry
	// EventError, EventSwitch: position in the ordering at the time.
	Index int

	Elapsed float64              // EventTick
	Player  *sequencer.Scheduler // EventTick
	List    []Entry              // EventChange: the current ordering
	Loop    LoopType             // EventLoopChange
	Err     error                // EventError
}
