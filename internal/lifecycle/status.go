// Package lifecycle is the room status state machine.
//
//	EMPTY -> AVAILABLE -> CROWDED -> FULL   derived from occupancy
//	any   -> LOCKED -> (unlock) derived
//	any   -> ENDED                          terminal
package lifecycle

import (
	"fmt"

	"github.com/romashorodok/room-coordinator/pkg/roomerr"
)

type Status string

const (
	StatusEmpty     Status = "empty"
	StatusAvailable Status = "available"
	StatusCrowded   Status = "crowded"
	StatusFull      Status = "full"
	StatusLocked    Status = "locked"
	StatusEnded     Status = "ended"
)

type Event string

const (
	EventStart     Event = "start"
	EventLock      Event = "lock"
	EventUnlock    Event = "unlock"
	EventEnd       Event = "end"
	EventOccupancy Event = "occupancy"
)

func ParseEvent(s string) (Event, error) {
	switch e := Event(s); e {
	case EventStart, EventLock, EventUnlock, EventEnd:
		return e, nil
	default:
		return "", fmt.Errorf("unknown lifecycle event %q: %w", s, roomerr.ErrInvalidState)
	}
}

// Derive computes the occupancy status. max <= 0 means unlimited capacity.
// CROWDED starts at 80% of max.
func Derive(count, max int) Status {
	switch {
	case count <= 0:
		return StatusEmpty
	case max <= 0:
		return StatusAvailable
	case count >= max:
		return StatusFull
	case 5*count >= 4*max:
		return StatusCrowded
	default:
		return StatusAvailable
	}
}

// Next applies event to current. ENDED is terminal.
func Next(current Status, event Event, count, max int) (Status, error) {
	if current == StatusEnded {
		return current, fmt.Errorf("room ended, %s rejected: %w", event, roomerr.ErrInvalidState)
	}

	switch event {
	case EventStart:
		return StatusAvailable, nil
	case EventLock:
		return StatusLocked, nil
	case EventUnlock:
		return Derive(count, max), nil
	case EventEnd:
		return StatusEnded, nil
	case EventOccupancy:
		if current == StatusLocked {
			return current, nil
		}
		return Derive(count, max), nil
	default:
		return current, fmt.Errorf("unknown lifecycle event %q: %w", event, roomerr.ErrInvalidState)
	}
}

// Joinable reports whether new participants may enter a room in status s.
func (s Status) Joinable() bool {
	return s != StatusLocked && s != StatusEnded
}
