package roomstate

import (
	"fmt"
	"time"

	"github.com/romashorodok/room-coordinator/internal/lifecycle"
	"github.com/romashorodok/room-coordinator/internal/roomconfig"
	"github.com/romashorodok/room-coordinator/pkg/roomerr"
)

func recomputeStatus(state *RoomState) error {
	status, err := lifecycle.Next(state.Status, lifecycle.EventOccupancy, len(state.Participants), state.MaxParticipants)
	if err != nil {
		return err
	}
	state.Status = status
	return nil
}

// AddParticipant inserts p or merges it into an existing record. Capacity,
// lock and block rules are checked against the state being written so that
// two concurrent joins cannot both take the last seat.
func AddParticipant(p ParticipantState) Mutator {
	return func(state *RoomState) error {
		if existing, exist := state.Participants[p.UserID]; exist {
			existing.Online = true
			existing.LastActivity = p.LastActivity
			if p.Role.CanModerate() {
				existing.Role = p.Role
			}
			return nil
		}

		if _, blocked := state.Blocked[p.UserID]; blocked {
			return roomerr.Denied("blocked", "you were blocked from this room")
		}
		if state.Status == lifecycle.StatusLocked && p.Role != RoleHost {
			return roomerr.Denied("lock", "room is locked")
		}
		if state.MaxParticipants > 0 && len(state.Participants) >= state.MaxParticipants {
			return roomerr.Denied("capacity", fmt.Sprintf("room is full (%d/%d)", len(state.Participants), state.MaxParticipants))
		}

		participant := p
		participant.Online = true
		state.Participants[p.UserID] = &participant
		return recomputeStatus(state)
	}
}

// RemoveParticipant is a no-op for users that are not in the room.
func RemoveParticipant(userID string) Mutator {
	return func(state *RoomState) error {
		if _, exist := state.Participants[userID]; !exist {
			return ErrNoChange
		}
		delete(state.Participants, userID)
		if state.Status == lifecycle.StatusEnded {
			return nil
		}
		return recomputeStatus(state)
	}
}

func UpdateParticipant(userID string, update func(*ParticipantState)) Mutator {
	return func(state *RoomState) error {
		participant, exist := state.Participants[userID]
		if !exist {
			return fmt.Errorf("participant %s in room %s: %w", userID, state.RoomID, roomerr.ErrNotFound)
		}
		update(participant)
		participant.UserID = userID
		return nil
	}
}

// SetFeatureState toggles a configured feature. A nil config keeps the
// current one.
func SetFeatureState(feature roomconfig.Feature, enabled bool, config map[string]any) Mutator {
	return func(state *RoomState) error {
		featureState, exist := state.Features[feature]
		if !exist {
			return fmt.Errorf("feature %s in room %s: %w", feature, state.RoomID, roomerr.ErrNotFound)
		}
		featureState.Enabled = enabled
		if config != nil {
			featureState.Config = config
		}
		return nil
	}
}

func Transition(event lifecycle.Event) Mutator {
	return func(state *RoomState) error {
		status, err := lifecycle.Next(state.Status, event, len(state.Participants), state.MaxParticipants)
		if err != nil {
			return err
		}
		state.Status = status
		return nil
	}
}

// Block removes userID and keeps them from joining again.
func Block(userID string, at time.Time) Mutator {
	return func(state *RoomState) error {
		state.Blocked[userID] = at
		delete(state.Participants, userID)
		return recomputeStatus(state)
	}
}

// Chain applies mutators in order and stops at the first error.
func Chain(mutators ...Mutator) Mutator {
	return func(state *RoomState) error {
		for _, mutate := range mutators {
			if err := mutate(state); err != nil {
				return err
			}
		}
		return nil
	}
}
