package room

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/romashorodok/room-coordinator/internal/roomstate"
	"github.com/romashorodok/room-coordinator/pkg/roomerr"
)

type ModerationAction string

const (
	ActionForceMute      ModerationAction = "force-mute"
	ActionForceCameraOff ModerationAction = "force-camera-off"
	ActionForceStopShare ModerationAction = "force-stop-share"
	ActionKick           ModerationAction = "kick"
	ActionBlock          ModerationAction = "block"
)

type ModerationRequest struct {
	Target string           `json:"target"`
	Action ModerationAction `json:"action"`
	// Value is the state to force. It defaults to true: muted, camera off.
	Value  *bool  `json:"value,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (r ModerationRequest) value() bool {
	return r.Value == nil || *r.Value
}

// ModerationNotice is the enforcement message sent to the target.
type ModerationNotice struct {
	RoomID string           `json:"roomId"`
	Action ModerationAction `json:"action"`
	Value  bool             `json:"value"`
	Reason string           `json:"reason,omitempty"`
	By     string           `json:"by"`
}

func (r ModerationRequest) mutator(target string, s *RoomService) (roomstate.Mutator, error) {
	value := r.value()
	switch r.Action {
	case ActionForceMute:
		return roomstate.UpdateParticipant(target, func(p *roomstate.ParticipantState) { p.Muted = value }), nil
	case ActionForceCameraOff:
		return roomstate.UpdateParticipant(target, func(p *roomstate.ParticipantState) { p.VideoEnabled = !value }), nil
	case ActionForceStopShare:
		return roomstate.UpdateParticipant(target, func(p *roomstate.ParticipantState) { p.ScreenSharing = false }), nil
	case ActionKick:
		return func(st *roomstate.RoomState) error {
			if _, exist := st.Participants[target]; !exist {
				return fmt.Errorf("participant %s in room %s: %w", target, st.RoomID, roomerr.ErrNotFound)
			}
			return roomstate.RemoveParticipant(target)(st)
		}, nil
	case ActionBlock:
		return roomstate.Block(target, s.now()), nil
	default:
		return nil, fmt.Errorf("unknown moderation action %q: %w", r.Action, roomerr.ErrInvalidState)
	}
}

// Moderate applies a host or moderator action to req.Target. The target
// receives a moderation notice; the rest of the room sees the new state.
// Kick and block also disconnect the target.
func (s *RoomService) Moderate(ctx context.Context, roomID, actorID string, req ModerationRequest) (*roomstate.RoomState, error) {
	if req.Target == "" {
		return nil, fmt.Errorf("moderation without target: %w", roomerr.ErrInvalidState)
	}
	if req.Target == actorID {
		return nil, fmt.Errorf("cannot moderate yourself: %w", roomerr.ErrInvalidState)
	}

	mutate, err := req.mutator(req.Target, s)
	if err != nil {
		return nil, err
	}

	state, err := s.store.Update(ctx, roomID, func(st *roomstate.RoomState) error {
		if err := authorize(st, actorID, false); err != nil {
			return err
		}
		if req.Target == st.HostID && actorID != "" {
			return roomerr.Denied("moderation", "the host cannot be moderated")
		}
		return mutate(st)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, roomID, req.Target, EventModeration, ModerationNotice{
		RoomID: roomID,
		Action: req.Action,
		Value:  req.value(),
		Reason: req.Reason,
		By:     actorID,
	})

	switch req.Action {
	case ActionKick, ActionBlock:
		s.notifier.Broadcast(ctx, roomID, EventParticipantLeft, LeftView{RoomID: roomID, UserID: req.Target, Reason: string(req.Action)}, req.Target)
		s.notifier.Broadcast(ctx, roomID, EventRoomStatus, statusView(state), req.Target)
		s.notifier.Disconnect(ctx, roomID, req.Target, req.Reason)
	default:
		participant, _ := state.Participant(req.Target)
		s.notifier.Broadcast(ctx, roomID, EventParticipantUpdated, ParticipantView{RoomID: roomID, Participant: participant}, req.Target)
	}

	s.logger.Info("participant moderated",
		slog.String("room_id", roomID),
		slog.String("actor_id", actorID),
		slog.String("target_id", req.Target),
		slog.String("action", string(req.Action)),
	)
	return state, nil
}
