package room

import (
	"time"

	"github.com/romashorodok/room-coordinator/internal/lifecycle"
	"github.com/romashorodok/room-coordinator/internal/roomconfig"
	"github.com/romashorodok/room-coordinator/internal/roomstate"
)

type Capacity struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

// Snapshot is the client view of a room.
type Snapshot struct {
	RoomID       string                                         `json:"roomId"`
	RoomType     string                                         `json:"roomType"`
	Status       lifecycle.Status                               `json:"status"`
	HostID       string                                         `json:"hostId"`
	Participants []roomstate.ParticipantState                   `json:"participants"`
	Features     map[roomconfig.Feature]*roomstate.FeatureState `json:"features"`
	Capacity     Capacity                                       `json:"capacity"`
	Moderation   roomconfig.ModerationLevel                     `json:"moderation"`
	Defaults     roomconfig.DefaultSettings                     `json:"defaults"`
	Media        roomconfig.MediaSettings                       `json:"media"`
	Metadata     map[string]any                                 `json:"metadata,omitempty"`
	CreatedAt    time.Time                                      `json:"createdAt"`
	UpdatedAt    time.Time                                      `json:"updatedAt"`
}

func NewSnapshot(state *roomstate.RoomState) Snapshot {
	return Snapshot{
		RoomID:       state.RoomID,
		RoomType:     state.RoomType,
		Status:       state.Status,
		HostID:       state.HostID,
		Participants: state.Roster(),
		Features:     state.Features,
		Capacity:     Capacity{Current: len(state.Participants), Max: state.MaxParticipants},
		Moderation:   state.Config.Moderation,
		Defaults:     state.Config.Defaults,
		Media:        state.Config.Media,
		Metadata:     state.Metadata,
		CreatedAt:    state.CreatedAt,
		UpdatedAt:    state.UpdatedAt,
	}
}

type StatusView struct {
	RoomID   string           `json:"roomId"`
	Status   lifecycle.Status `json:"status"`
	Capacity Capacity         `json:"capacity"`
}

func statusView(state *roomstate.RoomState) StatusView {
	return StatusView{
		RoomID:   state.RoomID,
		Status:   state.Status,
		Capacity: Capacity{Current: len(state.Participants), Max: state.MaxParticipants},
	}
}

type ParticipantView struct {
	RoomID      string                     `json:"roomId"`
	Participant roomstate.ParticipantState `json:"participant"`
}

type LeftView struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Reason string `json:"reason,omitempty"`
}

type FeatureView struct {
	RoomID  string                  `json:"roomId"`
	Feature roomconfig.Feature      `json:"feature"`
	State   *roomstate.FeatureState `json:"state"`
}
