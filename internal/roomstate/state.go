package roomstate

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/romashorodok/room-coordinator/internal/lifecycle"
	"github.com/romashorodok/room-coordinator/internal/roomconfig"
)

type Role string

const (
	RoleHost        Role = "host"
	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
)

func (r Role) CanModerate() bool {
	return r == RoleHost || r == RoleModerator
}

type ParticipantState struct {
	UserID        string    `json:"userId"`
	Role          Role      `json:"role"`
	Online        bool      `json:"online"`
	Muted         bool      `json:"muted"`
	VideoEnabled  bool      `json:"videoEnabled"`
	HandRaised    bool      `json:"handRaised"`
	ScreenSharing bool      `json:"screenSharing"`
	JoinedAt      time.Time `json:"joinedAt"`
	LastActivity  time.Time `json:"lastActivity"`
}

type FeatureState struct {
	Enabled bool           `json:"enabled"`
	Config  map[string]any `json:"config,omitempty"`
	State   map[string]any `json:"state,omitempty"`
}

// RoomState is the live record of one room. It is owned by Store and only
// changes through Store.Update.
type RoomState struct {
	RoomID          string                               `json:"roomId"`
	RoomType        string                               `json:"roomType"`
	Status          lifecycle.Status                     `json:"status"`
	HostID          string                               `json:"hostId"`
	MaxParticipants int                                  `json:"maxParticipants"`
	Config          roomconfig.RoomConfig                `json:"config"`
	Participants    map[string]*ParticipantState         `json:"participants"`
	Features        map[roomconfig.Feature]*FeatureState `json:"features"`
	Blocked         map[string]time.Time                 `json:"blocked,omitempty"`
	Metadata        map[string]any                       `json:"metadata,omitempty"`
	CreatedAt       time.Time                            `json:"createdAt"`
	UpdatedAt       time.Time                            `json:"updatedAt"`
	Version         int64                                `json:"version"`
}

func newRoomState(roomID string, cfg roomconfig.RoomConfig, hostID string, now time.Time) *RoomState {
	features := make(map[roomconfig.Feature]*FeatureState, len(cfg.Features))
	for _, feature := range cfg.Features {
		features[feature] = &FeatureState{Enabled: true}
	}
	return &RoomState{
		RoomID:          roomID,
		RoomType:        cfg.RoomType,
		Status:          lifecycle.StatusEmpty,
		HostID:          hostID,
		MaxParticipants: cfg.MaxParticipants,
		Config:          cfg.Clone(),
		Participants:    make(map[string]*ParticipantState),
		Features:        features,
		Blocked:         make(map[string]time.Time),
		Metadata:        make(map[string]any),
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
}

func (s RoomState) MarshalBinary() ([]byte, error) {
	return json.Marshal(s)
}

func (s *RoomState) UnmarshalBinary(data []byte) error {
	if err := json.Unmarshal(data, s); err != nil {
		return err
	}
	s.ensureMaps()
	return nil
}

func (s *RoomState) ensureMaps() {
	if s.Participants == nil {
		s.Participants = make(map[string]*ParticipantState)
	}
	if s.Features == nil {
		s.Features = make(map[roomconfig.Feature]*FeatureState)
	}
	if s.Blocked == nil {
		s.Blocked = make(map[string]time.Time)
	}
	if s.Metadata == nil {
		s.Metadata = make(map[string]any)
	}
}

// Clone deep-copies the state through its storage encoding.
func (s *RoomState) Clone() *RoomState {
	data, err := s.MarshalBinary()
	if err != nil {
		panic("roomstate: unable encode state: " + err.Error())
	}
	clone := &RoomState{}
	if err := clone.UnmarshalBinary(data); err != nil {
		panic("roomstate: unable decode state: " + err.Error())
	}
	return clone
}

func (s *RoomState) Participant(userID string) (ParticipantState, bool) {
	p, exist := s.Participants[userID]
	if !exist || p == nil {
		return ParticipantState{}, false
	}
	return *p, true
}

// Roster lists participants ordered by join time.
func (s *RoomState) Roster() []ParticipantState {
	result := make([]ParticipantState, 0, len(s.Participants))
	for _, p := range s.Participants {
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].JoinedAt.Equal(result[j].JoinedAt) {
			return result[i].JoinedAt.Before(result[j].JoinedAt)
		}
		return result[i].UserID < result[j].UserID
	})
	return result
}

func (s *RoomState) EnabledFeatures() []roomconfig.Feature {
	result := make([]roomconfig.Feature, 0, len(s.Features))
	for _, feature := range s.Config.Features {
		if state, exist := s.Features[feature]; exist && state.Enabled {
			result = append(result, feature)
		}
	}
	return result
}

func (s *RoomState) touch(now time.Time) {
	if !now.After(s.UpdatedAt) {
		now = s.UpdatedAt.Add(time.Nanosecond)
	}
	s.UpdatedAt = now
	s.Version++
}
