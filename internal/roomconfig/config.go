package roomconfig

import (
	"time"

	webrtc "github.com/pion/webrtc/v4"
)

type Feature string

const (
	FeatureChat          Feature = "chat"
	FeatureRecording     Feature = "recording"
	FeatureHandRaise     Feature = "hand_raise"
	FeatureScreenShare   Feature = "screen_share"
	FeatureWhiteboard    Feature = "whiteboard"
	FeaturePolls         Feature = "polls"
	FeatureReactions     Feature = "reactions"
	FeatureBreakoutRooms Feature = "breakout_rooms"
	FeatureCaptions      Feature = "captions"
)

type ModerationLevel string

const (
	ModerationNone   ModerationLevel = "none"
	ModerationBasic  ModerationLevel = "basic"
	ModerationStrict ModerationLevel = "strict"
)

type DefaultSettings struct {
	MuteOnJoin      bool `json:"muteOnJoin"`
	VideoOffOnJoin  bool `json:"videoOffOnJoin"`
	AllowSelfUnmute bool `json:"allowSelfUnmute"`
	WaitingRoom     bool `json:"waitingRoom"`
}

type AccessSettings struct {
	AllowedRoles []string `json:"allowedRoles,omitempty"`
	// ResourceID is the enrollment resource. Empty means the room id.
	ResourceID string        `json:"resourceId,omitempty"`
	Price      int64         `json:"price,omitempty"`
	StartsAt   *time.Time    `json:"startsAt,omitempty"`
	EndsAt     *time.Time    `json:"endsAt,omitempty"`
	EarlyJoin  time.Duration `json:"earlyJoin,omitempty"`
}

// MediaSettings are hints handed to clients for the external media service.
type MediaSettings struct {
	Provider        string             `json:"provider,omitempty"`
	Region          string             `json:"region,omitempty"`
	ICEServers      []webrtc.ICEServer `json:"iceServers,omitempty"`
	MaxVideoBitrate int                `json:"maxVideoBitrate,omitempty"`
}

type PersistenceSettings struct {
	Enabled bool          `json:"enabled"`
	TTL     time.Duration `json:"ttl"`
}

// RoomConfig is the capability bundle of a room type. Values are never
// mutated after construction; Merge returns a new value.
type RoomConfig struct {
	RoomType           string          `json:"roomType"`
	RequiresEnrollment bool            `json:"requiresEnrollment"`
	RequiresPayment    bool            `json:"requiresPayment"`
	TimeRestricted     bool            `json:"timeRestricted"`
	MaxParticipants    int             `json:"maxParticipants"`
	Features           []Feature       `json:"features"`
	Moderation         ModerationLevel `json:"moderation"`

	Defaults    DefaultSettings     `json:"defaults"`
	Access      AccessSettings      `json:"access"`
	Media       MediaSettings       `json:"media"`
	Persistence PersistenceSettings `json:"persistence"`
}

func (c RoomConfig) HasFeature(f Feature) bool {
	for _, feature := range c.Features {
		if feature == f {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers may hold the value past a registry
// lookup without aliasing its slices.
func (c RoomConfig) Clone() RoomConfig {
	out := c
	if c.Features != nil {
		out.Features = append([]Feature(nil), c.Features...)
	}
	if c.Access.AllowedRoles != nil {
		out.Access.AllowedRoles = append([]string(nil), c.Access.AllowedRoles...)
	}
	if c.Access.StartsAt != nil {
		startsAt := *c.Access.StartsAt
		out.Access.StartsAt = &startsAt
	}
	if c.Access.EndsAt != nil {
		endsAt := *c.Access.EndsAt
		out.Access.EndsAt = &endsAt
	}
	if c.Media.ICEServers != nil {
		out.Media.ICEServers = make([]webrtc.ICEServer, len(c.Media.ICEServers))
		for i, server := range c.Media.ICEServers {
			server.URLs = append([]string(nil), server.URLs...)
			out.Media.ICEServers[i] = server
		}
	}
	return out
}
