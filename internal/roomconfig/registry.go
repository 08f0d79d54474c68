package roomconfig

import (
	"fmt"
	"sort"
	"time"

	webrtc "github.com/pion/webrtc/v4"
	"github.com/romashorodok/room-coordinator/pkg/roomerr"
)

const DefaultStateTTL = 24 * time.Hour

// Registry holds the static capability bundle of every known room type.
type Registry struct {
	configs map[string]RoomConfig
}

func (r *Registry) Get(roomType string) (RoomConfig, error) {
	cfg, exist := r.configs[roomType]
	if !exist {
		return RoomConfig{}, fmt.Errorf("room type %q: %w", roomType, roomerr.ErrNotFound)
	}
	return cfg.Clone(), nil
}

func (r *Registry) Types() []string {
	result := make([]string, 0, len(r.configs))
	for roomType := range r.configs {
		result = append(result, roomType)
	}
	sort.Strings(result)
	return result
}

// Resolve looks up roomType and overlays o onto it.
func (r *Registry) Resolve(roomType string, o *Override) (RoomConfig, error) {
	base, err := r.Get(roomType)
	if err != nil {
		return RoomConfig{}, err
	}
	return Merge(base, o), nil
}

func NewRegistry(configs ...RoomConfig) *Registry {
	registry := &Registry{configs: make(map[string]RoomConfig, len(configs))}
	for _, cfg := range configs {
		registry.configs[cfg.RoomType] = cfg.Clone()
	}
	return registry
}

var defaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

func Meeting() RoomConfig {
	return RoomConfig{
		RoomType:        "meeting",
		MaxParticipants: 50,
		Features: []Feature{
			FeatureChat, FeatureHandRaise, FeatureScreenShare, FeatureReactions,
		},
		Moderation: ModerationBasic,
		Defaults: DefaultSettings{
			AllowSelfUnmute: true,
		},
		Media:       MediaSettings{Provider: "sfu", ICEServers: defaultICEServers},
		Persistence: PersistenceSettings{Enabled: true, TTL: DefaultStateTTL},
	}
}

func Classroom() RoomConfig {
	return RoomConfig{
		RoomType:           "classroom",
		RequiresEnrollment: true,
		TimeRestricted:     true,
		MaxParticipants:    30,
		Features: []Feature{
			FeatureChat, FeatureHandRaise, FeatureScreenShare, FeatureWhiteboard, FeaturePolls, FeatureRecording,
		},
		Moderation: ModerationStrict,
		Defaults: DefaultSettings{
			MuteOnJoin:      true,
			AllowSelfUnmute: true,
		},
		Access:      AccessSettings{EarlyJoin: 10 * time.Minute},
		Media:       MediaSettings{Provider: "sfu", ICEServers: defaultICEServers, MaxVideoBitrate: 1_500_000},
		Persistence: PersistenceSettings{Enabled: true, TTL: 6 * time.Hour},
	}
}

func Webinar() RoomConfig {
	return RoomConfig{
		RoomType:        "webinar",
		RequiresPayment: true,
		MaxParticipants: 500,
		Features: []Feature{
			FeatureChat, FeatureReactions, FeaturePolls, FeatureCaptions, FeatureRecording,
		},
		Moderation: ModerationStrict,
		Defaults: DefaultSettings{
			MuteOnJoin:     true,
			VideoOffOnJoin: true,
		},
		Access:      AccessSettings{Price: 1},
		Media:       MediaSettings{Provider: "sfu", ICEServers: defaultICEServers, MaxVideoBitrate: 2_500_000},
		Persistence: PersistenceSettings{Enabled: true, TTL: 12 * time.Hour},
	}
}

func Consultation() RoomConfig {
	return RoomConfig{
		RoomType:        "consultation",
		RequiresPayment: true,
		TimeRestricted:  true,
		MaxParticipants: 2,
		Features:        []Feature{FeatureChat, FeatureScreenShare},
		Moderation:      ModerationNone,
		Defaults: DefaultSettings{
			AllowSelfUnmute: true,
		},
		Access:      AccessSettings{Price: 10, EarlyJoin: 5 * time.Minute},
		Media:       MediaSettings{Provider: "p2p", ICEServers: defaultICEServers},
		Persistence: PersistenceSettings{Enabled: true, TTL: 2 * time.Hour},
	}
}

func DefaultRegistry() *Registry {
	return NewRegistry(Meeting(), Classroom(), Webinar(), Consultation())
}
