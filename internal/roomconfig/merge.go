package roomconfig

import (
	"time"

	webrtc "github.com/pion/webrtc/v4"
)

// Override is a partial RoomConfig. Nil pointers and nil slices inherit from
// the base config.
type Override struct {
	RequiresEnrollment *bool            `json:"requiresEnrollment,omitempty"`
	RequiresPayment    *bool            `json:"requiresPayment,omitempty"`
	TimeRestricted     *bool            `json:"timeRestricted,omitempty"`
	MaxParticipants    *int             `json:"maxParticipants,omitempty"`
	Features           []Feature        `json:"features,omitempty"`
	Moderation         *ModerationLevel `json:"moderation,omitempty"`

	Defaults    *DefaultsOverride    `json:"defaults,omitempty"`
	Access      *AccessOverride      `json:"access,omitempty"`
	Media       *MediaOverride       `json:"media,omitempty"`
	Persistence *PersistenceOverride `json:"persistence,omitempty"`
}

type DefaultsOverride struct {
	MuteOnJoin      *bool `json:"muteOnJoin,omitempty"`
	VideoOffOnJoin  *bool `json:"videoOffOnJoin,omitempty"`
	AllowSelfUnmute *bool `json:"allowSelfUnmute,omitempty"`
	WaitingRoom     *bool `json:"waitingRoom,omitempty"`
}

type AccessOverride struct {
	AllowedRoles []string       `json:"allowedRoles,omitempty"`
	ResourceID   *string        `json:"resourceId,omitempty"`
	Price        *int64         `json:"price,omitempty"`
	StartsAt     *time.Time     `json:"startsAt,omitempty"`
	EndsAt       *time.Time     `json:"endsAt,omitempty"`
	EarlyJoin    *time.Duration `json:"earlyJoin,omitempty"`
}

type MediaOverride struct {
	Provider        *string            `json:"provider,omitempty"`
	Region          *string            `json:"region,omitempty"`
	ICEServers      []webrtc.ICEServer `json:"iceServers,omitempty"`
	MaxVideoBitrate *int               `json:"maxVideoBitrate,omitempty"`
}

type PersistenceOverride struct {
	Enabled *bool          `json:"enabled,omitempty"`
	TTL     *time.Duration `json:"ttl,omitempty"`
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Merge overlays o onto base. Scalars replace, setting groups merge field by
// field and Features is replaced wholesale only when o supplies it.
func Merge(base RoomConfig, o *Override) RoomConfig {
	out := base.Clone()
	if o == nil {
		return out
	}

	set(&out.RequiresEnrollment, o.RequiresEnrollment)
	set(&out.RequiresPayment, o.RequiresPayment)
	set(&out.TimeRestricted, o.TimeRestricted)
	set(&out.MaxParticipants, o.MaxParticipants)
	set(&out.Moderation, o.Moderation)
	if o.Features != nil {
		out.Features = dedupeFeatures(o.Features)
	}

	if d := o.Defaults; d != nil {
		set(&out.Defaults.MuteOnJoin, d.MuteOnJoin)
		set(&out.Defaults.VideoOffOnJoin, d.VideoOffOnJoin)
		set(&out.Defaults.AllowSelfUnmute, d.AllowSelfUnmute)
		set(&out.Defaults.WaitingRoom, d.WaitingRoom)
	}

	if a := o.Access; a != nil {
		if a.AllowedRoles != nil {
			out.Access.AllowedRoles = append([]string(nil), a.AllowedRoles...)
		}
		set(&out.Access.ResourceID, a.ResourceID)
		set(&out.Access.Price, a.Price)
		set(&out.Access.EarlyJoin, a.EarlyJoin)
		if a.StartsAt != nil {
			startsAt := *a.StartsAt
			out.Access.StartsAt = &startsAt
		}
		if a.EndsAt != nil {
			endsAt := *a.EndsAt
			out.Access.EndsAt = &endsAt
		}
	}

	if m := o.Media; m != nil {
		set(&out.Media.Provider, m.Provider)
		set(&out.Media.Region, m.Region)
		set(&out.Media.MaxVideoBitrate, m.MaxVideoBitrate)
		if m.ICEServers != nil {
			out.Media.ICEServers = RoomConfig{Media: MediaSettings{ICEServers: m.ICEServers}}.Clone().Media.ICEServers
		}
	}

	if p := o.Persistence; p != nil {
		set(&out.Persistence.Enabled, p.Enabled)
		set(&out.Persistence.TTL, p.TTL)
	}

	return out
}

func dedupeFeatures(features []Feature) []Feature {
	seen := make(map[Feature]struct{}, len(features))
	out := make([]Feature, 0, len(features))
	for _, f := range features {
		if _, exist := seen[f]; exist {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
