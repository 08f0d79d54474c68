package room

import "context"

// Event names pushed to connected clients.
const (
	EventParticipantJoined  = "participant-joined"
	EventParticipantLeft    = "participant-left"
	EventParticipantUpdated = "participant-updated"
	EventModeration         = "moderation"
	EventFeatureUpdated     = "feature-updated"
	EventRoomStatus         = "room-status"
)

// Notifier delivers room events to connected clients. The gateway implements
// it; Service calls it only after the matching state write succeeded.
type Notifier interface {
	// Broadcast sends to every member of roomID except excludeUsers.
	Broadcast(ctx context.Context, roomID, event string, data any, excludeUsers ...string)
	// Notify sends to every connection of userID.
	Notify(ctx context.Context, roomID, userID, event string, data any)
	// Disconnect removes userID from roomID and closes their connections
	// after a grace delay.
	Disconnect(ctx context.Context, roomID, userID, reason string)
}

type nopNotifier struct{}

func (nopNotifier) Broadcast(context.Context, string, string, any, ...string) {}
func (nopNotifier) Notify(context.Context, string, string, string, any)       {}
func (nopNotifier) Disconnect(context.Context, string, string, string)        {}
