// Package room is the collaborator-facing surface of the coordinator: room
// creation, join and leave, feature toggles, lifecycle transitions,
// moderation and queries. The REST controller and the websocket gateway
// both go through Service.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/romashorodok/room-coordinator/internal/access"
	"github.com/romashorodok/room-coordinator/internal/entitystore"
	"github.com/romashorodok/room-coordinator/internal/lifecycle"
	"github.com/romashorodok/room-coordinator/internal/roomconfig"
	"github.com/romashorodok/room-coordinator/internal/roomstate"
	"github.com/romashorodok/room-coordinator/pkg/roomerr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

var tracer = otel.Tracer("github.com/romashorodok/room-coordinator/internal/room")

// Catalog is the persistent entity store, read when a room has no live
// state.
type Catalog interface {
	LookupRoom(ctx context.Context, roomID string) (entitystore.Room, error)
}

// Recorder is implemented by catalogs that also accept new room records.
type Recorder interface {
	CreateRoom(ctx context.Context, room entitystore.Room) error
}

// Remover is implemented by catalogs that drop records of cleaned up rooms.
type Remover interface {
	DeleteRoom(ctx context.Context, roomID string) error
}

type Validator interface {
	Validate(ctx context.Context, userID, roomID string, cfg roomconfig.RoomConfig) access.Decision
}

type RoomService struct {
	registry *roomconfig.Registry
	store    *roomstate.Store
	access   Validator
	catalog  Catalog
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// SetNotifier installs the event sink. The gateway registers itself here
// once it is constructed.
func (s *RoomService) SetNotifier(notifier Notifier) {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	s.notifier = notifier
}

type CreateRequest struct {
	RoomID   string               `json:"roomId,omitempty"`
	RoomType string               `json:"roomType"`
	HostID   string               `json:"hostId,omitempty"`
	Override *roomconfig.Override `json:"override,omitempty"`
	Metadata map[string]any       `json:"metadata,omitempty"`
}

func (s *RoomService) CreateRoom(ctx context.Context, req CreateRequest) (*roomstate.RoomState, error) {
	cfg, err := s.registry.Resolve(req.RoomType, req.Override)
	if err != nil {
		return nil, err
	}

	roomID := req.RoomID
	if roomID == "" {
		roomID = ulid.Make().String()
	}

	state, err := s.store.Initialize(ctx, roomID, cfg, req.HostID)
	if err != nil {
		return nil, err
	}

	if len(req.Metadata) > 0 {
		state, err = s.store.Update(ctx, roomID, func(st *roomstate.RoomState) error {
			for key, value := range req.Metadata {
				st.Metadata[key] = value
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if recorder, ok := s.catalog.(Recorder); ok {
		err := recorder.CreateRoom(ctx, entitystore.Room{
			ID:        roomID,
			RoomType:  cfg.RoomType,
			HostID:    req.HostID,
			Override:  req.Override,
			CreatedAt: state.CreatedAt,
		})
		if err != nil && !errors.Is(err, roomerr.ErrAlreadyExists) {
			s.logger.Warn("room record not persisted", slog.String("room_id", roomID), slog.String("err", err.Error()))
		}
	}

	s.logger.Info("room created",
		slog.String("room_id", roomID),
		slog.String("room_type", cfg.RoomType),
		slog.String("host_id", req.HostID),
	)
	return state, nil
}

// EnsureRoom returns the live state of roomID, initializing it from the
// catalog when the cache is cold.
func (s *RoomService) EnsureRoom(ctx context.Context, roomID string) (*roomstate.RoomState, error) {
	state, err := s.store.Get(ctx, roomID)
	if err == nil || !errors.Is(err, roomerr.ErrNotFound) || s.catalog == nil {
		return state, err
	}

	record, err := s.catalog.LookupRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.registry.Resolve(record.RoomType, record.Override)
	if err != nil {
		return nil, err
	}

	state, err = s.store.Initialize(ctx, roomID, cfg, record.HostID)
	if errors.Is(err, roomerr.ErrAlreadyExists) {
		return s.store.Get(ctx, roomID)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Debug("room state loaded from catalog", slog.String("room_id", roomID))
	return state, nil
}

type JoinRequest struct {
	RoomID string
	UserID string
	// Host and Moderator come from the caller's verified identity.
	Host      bool
	Moderator bool
}

type JoinResult struct {
	State       *roomstate.RoomState
	Participant roomstate.ParticipantState
	Decision    access.Decision
}

func (s *RoomService) Join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	ctx, span := tracer.Start(ctx, "room.Join", trace.WithAttributes(
		attribute.String("room.id", req.RoomID),
		attribute.String("user.id", req.UserID),
	))
	defer span.End()

	result, err := s.join(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

func (s *RoomService) join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	state, err := s.EnsureRoom(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}

	role := roomstate.RoleParticipant
	switch {
	case req.UserID == state.HostID || req.Host:
		role = roomstate.RoleHost
	case req.Moderator:
		role = roomstate.RoleModerator
	}

	// A participant opening a second connection is already in; lock and
	// block only gate new entries.
	_, present := state.Participants[req.UserID]
	switch {
	case state.Status == lifecycle.StatusEnded:
		return nil, fmt.Errorf("room %s ended: %w", req.RoomID, roomerr.ErrInvalidState)
	case present:
	case isBlocked(state, req.UserID):
		return nil, roomerr.Denied("blocked", "you were blocked from this room")
	case !state.Status.Joinable() && role != roomstate.RoleHost:
		return nil, roomerr.Denied("lock", "room is locked")
	}

	decision := s.access.Validate(ctx, req.UserID, req.RoomID, state.Config)
	if !decision.Granted {
		return nil, decision.Err()
	}

	now := s.now()
	participant := roomstate.ParticipantState{
		UserID:       req.UserID,
		Role:         role,
		Muted:        state.Config.Defaults.MuteOnJoin,
		VideoEnabled: !state.Config.Defaults.VideoOffOnJoin,
		JoinedAt:     now,
		LastActivity: now,
	}

	state, err = s.store.Update(ctx, req.RoomID, roomstate.AddParticipant(participant))
	if err != nil {
		return nil, err
	}
	joined, _ := state.Participant(req.UserID)

	s.notifier.Broadcast(ctx, req.RoomID, EventParticipantJoined, ParticipantView{RoomID: req.RoomID, Participant: joined}, req.UserID)
	s.notifier.Broadcast(ctx, req.RoomID, EventRoomStatus, statusView(state), req.UserID)

	s.logger.Info("participant joined",
		slog.String("room_id", req.RoomID),
		slog.String("user_id", req.UserID),
		slog.String("role", string(joined.Role)),
		slog.String("status", string(state.Status)),
	)
	return &JoinResult{State: state, Participant: joined, Decision: decision}, nil
}

func isBlocked(state *roomstate.RoomState, userID string) bool {
	_, blocked := state.Blocked[userID]
	return blocked
}

// Leave removes userID from roomID. Leaving a room the user is not in, or a
// room that no longer exists, is a no-op.
func (s *RoomService) Leave(ctx context.Context, roomID, userID string) (*roomstate.RoomState, bool, error) {
	var removed bool
	state, err := s.store.Update(ctx, roomID, func(st *roomstate.RoomState) error {
		removed = false
		if err := roomstate.RemoveParticipant(userID)(st); err != nil {
			return err
		}
		removed = true
		return nil
	}, roomstate.AllowEnded())
	if errors.Is(err, roomerr.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !removed {
		return state, false, nil
	}

	s.notifier.Broadcast(ctx, roomID, EventParticipantLeft, LeftView{RoomID: roomID, UserID: userID})
	s.notifier.Broadcast(ctx, roomID, EventRoomStatus, statusView(state))

	s.logger.Info("participant left",
		slog.String("room_id", roomID),
		slog.String("user_id", userID),
		slog.String("status", string(state.Status)),
	)
	return state, true, nil
}

// Touch records activity of userID. Unknown participants are ignored.
func (s *RoomService) Touch(ctx context.Context, roomID, userID string) error {
	now := s.now()
	_, err := s.store.Update(ctx, roomID, func(st *roomstate.RoomState) error {
		p, exist := st.Participants[userID]
		if !exist {
			return roomstate.ErrNoChange
		}
		p.LastActivity = now
		p.Online = true
		return nil
	})
	return err
}

// authorize returns the role of actorID in state. An empty actor is the
// service itself and may do anything.
func authorize(state *roomstate.RoomState, actorID string, hostOnly bool) error {
	if actorID == "" || actorID == state.HostID {
		return nil
	}
	p, exist := state.Participants[actorID]
	switch {
	case !exist:
		return roomerr.Denied("moderation", "only room participants can control the room")
	case p.Role == roomstate.RoleHost:
		return nil
	case hostOnly:
		return roomerr.Denied("moderation", "only the host can do this")
	case p.Role == roomstate.RoleModerator && state.Config.Moderation != roomconfig.ModerationNone:
		return nil
	default:
		return roomerr.Denied("moderation", "only the host or moderators can do this")
	}
}

func (s *RoomService) SetFeature(ctx context.Context, roomID, actorID string, feature roomconfig.Feature, enabled bool, config map[string]any) (*roomstate.FeatureState, error) {
	state, err := s.store.Update(ctx, roomID, func(st *roomstate.RoomState) error {
		if err := authorize(st, actorID, false); err != nil {
			return err
		}
		return roomstate.SetFeatureState(feature, enabled, config)(st)
	})
	if err != nil {
		return nil, err
	}

	featureState := state.Features[feature]
	s.notifier.Broadcast(ctx, roomID, EventFeatureUpdated, FeatureView{RoomID: roomID, Feature: feature, State: featureState})
	return featureState, nil
}

type MediaUpdate struct {
	Muted         *bool `json:"muted,omitempty"`
	VideoEnabled  *bool `json:"videoEnabled,omitempty"`
	HandRaised    *bool `json:"handRaised,omitempty"`
	ScreenSharing *bool `json:"screenSharing,omitempty"`
}

func featureEnabled(state *roomstate.RoomState, feature roomconfig.Feature) bool {
	featureState, exist := state.Features[feature]
	return exist && featureState.Enabled
}

// UpdateMedia applies a participant's own media toggles.
func (s *RoomService) UpdateMedia(ctx context.Context, roomID, userID string, update MediaUpdate) (roomstate.ParticipantState, error) {
	now := s.now()
	state, err := s.store.Update(ctx, roomID, func(st *roomstate.RoomState) error {
		p, exist := st.Participants[userID]
		if !exist {
			return fmt.Errorf("participant %s in room %s: %w", userID, roomID, roomerr.ErrNotFound)
		}

		if update.Muted != nil {
			if p.Muted && !*update.Muted && !st.Config.Defaults.AllowSelfUnmute && !p.Role.CanModerate() {
				return roomerr.Denied("moderation", "unmuting yourself is disabled in this room")
			}
			p.Muted = *update.Muted
		}
		if update.VideoEnabled != nil {
			p.VideoEnabled = *update.VideoEnabled
		}
		if update.HandRaised != nil {
			if *update.HandRaised && !featureEnabled(st, roomconfig.FeatureHandRaise) {
				return roomerr.Denied("feature", "hand raise is disabled")
			}
			p.HandRaised = *update.HandRaised
		}
		if update.ScreenSharing != nil {
			if *update.ScreenSharing && !featureEnabled(st, roomconfig.FeatureScreenShare) {
				return roomerr.Denied("feature", "screen sharing is disabled")
			}
			p.ScreenSharing = *update.ScreenSharing
		}
		p.LastActivity = now
		return nil
	})
	if err != nil {
		return roomstate.ParticipantState{}, err
	}

	participant, _ := state.Participant(userID)
	s.notifier.Broadcast(ctx, roomID, EventParticipantUpdated, ParticipantView{RoomID: roomID, Participant: participant})
	return participant, nil
}

func (s *RoomService) transition(ctx context.Context, roomID, actorID string, event lifecycle.Event) (*roomstate.RoomState, error) {
	hostOnly := event == lifecycle.EventEnd || event == lifecycle.EventStart
	state, err := s.store.Update(ctx, roomID, func(st *roomstate.RoomState) error {
		if err := authorize(st, actorID, hostOnly); err != nil {
			return err
		}
		return roomstate.Transition(event)(st)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Broadcast(ctx, roomID, EventRoomStatus, statusView(state))
	s.logger.Info("room status changed",
		slog.String("room_id", roomID),
		slog.String("event", string(event)),
		slog.String("status", string(state.Status)),
	)
	return state, nil
}

func (s *RoomService) Start(ctx context.Context, roomID, actorID string) (*roomstate.RoomState, error) {
	return s.transition(ctx, roomID, actorID, lifecycle.EventStart)
}

func (s *RoomService) Lock(ctx context.Context, roomID, actorID string) (*roomstate.RoomState, error) {
	return s.transition(ctx, roomID, actorID, lifecycle.EventLock)
}

func (s *RoomService) Unlock(ctx context.Context, roomID, actorID string) (*roomstate.RoomState, error) {
	return s.transition(ctx, roomID, actorID, lifecycle.EventUnlock)
}

func (s *RoomService) End(ctx context.Context, roomID, actorID string) (*roomstate.RoomState, error) {
	return s.transition(ctx, roomID, actorID, lifecycle.EventEnd)
}

// Transition applies a named lifecycle event.
func (s *RoomService) Transition(ctx context.Context, roomID, actorID, event string) (*roomstate.RoomState, error) {
	parsed, err := lifecycle.ParseEvent(event)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, roomID, actorID, parsed)
}

func (s *RoomService) Room(ctx context.Context, roomID string) (*roomstate.RoomState, error) {
	return s.store.Get(ctx, roomID)
}

func (s *RoomService) Participants(ctx context.Context, roomID string) ([]roomstate.ParticipantState, error) {
	state, err := s.store.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return state.Roster(), nil
}

func (s *RoomService) Features(ctx context.Context, roomID string) (map[roomconfig.Feature]*roomstate.FeatureState, error) {
	state, err := s.store.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return state.Features, nil
}

func (s *RoomService) RoomTypes() []string {
	return s.registry.Types()
}

// Cleanup ends roomID, forgets it in the catalog and drops its state.
// Participants are notified only after the state is deleted.
func (s *RoomService) Cleanup(ctx context.Context, roomID, actorID string) error {
	state, err := s.store.Update(ctx, roomID, roomstate.Chain(
		func(st *roomstate.RoomState) error { return authorize(st, actorID, true) },
		func(st *roomstate.RoomState) error {
			if st.Status == lifecycle.StatusEnded {
				return nil
			}
			return roomstate.Transition(lifecycle.EventEnd)(st)
		},
	), roomstate.AllowEnded())
	if errors.Is(err, roomerr.ErrNotFound) {
		return s.forget(ctx, roomID, actorID)
	}
	if err != nil {
		return err
	}

	if remover, ok := s.catalog.(Remover); ok {
		if err := remover.DeleteRoom(ctx, roomID); err != nil {
			return err
		}
	}
	if err := s.store.Delete(ctx, roomID); err != nil {
		return err
	}

	s.notifier.Broadcast(ctx, roomID, EventRoomStatus, statusView(state))
	for userID := range state.Participants {
		s.notifier.Disconnect(ctx, roomID, userID, "room closed")
	}
	s.logger.Info("room cleaned up",
		slog.String("room_id", roomID),
		slog.Int("participants", len(state.Participants)),
	)
	return nil
}

// forget drops the catalog record of a room without live state. Only its
// host or the service may do that.
func (s *RoomService) forget(ctx context.Context, roomID, actorID string) error {
	remover, ok := s.catalog.(Remover)
	if !ok {
		return nil
	}
	record, err := s.catalog.LookupRoom(ctx, roomID)
	if errors.Is(err, roomerr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if actorID != "" && actorID != record.HostID {
		return roomerr.Denied("moderation", "only the host can close the room")
	}
	if err := remover.DeleteRoom(ctx, roomID); err != nil {
		return err
	}
	s.logger.Info("room record removed", slog.String("room_id", roomID))
	return nil
}

type NewRoomServiceParams struct {
	fx.In

	Registry *roomconfig.Registry
	Store    *roomstate.Store
	Access   *access.Pipeline
	Catalog  Catalog `optional:"true"`
	Logger   *slog.Logger
}

func NewRoomService(params NewRoomServiceParams) *RoomService {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RoomService{
		registry: params.Registry,
		store:    params.Store,
		access:   params.Access,
		catalog:  params.Catalog,
		notifier: nopNotifier{},
		logger:   logger,
		now:      time.Now,
	}
}
