package roomstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/romashorodok/room-coordinator/internal/lifecycle"
	"github.com/romashorodok/room-coordinator/internal/roomconfig"
	"github.com/romashorodok/room-coordinator/pkg/roomerr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxSwapAttempts = 8

var tracer = otel.Tracer("github.com/romashorodok/room-coordinator/internal/roomstate")

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	lock, exist := k.locks[key]
	if !exist {
		lock = &refMutex{}
		k.locks[key] = lock
	}
	lock.refs++
	k.mu.Unlock()

	lock.Lock()
	return func() {
		lock.Unlock()
		k.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Store owns every RoomState. The shared backend is visible to all instances;
// the local tables are private to this process:
//
//   - local holds rooms that are not persisted to the shared backend (single
//     instance deployments or rooms with persistence disabled);
//   - mirror holds write-through copies of shared rooms, served when the
//     shared backend is unreachable or has lost the key.
//
// Concurrent updates of one room serialise on a per-key lock inside the
// process and use a version compare-and-swap across processes.
type Store struct {
	shared Backend
	local  *Memory
	mirror *Memory
	locks  *keyedMutex
	logger *slog.Logger
	now    func() time.Time
}

type StoreOption func(*Store)

func WithShared(backend Backend) StoreOption {
	return func(s *Store) { s.shared = backend }
}

func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		locks:  &keyedMutex{locks: make(map[string]*refMutex)},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.local = NewMemory(s.now)
	s.mirror = NewMemory(s.now)
	return s
}

func stateTTL(cfg roomconfig.RoomConfig) time.Duration {
	if cfg.Persistence.TTL > 0 {
		return cfg.Persistence.TTL
	}
	return roomconfig.DefaultStateTTL
}

func (s *Store) persisted(cfg roomconfig.RoomConfig) bool {
	return s.shared != nil && cfg.Persistence.Enabled
}

// Initialize creates the state of a new room with status EMPTY and every
// configured feature enabled.
func (s *Store) Initialize(ctx context.Context, roomID string, cfg roomconfig.RoomConfig, hostID string) (*RoomState, error) {
	if roomID == "" {
		return nil, fmt.Errorf("empty room id: %w", roomerr.ErrInvalidState)
	}

	unlock := s.locks.Lock(roomID)
	defer unlock()

	state := newRoomState(roomID, cfg, hostID, s.now())
	ttl := stateTTL(cfg)

	if !s.persisted(cfg) {
		if err := s.local.Create(ctx, state, ttl); err != nil {
			return nil, err
		}
		return state.Clone(), nil
	}

	if err := s.shared.Create(ctx, state, ttl); err != nil {
		return nil, err
	}
	_ = s.mirror.Put(ctx, state, ttl)

	s.logger.Debug("room state initialized",
		slog.String("room_id", roomID),
		slog.String("room_type", cfg.RoomType),
		slog.Duration("ttl", ttl),
	)
	return state.Clone(), nil
}

// Get reads the shared backend and falls back to the local tables when the
// shared backend is unreachable or the key is absent. The fallback is never
// visible to other instances.
func (s *Store) Get(ctx context.Context, roomID string) (*RoomState, error) {
	ctx, span := tracer.Start(ctx, "roomstate.Get", trace.WithAttributes(attribute.String("room.id", roomID)))
	defer span.End()

	var sharedErr error
	if s.shared != nil {
		state, err := s.shared.Load(ctx, roomID)
		if err == nil {
			return state, nil
		}
		if !errors.Is(err, roomerr.ErrNotFound) && !errors.Is(err, roomerr.ErrUnavailable) {
			return nil, err
		}
		sharedErr = err
	}

	if state, err := s.local.Load(ctx, roomID); err == nil {
		return state, nil
	}

	if state, err := s.mirror.Load(ctx, roomID); err == nil {
		if errors.Is(sharedErr, roomerr.ErrUnavailable) {
			s.logger.Warn("serving room state from local fallback",
				slog.String("room_id", roomID),
				slog.String("err", sharedErr.Error()),
			)
		}
		return state, nil
	}

	if errors.Is(sharedErr, roomerr.ErrUnavailable) {
		s.logger.Warn("room state unavailable and not cached locally",
			slog.String("room_id", roomID),
			slog.String("err", sharedErr.Error()),
		)
	}
	return nil, fmt.Errorf("room %s: %w", roomID, roomerr.ErrNotFound)
}

type Mutator func(*RoomState) error

type updateOptions struct {
	ttl        time.Duration
	allowEnded bool
}

type UpdateOption func(*updateOptions)

// WithTTL replaces the entry's expiry instead of keeping it.
func WithTTL(ttl time.Duration) UpdateOption {
	return func(o *updateOptions) { o.ttl = ttl }
}

// AllowEnded lets the mutator run against an ENDED room.
func AllowEnded() UpdateOption {
	return func(o *updateOptions) { o.allowEnded = true }
}

// primary returns the backend that owns roomID and its current state. Writes
// never fall back to the mirror.
func (s *Store) primary(ctx context.Context, roomID string) (*RoomState, Backend, error) {
	if s.shared != nil {
		state, err := s.shared.Load(ctx, roomID)
		if err == nil {
			return state, s.shared, nil
		}
		if !errors.Is(err, roomerr.ErrNotFound) {
			return nil, nil, err
		}
	}

	state, err := s.local.Load(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	return state, s.local, nil
}

// Update is the only mutation path: read, apply mutate to a copy, bump
// UpdatedAt and write back if nobody else wrote in between.
func (s *Store) Update(ctx context.Context, roomID string, mutate Mutator, opts ...UpdateOption) (*RoomState, error) {
	ctx, span := tracer.Start(ctx, "roomstate.Update", trace.WithAttributes(attribute.String("room.id", roomID)))
	defer span.End()

	var options updateOptions
	for _, opt := range opts {
		opt(&options)
	}

	unlock := s.locks.Lock(roomID)
	defer unlock()

	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		current, backend, err := s.primary(ctx, roomID)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		if current.Status == lifecycle.StatusEnded && !options.allowEnded {
			return nil, fmt.Errorf("room %s ended: %w", roomID, roomerr.ErrInvalidState)
		}

		next := current.Clone()
		if err := mutate(next); err != nil {
			if errors.Is(err, ErrNoChange) {
				return current, nil
			}
			return nil, err
		}
		next.RoomID = current.RoomID
		next.Version = current.Version
		next.touch(s.now())

		err = backend.Swap(ctx, next, current.Version, options.ttl)
		if errors.Is(err, ErrConflict) {
			s.logger.Debug("room state conflict, retrying",
				slog.String("room_id", roomID),
				slog.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		if backend == s.shared {
			mirrorTTL := options.ttl
			if mirrorTTL <= 0 {
				mirrorTTL = stateTTL(next.Config)
			}
			_ = s.mirror.Put(ctx, next, mirrorTTL)
		}
		return next.Clone(), nil
	}

	return nil, fmt.Errorf("room %s: %w after %d attempts: %w", roomID, ErrConflict, maxSwapAttempts, roomerr.ErrUnavailable)
}

// Delete removes the room from every table. Deleting an absent room is not
// an error. Local copies survive a failed shared delete.
func (s *Store) Delete(ctx context.Context, roomID string) error {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	if s.shared != nil {
		if err := s.shared.Delete(ctx, roomID); err != nil {
			return err
		}
	}
	_ = s.local.Delete(ctx, roomID)
	_ = s.mirror.Delete(ctx, roomID)
	return nil
}

// Occupancy reports the participant count of roomID and whether userID is
// one of them.
func (s *Store) Occupancy(ctx context.Context, roomID, userID string) (int, bool, error) {
	state, err := s.Get(ctx, roomID)
	if err != nil {
		return 0, false, err
	}
	_, present := state.Participants[userID]
	return len(state.Participants), present, nil
}
