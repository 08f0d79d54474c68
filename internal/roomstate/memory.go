package roomstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/romashorodok/room-coordinator/pkg/roomerr"
)

type memoryEntry struct {
	data      []byte
	version   int64
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is an in-process Backend. It is local to one instance.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func (m *Memory) Load(_ context.Context, roomID string) (*RoomState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exist := m.lookup(roomID)
	if !exist {
		return nil, fmt.Errorf("room %s: %w", roomID, roomerr.ErrNotFound)
	}

	state := &RoomState{}
	if err := state.UnmarshalBinary(entry.data); err != nil {
		return nil, err
	}
	return state, nil
}

func (m *Memory) Create(_ context.Context, state *RoomState, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exist := m.lookup(state.RoomID); exist {
		return fmt.Errorf("room %s: %w", state.RoomID, roomerr.ErrAlreadyExists)
	}
	return m.store(state, ttl, time.Time{})
}

func (m *Memory) Swap(_ context.Context, state *RoomState, expected int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exist := m.lookup(state.RoomID)
	if !exist {
		return fmt.Errorf("room %s: %w", state.RoomID, roomerr.ErrNotFound)
	}
	if entry.version != expected {
		return ErrConflict
	}
	return m.store(state, ttl, entry.expiresAt)
}

func (m *Memory) Put(_ context.Context, state *RoomState, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, _ := m.lookup(state.RoomID)
	return m.store(state, ttl, entry.expiresAt)
}

func (m *Memory) Delete(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, roomID)
	return nil
}

func (m *Memory) lookup(roomID string) (memoryEntry, bool) {
	entry, exist := m.entries[roomID]
	if !exist {
		return memoryEntry{}, false
	}
	if entry.expired(m.now()) {
		delete(m.entries, roomID)
		return memoryEntry{}, false
	}
	return entry, true
}

func (m *Memory) store(state *RoomState, ttl time.Duration, keep time.Time) error {
	data, err := state.MarshalBinary()
	if err != nil {
		return err
	}

	expiresAt := keep
	if ttl > 0 {
		expiresAt = m.now().Add(ttl)
	}

	m.entries[state.RoomID] = memoryEntry{
		data:      data,
		version:   state.Version,
		expiresAt: expiresAt,
	}
	return nil
}

var _ Backend = (*Memory)(nil)

func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     now,
	}
}
