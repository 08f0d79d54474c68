package roomstate

import (
	"context"
	"errors"
	"time"
)

var (
	ErrConflict = errors.New("room state version conflict")
	// ErrNoChange is returned by a Mutator to skip the write.
	ErrNoChange = errors.New("no change")
)

// Backend persists encoded room states. A ttl <= 0 passed to Swap or Put
// keeps the entry's current expiry.
type Backend interface {
	Load(ctx context.Context, roomID string) (*RoomState, error)
	Create(ctx context.Context, state *RoomState, ttl time.Duration) error
	// Swap writes state only if the stored version equals expected.
	Swap(ctx context.Context, state *RoomState, expected int64, ttl time.Duration) error
	Put(ctx context.Context, state *RoomState, ttl time.Duration) error
	Delete(ctx context.Context, roomID string) error
}
