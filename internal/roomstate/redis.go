package roomstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/romashorodok/room-coordinator/pkg/roomerr"
)

const redisKeyPrefix = "room:state:"

// Redis is the shared Backend. States are stored as JSON under
// room:state:<roomID> with the room's TTL.
type Redis struct {
	client redis.UniversalClient
}

func (r *Redis) key(roomID string) string {
	return redisKeyPrefix + roomID
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", roomerr.ErrUnavailable, err)
}

func expiration(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return redis.KeepTTL
}

func (r *Redis) Load(ctx context.Context, roomID string) (*RoomState, error) {
	data, err := r.client.Get(ctx, r.key(roomID)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("room %s: %w", roomID, roomerr.ErrNotFound)
	case err != nil:
		return nil, unavailable(err)
	}

	state := &RoomState{}
	if err := state.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return state, nil
}

func (r *Redis) Create(ctx context.Context, state *RoomState, ttl time.Duration) error {
	data, err := state.MarshalBinary()
	if err != nil {
		return err
	}

	created, err := r.client.SetNX(ctx, r.key(state.RoomID), data, ttl).Result()
	if err != nil {
		return unavailable(err)
	}
	if !created {
		return fmt.Errorf("room %s: %w", state.RoomID, roomerr.ErrAlreadyExists)
	}
	return nil
}

type versionHead struct {
	Version int64 `json:"version"`
}

func (r *Redis) Swap(ctx context.Context, state *RoomState, expected int64, ttl time.Duration) error {
	key := r.key(state.RoomID)
	data, err := state.MarshalBinary()
	if err != nil {
		return err
	}

	swap := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			return fmt.Errorf("room %s: %w", state.RoomID, roomerr.ErrNotFound)
		case err != nil:
			return unavailable(err)
		}

		var head versionHead
		if err := json.Unmarshal(current, &head); err != nil {
			return err
		}
		if head.Version != expected {
			return ErrConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, expiration(ttl))
			return nil
		})
		return err
	}

	err = r.client.Watch(ctx, swap, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return ErrConflict
	case errors.Is(err, ErrConflict), errors.Is(err, roomerr.ErrNotFound), errors.Is(err, roomerr.ErrUnavailable):
		return err
	default:
		return unavailable(err)
	}
}

func (r *Redis) Put(ctx context.Context, state *RoomState, ttl time.Duration) error {
	data, err := state.MarshalBinary()
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(state.RoomID), data, expiration(ttl)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, roomID string) error {
	if err := r.client.Del(ctx, r.key(roomID)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

var _ Backend = (*Redis)(nil)

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}
