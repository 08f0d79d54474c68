package roomstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/romashorodok/room-coordinator/internal/lifecycle"
	"github.com/romashorodok/room-coordinator/internal/roomconfig"
	"github.com/romashorodok/room-coordinator/pkg/roomerr"
)

func newRedisStore(t *testing.T, mr *miniredis.Miniredis) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	return NewStore(WithShared(NewRedis(client)))
}

func storeFactories(t *testing.T) map[string]func() *Store {
	return map[string]func() *Store{
		"Memory": func() *Store { return NewStore() },
		"Redis":  func() *Store { return newRedisStore(t, miniredis.RunT(t)) },
	}
}

func participant(userID string, role Role) ParticipantState {
	now := time.Now()
	return ParticipantState{UserID: userID, Role: role, JoinedAt: now, LastActivity: now}
}

func capped(max int) roomconfig.RoomConfig {
	cfg := roomconfig.Meeting()
	cfg.MaxParticipants = max
	return cfg
}

func TestInitializeGetRoundTrip(t *testing.T) {
	for name, factory := range storeFactories(t) {
		factory := factory
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory()
			cfg := roomconfig.Classroom()

			if _, err := store.Initialize(ctx, "room-1", cfg, "host"); err != nil {
				t.Fatalf("initialize: %v", err)
			}

			state, err := store.Get(ctx, "room-1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if state.Status != lifecycle.StatusEmpty {
				t.Fatalf("expected empty status, got %s", state.Status)
			}
			if len(state.Participants) != 0 {
				t.Fatalf("expected no participants, got %v", state.Participants)
			}
			if len(state.Features) != len(cfg.Features) {
				t.Fatalf("expected %d features, got %d", len(cfg.Features), len(state.Features))
			}
			for _, feature := range cfg.Features {
				featureState, exist := state.Features[feature]
				if !exist || !featureState.Enabled {
					t.Fatalf("feature %s missing or disabled", feature)
				}
			}
			if state.HostID != "host" || state.RoomType != "classroom" {
				t.Fatalf("unexpected state header %+v", state)
			}
		})
	}
}

func TestInitializeTwice(t *testing.T) {
	for name, factory := range storeFactories(t) {
		factory := factory
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory()

			if _, err := store.Initialize(ctx, "room-1", roomconfig.Meeting(), "host"); err != nil {
				t.Fatal(err)
			}
			_, err := store.Initialize(ctx, "room-1", roomconfig.Meeting(), "host")
			if !errors.Is(err, roomerr.ErrAlreadyExists) {
				t.Fatalf("expected ErrAlreadyExists, got %v", err)
			}

			if err := store.Delete(ctx, "room-1"); err != nil {
				t.Fatal(err)
			}
			if _, err := store.Initialize(ctx, "room-1", roomconfig.Meeting(), "host"); err != nil {
				t.Fatalf("initialize after delete: %v", err)
			}
		})
	}
}

func TestGetMissing(t *testing.T) {
	_, err := NewStore().Get(context.Background(), "nope")
	if !errors.Is(err, roomerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateBumpsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	store := NewStore(WithClock(func() time.Time { return fixed }))

	initial, err := store.Initialize(ctx, "room-1", roomconfig.Meeting(), "host")
	if err != nil {
		t.Fatal(err)
	}

	previous := initial
	for i := 0; i < 3; i++ {
		next, err := store.Update(ctx, "room-1", AddParticipant(participant(fmt.Sprintf("user-%d", i), RoleParticipant)))
		if err != nil {
			t.Fatal(err)
		}
		if !next.UpdatedAt.After(previous.UpdatedAt) {
			t.Fatalf("updatedAt did not increase: %s -> %s", previous.UpdatedAt, next.UpdatedAt)
		}
		if next.Version != previous.Version+1 {
			t.Fatalf("expected version %d, got %d", previous.Version+1, next.Version)
		}
		previous = next
	}
}

func TestUpdateKeepsTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	store := newRedisStore(t, mr)

	cfg := roomconfig.Meeting()
	cfg.Persistence.TTL = time.Hour
	if _, err := store.Initialize(ctx, "room-1", cfg, "host"); err != nil {
		t.Fatal(err)
	}

	mr.FastForward(10 * time.Minute)
	if _, err := store.Update(ctx, "room-1", AddParticipant(participant("a", RoleParticipant))); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL(redisKeyPrefix + "room-1"); ttl != 50*time.Minute {
		t.Fatalf("expected remaining ttl 50m, got %s", ttl)
	}

	if _, err := store.Update(ctx, "room-1", AddParticipant(participant("b", RoleParticipant)), WithTTL(2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL(redisKeyPrefix + "room-1"); ttl != 2*time.Hour {
		t.Fatalf("expected ttl 2h, got %s", ttl)
	}
}

func TestUpdateMissingRoom(t *testing.T) {
	_, err := NewStore().Update(context.Background(), "nope", AddParticipant(participant("a", RoleParticipant)))
	if !errors.Is(err, roomerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFailedMutatorWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	initial, _ := store.Initialize(ctx, "room-1", roomconfig.Meeting(), "host")

	_, err := store.Update(ctx, "room-1", UpdateParticipant("ghost", func(p *ParticipantState) { p.Muted = true }))
	if !errors.Is(err, roomerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	state, _ := store.Get(ctx, "room-1")
	if state.Version != initial.Version {
		t.Fatalf("failed mutation bumped version %d -> %d", initial.Version, state.Version)
	}
}

type contendedBackend struct {
	*Memory
	swaps int
}

func (b *contendedBackend) Swap(context.Context, *RoomState, int64, time.Duration) error {
	b.swaps++
	return ErrConflict
}

func TestUpdateGivesUpUnderContention(t *testing.T) {
	ctx := context.Background()
	backend := &contendedBackend{Memory: NewMemory(time.Now)}
	store := NewStore(WithShared(backend))
	if _, err := store.Initialize(ctx, "room-1", roomconfig.Meeting(), "host"); err != nil {
		t.Fatal(err)
	}

	_, err := store.Update(ctx, "room-1", AddParticipant(participant("a", RoleParticipant)))
	if !errors.Is(err, ErrConflict) || !errors.Is(err, roomerr.ErrUnavailable) {
		t.Fatalf("expected retryable conflict, got %v", err)
	}
	if code := roomerr.CodeOf(err); code != roomerr.CodeUnavailable {
		t.Fatalf("code = %s, want %s", code, roomerr.CodeUnavailable)
	}
	if backend.swaps != maxSwapAttempts {
		t.Fatalf("swaps = %d, want %d", backend.swaps, maxSwapAttempts)
	}
}

func TestDeleteKeepsLocalCopyWhenSharedFails(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	store := newRedisStore(t, mr)
	if _, err := store.Initialize(ctx, "room-1", roomconfig.Meeting(), "host"); err != nil {
		t.Fatal(err)
	}

	mr.SetError("ERR shared store outage")
	if err := store.Delete(ctx, "room-1"); err == nil {
		t.Fatal("expected delete to fail during outage")
	}
	if _, err := store.Get(ctx, "room-1"); err != nil {
		t.Fatalf("failed delete dropped the local copy: %v", err)
	}

	mr.SetError("")
	if err := store.Delete(ctx, "room-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "room-1"); !errors.Is(err, roomerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestChainStopsAtFirstError(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	initial, _ := store.Initialize(ctx, "room-1", roomconfig.Meeting(), "host")

	_, err := store.Update(ctx, "room-1", Chain(
		AddParticipant(participant("a", RoleParticipant)),
		UpdateParticipant("ghost", func(p *ParticipantState) { p.Muted = true }),
	))
	if !errors.Is(err, roomerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	state, _ := store.Get(ctx, "room-1")
	if state.Version != initial.Version || len(state.Participants) != 0 {
		t.Fatalf("partial chain was written: %+v", state)
	}
}

func TestRemoveAbsentParticipantIsNoop(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	initial, _ := store.Initialize(ctx, "room-1", roomconfig.Meeting(), "host")

	state, err := store.Update(ctx, "room-1", RemoveParticipant("ghost"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if state.Version != initial.Version {
		t.Fatalf("no-op leave wrote state: version %d -> %d", initial.Version, state.Version)
	}
}

func TestCapacityStatusScenario(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	if _, err := store.Initialize(ctx, "room-1", capped(2), "a"); err != nil {
		t.Fatal(err)
	}

	state, err := store.Update(ctx, "room-1", AddParticipant(participant("a", RoleHost)))
	if err != nil || state.Status != lifecycle.StatusAvailable {
		t.Fatalf("after A: status %v err %v", state, err)
	}

	state, err = store.Update(ctx, "room-1", AddParticipant(participant("b", RoleParticipant)))
	if err != nil || state.Status != lifecycle.StatusFull {
		t.Fatalf("after B: status %v err %v", state, err)
	}

	_, err = store.Update(ctx, "room-1", AddParticipant(participant("c", RoleParticipant)))
	denied, ok := roomerr.AsDenied(err)
	if !ok || denied.Check != "capacity" {
		t.Fatalf("expected capacity denial, got %v", err)
	}

	state, err = store.Update(ctx, "room-1", RemoveParticipant("a"))
	if err != nil || state.Status != lifecycle.StatusAvailable {
		t.Fatalf("after A left: status %v err %v", state, err)
	}
}

func TestConcurrentUpdatesAcrossInstances(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	instanceA := newRedisStore(t, mr)
	instanceB := newRedisStore(t, mr)

	cfg := roomconfig.Meeting()
	cfg.MaxParticipants = 0
	if _, err := instanceA.Initialize(ctx, "room-1", cfg, "host"); err != nil {
		t.Fatal(err)
	}

	const joins = 12
	var wg sync.WaitGroup
	errs := make(chan error, joins)
	for i := 0; i < joins; i++ {
		store := instanceA
		if i%2 == 1 {
			store = instanceB
		}
		wg.Add(1)
		go func(store *Store, userID string) {
			defer wg.Done()
			_, err := store.Update(ctx, "room-1", AddParticipant(participant(userID, RoleParticipant)))
			errs <- err
		}(store, fmt.Sprintf("user-%d", i))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	state, err := instanceB.Get(ctx, "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Participants) != joins {
		t.Fatalf("expected %d participants, got %d", joins, len(state.Participants))
	}
}

func TestFallbackDuringOutage(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	instanceA := newRedisStore(t, mr)
	instanceB := newRedisStore(t, mr)

	if _, err := instanceA.Initialize(ctx, "room-1", roomconfig.Meeting(), "host"); err != nil {
		t.Fatal(err)
	}
	if _, err := instanceA.Update(ctx, "room-1", AddParticipant(participant("a", RoleHost))); err != nil {
		t.Fatal(err)
	}

	mr.SetError("ERR shared store outage")
	defer mr.SetError("")

	state, err := instanceA.Get(ctx, "room-1")
	if err != nil {
		t.Fatalf("expected local fallback, got %v", err)
	}
	if _, exist := state.Participants["a"]; !exist {
		t.Fatalf("fallback lost last known participant: %+v", state.Participants)
	}

	_, err = instanceB.Get(ctx, "room-1")
	if !errors.Is(err, roomerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second instance, got %v", err)
	}

	_, err = instanceA.Update(ctx, "room-1", AddParticipant(participant("b", RoleParticipant)))
	if !errors.Is(err, roomerr.ErrUnavailable) {
		t.Fatalf("expected writes to surface ErrUnavailable, got %v", err)
	}
}

func TestUpdateEndedRoom(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	store.Initialize(ctx, "room-1", roomconfig.Meeting(), "host")
	store.Update(ctx, "room-1", AddParticipant(participant("a", RoleHost)))

	if _, err := store.Update(ctx, "room-1", Transition(lifecycle.EventEnd)); err != nil {
		t.Fatal(err)
	}

	_, err := store.Update(ctx, "room-1", AddParticipant(participant("b", RoleParticipant)))
	if !errors.Is(err, roomerr.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	state, err := store.Update(ctx, "room-1", RemoveParticipant("a"), AllowEnded())
	if err != nil {
		t.Fatalf("leave after end: %v", err)
	}
	if state.Status != lifecycle.StatusEnded {
		t.Fatalf("leave changed ended status to %s", state.Status)
	}
}

func TestBlockAndLock(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	store.Initialize(ctx, "room-1", roomconfig.Meeting(), "host")
	store.Update(ctx, "room-1", AddParticipant(participant("x", RoleParticipant)))

	state, err := store.Update(ctx, "room-1", Block("x", time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if _, exist := state.Participants["x"]; exist {
		t.Fatal("blocked user still in room")
	}

	_, err = store.Update(ctx, "room-1", AddParticipant(participant("x", RoleParticipant)))
	if denied, ok := roomerr.AsDenied(err); !ok || denied.Check != "blocked" {
		t.Fatalf("expected blocked denial, got %v", err)
	}

	store.Update(ctx, "room-1", Transition(lifecycle.EventLock))
	_, err = store.Update(ctx, "room-1", AddParticipant(participant("y", RoleParticipant)))
	if denied, ok := roomerr.AsDenied(err); !ok || denied.Check != "lock" {
		t.Fatalf("expected lock denial, got %v", err)
	}

	if _, err := store.Update(ctx, "room-1", AddParticipant(participant("host", RoleHost))); err != nil {
		t.Fatalf("host must join locked room: %v", err)
	}
}

func TestPersistenceDisabledStaysLocal(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	store := newRedisStore(t, mr)

	cfg := roomconfig.Meeting()
	cfg.Persistence.Enabled = false
	if _, err := store.Initialize(ctx, "room-1", cfg, "host"); err != nil {
		t.Fatal(err)
	}
	if mr.Exists(redisKeyPrefix + "room-1") {
		t.Fatal("non persisted room written to shared store")
	}
	if _, err := store.Update(ctx, "room-1", AddParticipant(participant("a", RoleHost))); err != nil {
		t.Fatalf("update local room: %v", err)
	}
	count, present, err := store.Occupancy(ctx, "room-1", "a")
	if err != nil || count != 1 || !present {
		t.Fatalf("occupancy = %d %v %v", count, present, err)
	}
}
