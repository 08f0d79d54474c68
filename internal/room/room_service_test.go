package room

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/romashorodok/room-coordinator/internal/access"
	"github.com/romashorodok/room-coordinator/internal/entitystore"
	"github.com/romashorodok/room-coordinator/internal/lifecycle"
	"github.com/romashorodok/room-coordinator/internal/roomconfig"
	"github.com/romashorodok/room-coordinator/internal/roomstate"
	"github.com/romashorodok/room-coordinator/pkg/roomerr"
)

type sent struct {
	kind    string
	roomID  string
	userID  string
	event   string
	data    any
	exclude []string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (n *recordingNotifier) Broadcast(_ context.Context, roomID, event string, data any, excludeUsers ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{kind: "broadcast", roomID: roomID, event: event, data: data, exclude: excludeUsers})
}

func (n *recordingNotifier) Notify(_ context.Context, roomID, userID, event string, data any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{kind: "notify", roomID: roomID, userID: userID, event: event, data: data})
}

func (n *recordingNotifier) Disconnect(_ context.Context, roomID, userID, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{kind: "disconnect", roomID: roomID, userID: userID, event: reason})
}

func (n *recordingNotifier) find(kind, event string) (sent, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.sent {
		if s.kind == kind && s.event == event {
			return s, true
		}
	}
	return sent{}, false
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	n.sent = nil
	n.mu.Unlock()
}

type fixture struct {
	service  *RoomService
	store    *roomstate.Store
	notifier *recordingNotifier
}

func newFixture(t *testing.T, catalog Catalog) *fixture {
	t.Helper()
	return newStoreFixture(t, roomstate.NewStore(), catalog)
}

func newStoreFixture(t *testing.T, store *roomstate.Store, catalog Catalog) *fixture {
	t.Helper()
	service := NewRoomService(NewRoomServiceParams{
		Registry: roomconfig.DefaultRegistry(),
		Store:    store,
		Access:   access.NewPipeline(access.WithOccupancy(store)),
		Catalog:  catalog,
	})
	notifier := &recordingNotifier{}
	service.SetNotifier(notifier)
	return &fixture{service: service, store: store, notifier: notifier}
}

func (f *fixture) create(t *testing.T, roomID string, max int) {
	t.Helper()
	_, err := f.service.CreateRoom(context.Background(), CreateRequest{
		RoomID:   roomID,
		RoomType: "meeting",
		HostID:   "host",
		Override: &roomconfig.Override{MaxParticipants: &max},
	})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
}

func (f *fixture) join(t *testing.T, roomID, userID string) *JoinResult {
	t.Helper()
	result, err := f.service.Join(context.Background(), JoinRequest{RoomID: roomID, UserID: userID})
	if err != nil {
		t.Fatalf("join %s: %v", userID, err)
	}
	return result
}

func TestCreateRoomGeneratesID(t *testing.T) {
	f := newFixture(t, nil)

	state, err := f.service.CreateRoom(context.Background(), CreateRequest{RoomType: "webinar", Metadata: map[string]any{"title": "Q3"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(state.RoomID) != 26 {
		t.Fatalf("expected ulid room id, got %q", state.RoomID)
	}
	if state.Metadata["title"] != "Q3" {
		t.Fatalf("metadata not stored: %v", state.Metadata)
	}

	if _, err := f.service.CreateRoom(context.Background(), CreateRequest{RoomType: "unknown"}); !errors.Is(err, roomerr.ErrNotFound) {
		t.Fatalf("expected unknown room type, got %v", err)
	}
}

func TestJoinLeaveCapacityScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.create(t, "room-1", 2)

	if status := f.join(t, "room-1", "alice").State.Status; status != lifecycle.StatusAvailable {
		t.Fatalf("after alice: %s", status)
	}
	if status := f.join(t, "room-1", "bob").State.Status; status != lifecycle.StatusFull {
		t.Fatalf("after bob: %s", status)
	}

	_, err := f.service.Join(ctx, JoinRequest{RoomID: "room-1", UserID: "carol"})
	denied, ok := roomerr.AsDenied(err)
	if !ok || denied.Check != string(access.CheckCapacity) {
		t.Fatalf("expected capacity denial, got %v", err)
	}

	state, left, err := f.service.Leave(ctx, "room-1", "alice")
	if err != nil || !left {
		t.Fatalf("leave: %v %v", left, err)
	}
	if state.Status != lifecycle.StatusAvailable {
		t.Fatalf("after alice left: %s", state.Status)
	}
}

func TestJoinBroadcastsToOthers(t *testing.T) {
	f := newFixture(t, nil)
	f.create(t, "room-1", 10)

	result := f.join(t, "room-1", "alice")
	if result.Participant.Role != roomstate.RoleParticipant || !result.Decision.Granted {
		t.Fatalf("unexpected join result %+v", result)
	}

	joined, ok := f.notifier.find("broadcast", EventParticipantJoined)
	if !ok {
		t.Fatal("participant-joined not broadcast")
	}
	if len(joined.exclude) != 1 || joined.exclude[0] != "alice" {
		t.Fatalf("joiner not excluded: %v", joined.exclude)
	}
}

func TestJoinRoles(t *testing.T) {
	f := newFixture(t, nil)
	f.create(t, "room-1", 10)

	tests := map[string]struct {
		req      JoinRequest
		expected roomstate.Role
	}{
		"configured host": {req: JoinRequest{UserID: "host"}, expected: roomstate.RoleHost},
		"flagged host":    {req: JoinRequest{UserID: "cohost", Host: true}, expected: roomstate.RoleHost},
		"moderator":       {req: JoinRequest{UserID: "mod", Moderator: true}, expected: roomstate.RoleModerator},
		"participant":     {req: JoinRequest{UserID: "guest"}, expected: roomstate.RoleParticipant},
	}
	for name, testCase := range tests {
		testCase := testCase
		t.Run(name, func(t *testing.T) {
			testCase.req.RoomID = "room-1"
			result, err := f.service.Join(context.Background(), testCase.req)
			if err != nil {
				t.Fatalf("join: %v", err)
			}
			if result.Participant.Role != testCase.expected {
				t.Fatalf("role = %s, want %s", result.Participant.Role, testCase.expected)
			}
		})
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.create(t, "room-1", 10)

	_, left, err := f.service.Leave(ctx, "room-1", "ghost")
	if err != nil || left {
		t.Fatalf("leave of absent user: %v %v", left, err)
	}
	if _, ok := f.notifier.find("broadcast", EventParticipantLeft); ok {
		t.Fatal("no-op leave must not broadcast")
	}

	_, left, err = f.service.Leave(ctx, "missing-room", "ghost")
	if err != nil || left {
		t.Fatalf("leave of missing room: %v %v", left, err)
	}
}

func TestForceMuteScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.create(t, "room-1", 10)
	f.join(t, "room-1", "host")
	f.join(t, "room-1", "x")
	f.join(t, "room-1", "y")
	f.notifier.reset()

	muted := true
	state, err := f.service.Moderate(ctx, "room-1", "host", ModerationRequest{Target: "x", Action: ActionForceMute, Value: &muted})
	if err != nil {
		t.Fatalf("moderate: %v", err)
	}
	if p, _ := state.Participant("x"); !p.Muted {
		t.Fatal("x is not muted")
	}

	enforcement, ok := f.notifier.find("notify", EventModeration)
	if !ok || enforcement.userID != "x" {
		t.Fatalf("x did not receive enforcement: %+v", enforcement)
	}
	notice := enforcement.data.(ModerationNotice)
	if notice.Action != ActionForceMute || !notice.Value || notice.By != "host" {
		t.Fatalf("unexpected notice %+v", notice)
	}

	update, ok := f.notifier.find("broadcast", EventParticipantUpdated)
	if !ok {
		t.Fatal("participant-updated not broadcast")
	}
	view := update.data.(ParticipantView)
	if view.Participant.UserID != "x" || !view.Participant.Muted {
		t.Fatalf("unexpected broadcast %+v", view)
	}
}

func TestModerationRules(t *testing.T) {
	ctx := context.Background()

	tests := map[string]struct {
		actor string
		req   ModerationRequest
		check func(t *testing.T, err error)
	}{
		"participant cannot moderate": {
			actor: "y",
			req:   ModerationRequest{Target: "x", Action: ActionForceMute},
			check: expectDenied,
		},
		"moderator can moderate": {
			actor: "mod",
			req:   ModerationRequest{Target: "x", Action: ActionForceCameraOff},
			check: expectNoError,
		},
		"host cannot be targeted": {
			actor: "mod",
			req:   ModerationRequest{Target: "host", Action: ActionKick},
			check: expectDenied,
		},
		"self moderation": {
			actor: "host",
			req:   ModerationRequest{Target: "host", Action: ActionForceMute},
			check: expectInvalid,
		},
		"unknown action": {
			actor: "host",
			req:   ModerationRequest{Target: "x", Action: "shout"},
			check: expectInvalid,
		},
		"absent target": {
			actor: "host",
			req:   ModerationRequest{Target: "nobody", Action: ActionForceMute},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, roomerr.ErrNotFound) {
					t.Fatalf("expected not found, got %v", err)
				}
			},
		},
	}

	for name, testCase := range tests {
		testCase := testCase
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.create(t, "room-1", 10)
			f.join(t, "room-1", "host")
			f.join(t, "room-1", "x")
			f.join(t, "room-1", "y")
			if _, err := f.service.Join(ctx, JoinRequest{RoomID: "room-1", UserID: "mod", Moderator: true}); err != nil {
				t.Fatalf("join mod: %v", err)
			}

			_, err := f.service.Moderate(ctx, "room-1", testCase.actor, testCase.req)
			testCase.check(t, err)
		})
	}
}

func expectDenied(t *testing.T, err error) {
	t.Helper()
	if !errors.Is(err, roomerr.ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
}

func expectInvalid(t *testing.T, err error) {
	t.Helper()
	if !errors.Is(err, roomerr.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func expectNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestKickAndBlock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.create(t, "room-1", 10)
	f.join(t, "room-1", "host")
	f.join(t, "room-1", "x")
	f.join(t, "room-1", "y")

	if _, err := f.service.Moderate(ctx, "room-1", "host", ModerationRequest{Target: "x", Action: ActionKick, Reason: "spam"}); err != nil {
		t.Fatalf("kick: %v", err)
	}
	if disconnect, ok := f.notifier.find("disconnect", "spam"); !ok || disconnect.userID != "x" {
		t.Fatalf("kicked user not disconnected: %+v", f.notifier.sent)
	}
	if _, ok := f.notifier.find("broadcast", EventParticipantLeft); !ok {
		t.Fatal("participant-left not broadcast")
	}

	// A kicked user may come back.
	f.join(t, "room-1", "x")

	if _, err := f.service.Moderate(ctx, "room-1", "host", ModerationRequest{Target: "y", Action: ActionBlock}); err != nil {
		t.Fatalf("block: %v", err)
	}
	_, err := f.service.Join(ctx, JoinRequest{RoomID: "room-1", UserID: "y"})
	if denied, ok := roomerr.AsDenied(err); !ok || denied.Check != "blocked" {
		t.Fatalf("expected blocked denial, got %v", err)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.create(t, "room-1", 10)
	f.join(t, "room-1", "alice")

	if _, err := f.service.Lock(ctx, "room-1", "alice"); !errors.Is(err, roomerr.ErrAccessDenied) {
		t.Fatalf("participant locked the room: %v", err)
	}

	state, err := f.service.Lock(ctx, "room-1", "host")
	if err != nil || state.Status != lifecycle.StatusLocked {
		t.Fatalf("lock: %v %v", state, err)
	}
	_, err = f.service.Join(ctx, JoinRequest{RoomID: "room-1", UserID: "bob"})
	if denied, ok := roomerr.AsDenied(err); !ok || denied.Check != "lock" {
		t.Fatalf("expected lock denial, got %v", err)
	}
	if _, err := f.service.Join(ctx, JoinRequest{RoomID: "room-1", UserID: "host"}); err != nil {
		t.Fatalf("host must join a locked room: %v", err)
	}

	state, err = f.service.Unlock(ctx, "room-1", "host")
	if err != nil || state.Status != lifecycle.StatusAvailable {
		t.Fatalf("unlock: %v %v", state, err)
	}

	if _, err := f.service.End(ctx, "room-1", "host"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := f.service.Start(ctx, "room-1", "host"); !errors.Is(err, roomerr.ErrInvalidState) {
		t.Fatalf("expected ended room to reject start, got %v", err)
	}
	if _, err := f.service.Join(ctx, JoinRequest{RoomID: "room-1", UserID: "bob"}); !errors.Is(err, roomerr.ErrInvalidState) {
		t.Fatalf("expected ended room to reject join, got %v", err)
	}
	if _, _, err := f.service.Leave(ctx, "room-1", "alice"); err != nil {
		t.Fatalf("leaving an ended room: %v", err)
	}

	if _, err := f.service.Transition(ctx, "room-1", "host", "occupancy"); !errors.Is(err, roomerr.ErrInvalidState) {
		t.Fatalf("expected occupancy to be internal, got %v", err)
	}
}

func TestUpdateMedia(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.service.CreateRoom(ctx, CreateRequest{RoomID: "class", RoomType: "webinar", HostID: "host"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.store.Update(ctx, "class", roomstate.AddParticipant(roomstate.ParticipantState{UserID: "student", Role: roomstate.RoleParticipant, Muted: true})); err != nil {
		t.Fatalf("seed participant: %v", err)
	}

	on, off := true, false
	if _, err := f.service.UpdateMedia(ctx, "class", "student", MediaUpdate{Muted: &off}); !errors.Is(err, roomerr.ErrAccessDenied) {
		t.Fatalf("expected self unmute to be denied, got %v", err)
	}
	if _, err := f.service.UpdateMedia(ctx, "class", "student", MediaUpdate{HandRaised: &on}); !errors.Is(err, roomerr.ErrAccessDenied) {
		t.Fatalf("expected hand raise to be disabled, got %v", err)
	}

	participant, err := f.service.UpdateMedia(ctx, "class", "student", MediaUpdate{VideoEnabled: &on})
	if err != nil || !participant.VideoEnabled {
		t.Fatalf("video toggle: %+v %v", participant, err)
	}
	if _, ok := f.notifier.find("broadcast", EventParticipantUpdated); !ok {
		t.Fatal("participant-updated not broadcast")
	}
}

func TestSetFeature(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.create(t, "room-1", 10)
	f.join(t, "room-1", "alice")

	if _, err := f.service.SetFeature(ctx, "room-1", "alice", roomconfig.FeatureChat, false, nil); !errors.Is(err, roomerr.ErrAccessDenied) {
		t.Fatalf("participant toggled a feature: %v", err)
	}
	state, err := f.service.SetFeature(ctx, "room-1", "host", roomconfig.FeatureChat, false, map[string]any{"slowMode": 5})
	if err != nil {
		t.Fatalf("set feature: %v", err)
	}
	if state.Enabled || state.Config["slowMode"] != float64(5) {
		t.Fatalf("unexpected feature state %+v", state)
	}
	if _, err := f.service.SetFeature(ctx, "room-1", "host", roomconfig.FeatureCaptions, true, nil); !errors.Is(err, roomerr.ErrNotFound) {
		t.Fatalf("expected unconfigured feature to be missing, got %v", err)
	}
}

func TestColdLoadFromCatalog(t *testing.T) {
	ctx := context.Background()
	catalog, err := entitystore.Open(filepath.Join(t.TempDir(), "entities.db"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	defer catalog.Close()

	max := 3
	if err := catalog.CreateRoom(ctx, entitystore.Room{ID: "stored", RoomType: "meeting", HostID: "owner", Override: &roomconfig.Override{MaxParticipants: &max}}); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}

	f := newFixture(t, catalog)
	result := f.join(t, "stored", "owner")
	if result.Participant.Role != roomstate.RoleHost || result.State.MaxParticipants != 3 {
		t.Fatalf("room not loaded from catalog: %+v", result.State)
	}

	if _, err := f.service.Join(ctx, JoinRequest{RoomID: "never-created", UserID: "owner"}); !errors.Is(err, roomerr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := f.service.CreateRoom(ctx, CreateRequest{RoomID: "fresh", RoomType: "meeting", HostID: "owner"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if record, err := catalog.LookupRoom(ctx, "fresh"); err != nil || record.HostID != "owner" {
		t.Fatalf("created room not recorded: %+v %v", record, err)
	}
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.create(t, "room-1", 10)
	f.join(t, "room-1", "alice")

	if err := f.service.Cleanup(ctx, "room-1", "alice"); !errors.Is(err, roomerr.ErrAccessDenied) {
		t.Fatalf("participant cleaned up the room: %v", err)
	}
	if err := f.service.Cleanup(ctx, "room-1", "host"); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, ok := f.notifier.find("disconnect", "room closed"); !ok {
		t.Fatal("participants not disconnected")
	}
	if _, err := f.service.Room(ctx, "room-1"); !errors.Is(err, roomerr.ErrNotFound) {
		t.Fatalf("expected room to be gone, got %v", err)
	}
	if err := f.service.Cleanup(ctx, "room-1", "host"); err != nil {
		t.Fatalf("second cleanup: %v", err)
	}
}

func TestCleanupRemovesCatalogRecord(t *testing.T) {
	ctx := context.Background()
	catalog, err := entitystore.Open(filepath.Join(t.TempDir(), "entities.db"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	defer catalog.Close()

	f := newFixture(t, catalog)
	f.create(t, "room-1", 10)
	f.join(t, "room-1", "alice")

	if err := f.service.Cleanup(ctx, "room-1", "host"); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := f.service.Join(ctx, JoinRequest{RoomID: "room-1", UserID: "alice"}); !errors.Is(err, roomerr.ErrNotFound) {
		t.Fatalf("cleaned up room came back: %v", err)
	}
	if _, err := catalog.LookupRoom(ctx, "room-1"); !errors.Is(err, roomerr.ErrNotFound) {
		t.Fatalf("catalog record survived cleanup: %v", err)
	}

	if err := catalog.CreateRoom(ctx, entitystore.Room{ID: "cold", RoomType: "meeting", HostID: "owner"}); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	if err := f.service.Cleanup(ctx, "cold", "stranger"); !errors.Is(err, roomerr.ErrAccessDenied) {
		t.Fatalf("stranger removed a cold room: %v", err)
	}
	if err := f.service.Cleanup(ctx, "cold", "owner"); err != nil {
		t.Fatalf("cleanup cold room: %v", err)
	}
	if _, err := f.service.Join(ctx, JoinRequest{RoomID: "cold", UserID: "owner"}); !errors.Is(err, roomerr.ErrNotFound) {
		t.Fatalf("cold room came back: %v", err)
	}
}

func TestCleanupDuringOutageKeepsParticipants(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	f := newStoreFixture(t, roomstate.NewStore(roomstate.WithShared(roomstate.NewRedis(client))), nil)
	f.create(t, "room-1", 10)
	f.join(t, "room-1", "alice")
	f.notifier.reset()

	mr.SetError("ERR shared store outage")
	if err := f.service.Cleanup(ctx, "room-1", "host"); !errors.Is(err, roomerr.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, ok := f.notifier.find("disconnect", "room closed"); ok {
		t.Fatal("participants disconnected from a room that still exists")
	}
	if _, ok := f.notifier.find("broadcast", EventRoomStatus); ok {
		t.Fatal("room announced as ended before cleanup succeeded")
	}

	mr.SetError("")
	state, err := f.service.Room(ctx, "room-1")
	if err != nil {
		t.Fatalf("room lost after failed cleanup: %v", err)
	}
	if _, present := state.Participants["alice"]; !present || state.Status == lifecycle.StatusEnded {
		t.Fatalf("failed cleanup changed the room: %+v", state)
	}

	if err := f.service.Cleanup(ctx, "room-1", "host"); err != nil {
		t.Fatalf("cleanup after recovery: %v", err)
	}
	if _, ok := f.notifier.find("disconnect", "room closed"); !ok {
		t.Fatal("participants not disconnected")
	}
}

func TestJoinFromSecondConnection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.create(t, "room-1", 10)
	f.join(t, "room-1", "alice")

	if _, err := f.service.Lock(ctx, "room-1", "host"); err != nil {
		t.Fatalf("lock: %v", err)
	}

	result, err := f.service.Join(ctx, JoinRequest{RoomID: "room-1", UserID: "alice"})
	if err != nil {
		t.Fatalf("participant rejected on second connection: %v", err)
	}
	if len(result.State.Participants) != 1 || result.State.Status != lifecycle.StatusLocked {
		t.Fatalf("rejoin changed the room: %+v", result.State)
	}

	_, err = f.service.Join(ctx, JoinRequest{RoomID: "room-1", UserID: "bob"})
	if denied, ok := roomerr.AsDenied(err); !ok || denied.Check != "lock" {
		t.Fatalf("expected lock denial for a new participant, got %v", err)
	}
}

func TestTouch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.create(t, "room-1", 10)
	f.join(t, "room-1", "alice")

	later := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	f.service.now = func() time.Time { return later }

	if err := f.service.Touch(ctx, "room-1", "alice"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	state, _ := f.service.Room(ctx, "room-1")
	if p := state.Participants["alice"]; !p.LastActivity.Equal(later) || !p.Online {
		t.Fatalf("activity not recorded: %+v", p)
	}

	before := state.Version
	if err := f.service.Touch(ctx, "room-1", "ghost"); err != nil {
		t.Fatalf("touch unknown participant: %v", err)
	}
	if state, _ := f.service.Room(ctx, "room-1"); state.Version != before {
		t.Fatalf("touching an unknown participant wrote state: %d -> %d", before, state.Version)
	}
	if err := f.service.Touch(ctx, "missing", "alice"); !errors.Is(err, roomerr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
