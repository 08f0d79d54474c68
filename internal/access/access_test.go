package access

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/romashorodok/room-coordinator/internal/roomconfig"
	"github.com/romashorodok/room-coordinator/pkg/roomerr"
)

type enrollments map[string]bool

func (e enrollments) IsEnrolled(_ context.Context, userID, resourceID string) (bool, error) {
	return e[userID+"/"+resourceID], nil
}

type credits map[string]int64

func (c credits) HasSufficientCredits(_ context.Context, userID string, amount int64) (bool, error) {
	return c[userID] >= amount, nil
}

type roles map[string]string

func (r roles) HasRole(_ context.Context, userID string, allowed []string) (bool, error) {
	for _, role := range allowed {
		if r[userID] == role {
			return true, nil
		}
	}
	return false, nil
}

type occupancy struct {
	count   int
	present bool
	err     error
}

func (o occupancy) Occupancy(context.Context, string, string) (int, bool, error) {
	return o.count, o.present, o.err
}

type failingCredits struct{}

func (failingCredits) HasSufficientCredits(context.Context, string, int64) (bool, error) {
	return false, errors.New("billing timeout")
}

var now = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func at(t time.Time) *time.Time { return &t }

func fullConfig() roomconfig.RoomConfig {
	cfg := roomconfig.Meeting()
	cfg.RequiresEnrollment = true
	cfg.RequiresPayment = true
	cfg.TimeRestricted = true
	cfg.MaxParticipants = 3
	cfg.Access.Price = 5
	cfg.Access.StartsAt = at(now.Add(-time.Hour))
	cfg.Access.EndsAt = at(now.Add(time.Hour))
	cfg.Access.AllowedRoles = []string{"student"}
	return cfg
}

func pipeline(opts ...Option) *Pipeline {
	base := []Option{
		WithEnrollment(enrollments{"alice/room-1": true}),
		WithCredits(credits{"alice": 10}),
		WithRoles(roles{"alice": "student"}),
		WithOccupancy(occupancy{count: 1}),
		WithClock(func() time.Time { return now }),
	}
	return NewPipeline(append(base, opts...)...)
}

func TestValidateAllGranted(t *testing.T) {
	decision := pipeline().Validate(context.Background(), "alice", "room-1", fullConfig())

	if !decision.Granted {
		t.Fatalf("expected grant, got %+v", decision)
	}
	if decision.ChecksRun != 5 {
		t.Fatalf("expected 5 checks, got %d", decision.ChecksRun)
	}
	if decision.Err() != nil {
		t.Fatalf("granted decision returned error %v", decision.Err())
	}
}

func TestValidateOnlyApplicableChecks(t *testing.T) {
	decision := NewPipeline().Validate(context.Background(), "alice", "room-1", roomconfig.RoomConfig{RoomType: "open"})

	if !decision.Granted || decision.ChecksRun != 1 {
		t.Fatalf("expected only capacity check to run, got %+v", decision)
	}
}

func TestValidateDenials(t *testing.T) {
	tests := map[string]struct {
		opts   []Option
		config func(*roomconfig.RoomConfig)
		check  CheckKind
		reason string
	}{
		"payment": {
			opts:   []Option{WithCredits(credits{"alice": 1})},
			check:  CheckPayment,
			reason: "insufficient credits",
		},
		"payment collaborator error": {
			opts:   []Option{WithCredits(failingCredits{})},
			check:  CheckPayment,
			reason: "billing timeout",
		},
		"enrollment": {
			opts:   []Option{WithEnrollment(enrollments{})},
			check:  CheckEnrollment,
			reason: "not enrolled",
		},
		"enrollment resource": {
			config: func(cfg *roomconfig.RoomConfig) { cfg.Access.ResourceID = "course-7" },
			check:  CheckEnrollment,
			reason: "course-7",
		},
		"before window": {
			config: func(cfg *roomconfig.RoomConfig) { cfg.Access.StartsAt = at(now.Add(time.Minute)) },
			check:  CheckTimeWindow,
			reason: "opens at",
		},
		"after window": {
			config: func(cfg *roomconfig.RoomConfig) { cfg.Access.EndsAt = at(now) },
			check:  CheckTimeWindow,
			reason: "closed at",
		},
		"capacity": {
			opts:   []Option{WithOccupancy(occupancy{count: 3})},
			check:  CheckCapacity,
			reason: "room is full (3/3)",
		},
		"capacity read error": {
			opts:   []Option{WithOccupancy(occupancy{err: roomerr.ErrUnavailable})},
			check:  CheckCapacity,
			reason: "occupancy could not be read",
		},
		"role": {
			opts:   []Option{WithRoles(roles{"alice": "guest"})},
			check:  CheckRole,
			reason: "student",
		},
		"missing collaborator": {
			opts:   []Option{WithRoles(nil)},
			check:  CheckRole,
			reason: "not configured",
		},
	}

	for name, testCase := range tests {
		testCase := testCase
		t.Run(name, func(t *testing.T) {
			cfg := fullConfig()
			if testCase.config != nil {
				testCase.config(&cfg)
			}

			decision := pipeline(testCase.opts...).Validate(context.Background(), "alice", "room-1", cfg)

			if decision.Granted {
				t.Fatalf("expected denial, got grant")
			}
			if decision.Check != testCase.check {
				t.Fatalf("expected %s denial, got %s (%s)", testCase.check, decision.Check, decision.Reason)
			}
			if !strings.Contains(decision.Reason, testCase.reason) {
				t.Fatalf("expected reason containing %q, got %q", testCase.reason, decision.Reason)
			}

			denied, ok := roomerr.AsDenied(decision.Err())
			if !ok || denied.Check != string(testCase.check) {
				t.Fatalf("expected denied error for %s, got %v", testCase.check, decision.Err())
			}
		})
	}
}

func TestValidateTieBreakOrder(t *testing.T) {
	cfg := fullConfig()
	p := pipeline(
		WithCredits(credits{}),
		WithOccupancy(occupancy{count: 3}),
		WithRoles(roles{}),
	)

	for i := 0; i < 20; i++ {
		decision := p.Validate(context.Background(), "alice", "room-1", cfg)
		if decision.Check != CheckPayment {
			t.Fatalf("expected payment denial to win, got %s", decision.Check)
		}
	}
}

func TestCapacity(t *testing.T) {
	tests := map[string]struct {
		max      int
		reader   occupancy
		expected bool
	}{
		"unlimited":         {max: 0, reader: occupancy{count: 1000}, expected: true},
		"free seat":         {max: 2, reader: occupancy{count: 1}, expected: true},
		"full":              {max: 2, reader: occupancy{count: 2}, expected: false},
		"already present":   {max: 2, reader: occupancy{count: 2, present: true}, expected: true},
		"room not yet live": {max: 2, reader: occupancy{err: roomerr.ErrNotFound}, expected: true},
	}

	for name, testCase := range tests {
		testCase := testCase
		t.Run(name, func(t *testing.T) {
			cfg := roomconfig.RoomConfig{MaxParticipants: testCase.max}
			decision := NewPipeline(WithOccupancy(testCase.reader)).Validate(context.Background(), "alice", "room-1", cfg)
			if decision.Granted != testCase.expected {
				t.Fatalf("expected granted=%v, got %+v", testCase.expected, decision)
			}
		})
	}
}

func TestEarlyJoin(t *testing.T) {
	cfg := roomconfig.RoomConfig{TimeRestricted: true}
	cfg.Access.StartsAt = at(now.Add(10 * time.Minute))
	cfg.Access.EarlyJoin = 15 * time.Minute

	decision := pipeline().Validate(context.Background(), "alice", "room-1", cfg)
	if !decision.Granted {
		t.Fatalf("expected early join to be granted, got %+v", decision)
	}
}
