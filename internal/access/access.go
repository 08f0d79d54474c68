// Package access decides whether a user may join a room. Each applicable
// check asks one collaborator a single question; checks run concurrently and
// the first denial in check order wins.
package access

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/romashorodok/room-coordinator/internal/roomconfig"
	"github.com/romashorodok/room-coordinator/pkg/roomerr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/romashorodok/room-coordinator/internal/access")

type CheckKind string

// Declaration order is the tie-break order.
const (
	CheckEnrollment CheckKind = "enrollment"
	CheckPayment    CheckKind = "payment"
	CheckTimeWindow CheckKind = "time_window"
	CheckCapacity   CheckKind = "capacity"
	CheckRole       CheckKind = "role"
)

type EnrollmentChecker interface {
	IsEnrolled(ctx context.Context, userID, resourceID string) (bool, error)
}

type CreditChecker interface {
	HasSufficientCredits(ctx context.Context, userID string, amount int64) (bool, error)
}

type RoleChecker interface {
	HasRole(ctx context.Context, userID string, roles []string) (bool, error)
}

// OccupancyReader reports the current participant count of a room and
// whether userID is already one of them.
type OccupancyReader interface {
	Occupancy(ctx context.Context, roomID, userID string) (count int, present bool, err error)
}

type Decision struct {
	Granted   bool           `json:"granted"`
	Reason    string         `json:"reason,omitempty"`
	Check     CheckKind      `json:"check,omitempty"`
	ChecksRun int            `json:"checksRun"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Err is nil for granted decisions and a roomerr.DeniedError otherwise.
func (d Decision) Err() error {
	if d.Granted {
		return nil
	}
	return roomerr.Denied(string(d.Check), d.Reason)
}

type Request struct {
	UserID string
	RoomID string
	Config roomconfig.RoomConfig
	Now    time.Time
}

type verdict struct {
	granted bool
	reason  string
}

func grant() verdict { return verdict{granted: true} }

func deny(format string, args ...any) verdict {
	return verdict{reason: fmt.Sprintf(format, args...)}
}

type check struct {
	kind CheckKind
	run  func(ctx context.Context, req Request) verdict
}

type Pipeline struct {
	enrollment EnrollmentChecker
	credits    CreditChecker
	roles      RoleChecker
	occupancy  OccupancyReader
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Pipeline)

func WithEnrollment(checker EnrollmentChecker) Option {
	return func(p *Pipeline) { p.enrollment = checker }
}

func WithCredits(checker CreditChecker) Option {
	return func(p *Pipeline) { p.credits = checker }
}

func WithRoles(checker RoleChecker) Option {
	return func(p *Pipeline) { p.roles = checker }
}

func WithOccupancy(reader OccupancyReader) Option {
	return func(p *Pipeline) { p.occupancy = reader }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) checks(cfg roomconfig.RoomConfig) []check {
	var checks []check
	if cfg.RequiresEnrollment {
		checks = append(checks, check{CheckEnrollment, p.checkEnrollment})
	}
	if cfg.RequiresPayment {
		checks = append(checks, check{CheckPayment, p.checkPayment})
	}
	if cfg.TimeRestricted {
		checks = append(checks, check{CheckTimeWindow, checkTimeWindow})
	}
	checks = append(checks, check{CheckCapacity, p.checkCapacity})
	if len(cfg.Access.AllowedRoles) > 0 {
		checks = append(checks, check{CheckRole, p.checkRole})
	}
	return checks
}

// Validate runs every check that applies to cfg. A collaborator error is a
// denial.
func (p *Pipeline) Validate(ctx context.Context, userID, roomID string, cfg roomconfig.RoomConfig) Decision {
	ctx, span := tracer.Start(ctx, "access.Validate", trace.WithAttributes(
		attribute.String("room.id", roomID),
		attribute.String("room.type", cfg.RoomType),
	))
	defer span.End()

	req := Request{UserID: userID, RoomID: roomID, Config: cfg, Now: p.now()}
	checks := p.checks(cfg)
	verdicts := make([]verdict, len(checks))

	var g errgroup.Group
	for i, c := range checks {
		i, c := i, c
		g.Go(func() error {
			verdicts[i] = c.run(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	for i, v := range verdicts {
		if v.granted {
			continue
		}
		span.SetStatus(codes.Error, v.reason)
		p.logger.Info("access denied",
			slog.String("user_id", userID),
			slog.String("room_id", roomID),
			slog.String("check", string(checks[i].kind)),
			slog.String("reason", v.reason),
		)
		return Decision{
			Reason:    v.reason,
			Check:     checks[i].kind,
			ChecksRun: len(checks),
			Metadata:  map[string]any{"checksRun": len(checks)},
		}
	}

	return Decision{
		Granted:   true,
		ChecksRun: len(checks),
		Metadata:  map[string]any{"checksRun": len(checks)},
	}
}
