package access

import (
	"context"
	"errors"
	"strings"

	"github.com/romashorodok/room-coordinator/pkg/roomerr"
)

func (p *Pipeline) checkEnrollment(ctx context.Context, req Request) verdict {
	if p.enrollment == nil {
		return deny("enrollment service is not configured")
	}
	resource := req.Config.Access.ResourceID
	if resource == "" {
		resource = req.RoomID
	}
	enrolled, err := p.enrollment.IsEnrolled(ctx, req.UserID, resource)
	if err != nil {
		return deny("enrollment could not be verified: %s", err)
	}
	if !enrolled {
		return deny("you are not enrolled in %s", resource)
	}
	return grant()
}

func (p *Pipeline) checkPayment(ctx context.Context, req Request) verdict {
	if p.credits == nil {
		return deny("payment service is not configured")
	}
	ok, err := p.credits.HasSufficientCredits(ctx, req.UserID, req.Config.Access.Price)
	if err != nil {
		return deny("payment could not be verified: %s", err)
	}
	if !ok {
		return deny("insufficient credits, %d required", req.Config.Access.Price)
	}
	return grant()
}

// Open bounds are unrestricted. EarlyJoin moves the opening earlier.
func checkTimeWindow(_ context.Context, req Request) verdict {
	access := req.Config.Access
	if access.StartsAt != nil {
		opens := access.StartsAt.Add(-access.EarlyJoin)
		if req.Now.Before(opens) {
			return deny("room opens at %s", opens.UTC().Format("2006-01-02T15:04:05Z"))
		}
	}
	if access.EndsAt != nil && !req.Now.Before(*access.EndsAt) {
		return deny("room closed at %s", access.EndsAt.UTC().Format("2006-01-02T15:04:05Z"))
	}
	return grant()
}

// Users already in the room always pass so that a reconnect is not refused
// by their own seat.
func (p *Pipeline) checkCapacity(ctx context.Context, req Request) verdict {
	max := req.Config.MaxParticipants
	if max <= 0 {
		return grant()
	}
	if p.occupancy == nil {
		return deny("occupancy is unknown")
	}
	count, present, err := p.occupancy.Occupancy(ctx, req.RoomID, req.UserID)
	switch {
	case errors.Is(err, roomerr.ErrNotFound):
		return grant()
	case err != nil:
		return deny("occupancy could not be read: %s", err)
	}
	if present || count < max {
		return grant()
	}
	return deny("room is full (%d/%d)", count, max)
}

func (p *Pipeline) checkRole(ctx context.Context, req Request) verdict {
	if p.roles == nil {
		return deny("role service is not configured")
	}
	roles := req.Config.Access.AllowedRoles
	ok, err := p.roles.HasRole(ctx, req.UserID, roles)
	if err != nil {
		return deny("role could not be verified: %s", err)
	}
	if !ok {
		return deny("one of roles %s is required", strings.Join(roles, ", "))
	}
	return grant()
}
