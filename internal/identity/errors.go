package identity

import (
	"errors"
	"fmt"

	"github.com/romashorodok/room-coordinator/pkg/roomerr"
)

var (
	ErrEmptyToken      = fmt.Errorf("empty token: %w", roomerr.ErrUnauthenticated)
	ErrMissingSubject  = fmt.Errorf("token without subject: %w", roomerr.ErrUnauthenticated)
	ErrSigningDisabled = errors.New("token signing requires a shared secret")
	ErrNoKeys          = errors.New("no verification keys configured")
)
