package service

import (
	"log/slog"

	"github.com/romashorodok/room-coordinator/internal/identity"
	"github.com/romashorodok/room-coordinator/pkg/variables"
	"go.uber.org/fx"
)

// Verifier builds the token verifier from config. A JWKS file wins over the
// shared secret; with neither only dev authentication can succeed.
func Verifier(cfg variables.Config) (identity.TokenVerifier, error) {
	var opts []identity.VerifierOption
	if cfg.IdentityIssuer != "" {
		opts = append(opts, identity.WithIssuer(cfg.IdentityIssuer))
	}
	if cfg.IdentityAudience != "" {
		opts = append(opts, identity.WithAudience(cfg.IdentityAudience))
	}

	switch {
	case cfg.IdentityJWKSPath != "":
		return identity.NewJWKSVerifier(cfg.IdentityJWKSPath, opts...)
	case cfg.IdentityHMACSecret != "":
		return identity.NewHMACVerifier([]byte(cfg.IdentityHMACSecret), opts...)
	default:
		return nil, nil
	}
}

func authenticator(cfg variables.Config, logger *slog.Logger) (*identity.Authenticator, error) {
	verifier, err := Verifier(cfg)
	if err != nil {
		return nil, err
	}
	if verifier == nil {
		logger.Warn("no identity keys configured", slog.Bool("dev_auth", cfg.DevAuth))
	}
	return identity.NewAuthenticator(verifier, cfg.DevAuth), nil
}

// TokenService issues tokens signed with IDENTITY_HMAC_SECRET.
func TokenService(cfg variables.Config) (*identity.TokenService, error) {
	return identity.NewTokenService([]byte(cfg.IdentityHMACSecret), cfg.IdentityIssuer, cfg.IdentityAudience)
}

var IdentityModule = fx.Module("identity", fx.Provide(
	authenticator,
	TokenService,
))
