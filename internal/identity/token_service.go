package identity

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const DefaultTokenTTL = time.Hour

// TokenService issues HS256 tokens that a Verifier built from the same
// secret accepts. It backs the token CLI command and tests.
type TokenService struct {
	key      jwk.Key
	issuer   string
	audience string
	now      func() time.Time
}

func (s *TokenService) Issue(userID string, roles []string, ttl time.Duration) (string, error) {
	if s.key == nil {
		return "", ErrSigningDisabled
	}
	if userID == "" {
		return "", ErrMissingSubject
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := s.now()
	b := jwt.NewBuilder().
		Subject(userID).
		IssuedAt(now).
		Expiration(now.Add(ttl))
	if s.issuer != "" {
		b = b.Issuer(s.issuer)
	}
	if s.audience != "" {
		b = b.Audience([]string{s.audience})
	}

	token, err := b.Build()
	if err != nil {
		return "", err
	}

	if err = token.Set(userIDClaim, userID); err != nil {
		return "", fmt.Errorf("unable set `%s` claim. Error: %w", userIDClaim, err)
	}
	if len(roles) > 0 {
		if err = token.Set(rolesClaim, roles); err != nil {
			return "", fmt.Errorf("unable set `%s` claim. Error: %w", rolesClaim, err)
		}
	}

	headers := jws.NewHeaders()
	if err = headers.Set(jws.KeyIDKey, hmacKeyID); err != nil {
		return "", fmt.Errorf("unable set header `kid`. Error: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, s.key, jws.WithProtectedHeaders(headers)))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

// NewTokenService returns a service that refuses to sign when secret is
// empty.
func NewTokenService(secret []byte, issuer, audience string) (*TokenService, error) {
	s := &TokenService{issuer: issuer, audience: audience, now: time.Now}
	if len(secret) == 0 {
		return s, nil
	}
	key, err := hmacKey(secret)
	if err != nil {
		return nil, err
	}
	s.key = key
	return s, nil
}
