package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/romashorodok/room-coordinator/pkg/roomerr"
)

const (
	userIDClaim = "user:id"
	rolesClaim  = "roles"

	hmacKeyID = "room-coordinator"
)

// Verifier checks bearer tokens against a key set. Tokens signed with a key
// carrying a kid must match that kid.
type Verifier struct {
	keys     jwk.Set
	issuer   string
	audience string
	skew     time.Duration
	clock    func() time.Time
}

type VerifierOption func(*Verifier)

func WithIssuer(issuer string) VerifierOption {
	return func(v *Verifier) { v.issuer = issuer }
}

func WithAudience(audience string) VerifierOption {
	return func(v *Verifier) { v.audience = audience }
}

func WithClock(clock func() time.Time) VerifierOption {
	return func(v *Verifier) { v.clock = clock }
}

func hmacKey(secret []byte) (jwk.Key, error) {
	key, err := jwk.FromRaw(secret)
	if err != nil {
		return nil, fmt.Errorf("unable cast secret to jwk key. Error: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, hmacKeyID); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.HS256); err != nil {
		return nil, err
	}
	return key, nil
}

func newVerifier(keys jwk.Set, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		keys:  keys,
		skew:  5 * time.Second,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// NewHMACVerifier verifies HS256 tokens signed with secret.
func NewHMACVerifier(secret []byte, opts ...VerifierOption) (*Verifier, error) {
	key, err := hmacKey(secret)
	if err != nil {
		return nil, err
	}
	keys := jwk.NewSet()
	if err := keys.AddKey(key); err != nil {
		return nil, err
	}
	return newVerifier(keys, opts...), nil
}

// NewJWKSVerifier verifies tokens with the public keys stored at path.
func NewJWKSVerifier(path string, opts ...VerifierOption) (*Verifier, error) {
	keys, err := jwk.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jwks %s: %w", path, err)
	}
	if keys.Len() == 0 {
		return nil, ErrNoKeys
	}
	return newVerifier(keys, opts...), nil
}

func (v *Verifier) Verify(_ context.Context, insecureToken string) (*TokenContext, error) {
	if insecureToken == "" {
		return nil, ErrEmptyToken
	}

	options := []jwt.ParseOption{
		jwt.WithKeySet(v.keys, jws.WithRequireKid(false), jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(v.skew),
		jwt.WithClock(jwt.ClockFunc(v.clock)),
	}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		options = append(options, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse([]byte(insecureToken), options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", roomerr.ErrUnauthenticated, err)
	}
	return tokenContext(token)
}

func tokenContext(token jwt.Token) (*TokenContext, error) {
	result := &TokenContext{
		Subject:   token.Subject(),
		Issuer:    token.Issuer(),
		Audience:  token.Audience(),
		ExpiresAt: token.Expiration(),
	}

	if raw, exist := token.Get(userIDClaim); exist {
		if userID, ok := raw.(string); ok {
			result.UserID = userID
		}
	}
	if result.UserID == "" {
		result.UserID = result.Subject
	}
	if result.UserID == "" {
		return nil, ErrMissingSubject
	}

	if raw, exist := token.Get(rolesClaim); exist {
		switch roles := raw.(type) {
		case []string:
			result.Roles = roles
		case []any:
			for _, role := range roles {
				if s, ok := role.(string); ok {
					result.Roles = append(result.Roles, s)
				}
			}
		case string:
			result.Roles = []string{roles}
		}
	}
	return result, nil
}
