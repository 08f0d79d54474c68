package identity

import (
	"context"
	"net/http"
	"strings"
)

type TokenVerifier interface {
	Verify(ctx context.Context, insecureToken string) (*TokenContext, error)
}

// Authenticator pulls a bearer token out of a request and verifies it. With
// dev enabled a request carrying no token may name itself through the
// user_id query parameter.
type Authenticator struct {
	verifier TokenVerifier
	dev      bool
}

func NewAuthenticator(verifier TokenVerifier, dev bool) *Authenticator {
	return &Authenticator{verifier: verifier, dev: dev}
}

// BearerToken reads the Authorization header and then the token query
// parameter used by browser websocket clients.
func BearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, found := strings.CutPrefix(header, "Bearer "); found {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

func (a *Authenticator) Authenticate(r *http.Request) (*TokenContext, error) {
	insecureToken := BearerToken(r)

	if insecureToken == "" && a.dev {
		if userID := r.URL.Query().Get("user_id"); userID != "" {
			return &TokenContext{UserID: userID, Subject: userID, Dev: true}, nil
		}
	}
	if insecureToken == "" {
		return nil, ErrEmptyToken
	}
	if a.verifier == nil {
		return nil, ErrNoKeys
	}
	return a.verifier.Verify(r.Context(), insecureToken)
}
