package identity

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

type errResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type MiddlewareFactory func(echo.HandlerFunc) echo.HandlerFunc

const _TOKEN_CONTEXT_KEY = "TOKEN_CONTEXT"

// WithTokenContext returns the identity stored by IdentityWallFactoryMiddleware.
func WithTokenContext(c echo.Context) *TokenContext {
	token, _ := c.Get(_TOKEN_CONTEXT_KEY).(*TokenContext)
	return token
}

func IdentityWallFactoryMiddleware(authenticator *Authenticator) MiddlewareFactory {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, err := authenticator.Authenticate(c.Request())
			if err != nil {
				return c.JSON(http.StatusUnauthorized, &errResponse{
					Code:    "unauthenticated",
					Message: fmt.Sprintf("Identity resolving failed. Err: %s", err),
				})
			}

			c.Set(_TOKEN_CONTEXT_KEY, token)
			return next(c)
		}
	}
}
