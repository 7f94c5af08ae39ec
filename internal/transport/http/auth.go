package http

import (
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const claimsContextKey = "auth.claims"

// Claims are the bearer token claims. Subject identifies the requester.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

var (
	errUnauthorized = echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid bearer token")
	errForbidden    = echo.NewHTTPError(http.StatusForbidden, "forbidden")
)

// Authenticate requires an HS256 bearer token signed with secret. When issuer
// is set, the iss claim must match it.
func Authenticate(secret []byte, issuer string) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(opts...)
	keyFunc := func(*jwt.Token) (interface{}, error) { return secret, nil }

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := strings.CutPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
			if !ok || raw == "" {
				return errUnauthorized
			}

			claims := &Claims{}
			if _, err := parser.ParseWithClaims(raw, claims, keyFunc); err != nil {
				return errUnauthorized
			}
			if claims.Subject == "" {
				return errUnauthorized
			}

			c.Set(claimsContextKey, claims)
			return next(c)
		}
	}
}

// RequireRole must run after Authenticate.
func RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := claimsFrom(c)
			if claims == nil {
				return errUnauthorized
			}
			if !claims.HasRole(role) {
				return errForbidden
			}
			return next(c)
		}
	}
}

func claimsFrom(c echo.Context) *Claims {
	claims, _ := c.Get(claimsContextKey).(*Claims)
	return claims
}

func requesterID(c echo.Context) string {
	if claims := claimsFrom(c); claims != nil {
		return claims.Subject
	}
	return ""
}
