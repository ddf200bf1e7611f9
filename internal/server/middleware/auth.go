package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/threadline-ai/threadline/backend/pkg/access"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// RoleService marks tokens issued to internal services. Service calls skip
// permission filtering entirely.
const RoleService = "service"

// AuthMiddleware validates the bearer token and attaches the principal to
// the request context. Tokens are HMAC-signed with the shared secret and
// carry the principal in "sub" and the workspace in "org".
func AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		cc := c.(*AppContext)

		authHeader := c.Request().Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return cc.App.JWTSecret, nil
		})
		if err != nil || !parsed.Valid {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}

		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}

		sub, _ := claims["sub"].(string)
		org, _ := claims["org"].(string)
		if org == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Token missing workspace"})
		}

		role, _ := claims["role"].(string)
		if role == RoleService {
			// Internal caller: authorized for the workspace, unfiltered reads.
			cc.Principal = nil
			cc.Set("org_id", org)
			return next(c)
		}

		if sub == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Token missing subject"})
		}
		cc.Principal = &access.Principal{ID: sub, OrgID: org}
		cc.Set("org_id", org)
		return next(c)
	}
}

// RequireWorkspace ensures the :wid path parameter matches the token's
// workspace.
func RequireWorkspace(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		wid := c.Param("wid")
		org, _ := c.Get("org_id").(string)
		if wid == "" || wid != org {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden"})
		}
		return next(c)
	}
}
