package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"syncbridge/internal/engine"
	"syncbridge/internal/metadata"
	"syncbridge/internal/store"
)

// APIKeyHeader carries a machine credential. A bearer token starting with
// "sb_" is accepted as well.
const APIKeyHeader = "X-API-Key"

// AuthMiddleware returns a Fiber middleware that validates JWT tokens
// and sets the UserContext on the request.
func AuthMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := bearerToken(c)
		if err != nil {
			return err
		}

		claims, err := ParseAccessToken(token, secret)
		if err != nil {
			return engine.UnauthorizedError("Invalid or expired token")
		}

		c.Locals("user", &metadata.UserContext{
			ID:    claims.Subject,
			Roles: claims.Roles,
		})

		return c.Next()
	}
}

// APIKeyOrJWT accepts either an API key (sync callers) or an operator JWT.
// API-key callers get the sync role and the key name as their ID.
func APIKeyOrJWT(s *store.Store, secret string) fiber.Handler {
	jwtAuth := AuthMiddleware(secret)
	return func(c *fiber.Ctx) error {
		raw := c.Get(APIKeyHeader)
		if raw == "" {
			if token, err := bearerToken(c); err == nil && LooksLikeAPIKey(token) {
				raw = token
			}
		}
		if raw == "" {
			return jwtAuth(c)
		}

		key, err := ValidateAPIKey(c.UserContext(), s, raw, time.Now().UTC())
		switch {
		case err == nil:
		case errors.Is(err, ErrAPIKeyExpired):
			return engine.UnauthorizedError("API key expired")
		case errors.Is(err, ErrAPIKeyInactive):
			return engine.UnauthorizedError("API key revoked")
		case errors.Is(err, ErrInvalidAPIKey):
			return engine.UnauthorizedError("Invalid API key")
		default:
			return err
		}

		c.Locals("user", &metadata.UserContext{
			ID:    key.Name,
			Roles: []string{metadata.RoleSync},
		})
		return c.Next()
	}
}

// RequireAdmin is a Fiber middleware that checks the authenticated user has the admin role.
func RequireAdmin() fiber.Handler {
	return RequireRole(metadata.RoleAdmin)
}

// RequireRole lets the request through when the user has any of the roles.
// Admins always pass.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := GetUser(c)
		if user == nil {
			return engine.UnauthorizedError("Missing auth token")
		}
		if user.IsAdmin() {
			return c.Next()
		}
		for _, r := range roles {
			if user.HasRole(r) {
				return c.Next()
			}
		}
		if len(roles) == 1 && roles[0] == metadata.RoleAdmin {
			return engine.ForbiddenError("Admin access required")
		}
		return engine.ForbiddenError("Insufficient role")
	}
}

// GetUser extracts the UserContext from a Fiber context.
func GetUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals("user").(*metadata.UserContext)
	return user
}

func bearerToken(c *fiber.Ctx) (string, error) {
	header := c.Get("Authorization")
	if header == "" {
		return "", engine.UnauthorizedError("Missing auth token")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", engine.UnauthorizedError("Invalid auth header format")
	}
	return parts[1], nil
}
