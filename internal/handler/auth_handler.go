package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/bestfriendai/SupaSecret-sub010/internal/auth"
)

// AuthHandler answers the gateway's ForwardAuth subrequests. The confession
// API itself never sees an unauthenticated request when deployed behind the
// gateway; this endpoint is where that guarantee is enforced.
type AuthHandler struct {
	verifier  auth.TokenVerifier
	jwtSecret string
}

// NewAuthHandler builds the verify endpoint. Either verification path may be
// absent: verifier is nil without a configured OIDC issuer, jwtSecret is
// empty once legacy tokens are retired.
func NewAuthHandler(verifier auth.TokenVerifier, jwtSecret string) *AuthHandler {
	return &AuthHandler{
		verifier:  verifier,
		jwtSecret: jwtSecret,
	}
}

// Verify handles GET /auth/verify. A valid token yields 200 plus X-User-*
// headers for the gateway to forward; anything else is a plain 401 with no
// body, as Traefik discards it anyway.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	token := bearerToken(c.Get("Authorization"))
	if token == "" {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	// JWKS first; legacy HMAC covers sessions issued before the OIDC cutover.
	if h.verifier != nil {
		claims, err := h.verifier.Validate(token)
		if err == nil {
			c.Set("X-User-Id", claims.UserID)
			c.Set("X-User-Email", claims.Email)
			c.Set("X-User-Name", claims.PreferredUsername)
			return c.SendStatus(fiber.StatusOK)
		}
		if h.jwtSecret == "" {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
	}

	if h.jwtSecret != "" {
		claims, err := auth.ValidateLegacyToken(token, h.jwtSecret)
		if err == nil {
			c.Set("X-User-Id", claims.UserID)
			c.Set("X-User-Email", claims.Email)
			return c.SendStatus(fiber.StatusOK)
		}
	}

	return c.SendStatus(fiber.StatusUnauthorized)
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}
