package middleware

import (
	"crypto/subtle"
	"strings"

	"gold-accrual-engine/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// LocalCaller is set to "gateway" once a request has passed GatewayAuthMiddleware.
const LocalCaller = "caller"

// GatewayAuthMiddleware only lets through requests carrying the gateway's
// service token, either raw or as "Bearer <token>". Paths in publicPaths
// (exact match) skip the check, for liveness probes.
func GatewayAuthMiddleware(expectedToken string, publicPaths ...string) fiber.Handler {
	if expectedToken == "" {
		logger.Fatal("❌ gateway service token is not set, service cannot authenticate Gateway")
	}
	expected := []byte(expectedToken)
	public := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = true
	}

	return func(c *fiber.Ctx) error {
		if public[c.Path()] {
			return c.Next()
		}

		token := strings.TrimSpace(strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer "))
		if token == "" {
			logger.WithFields(logrus.Fields{"path": c.Path(), "ip": c.IP()}).Warn("🚫 [GATEWAY_AUTH] Missing Authorization header")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "gateway authentication token missing",
				"code":  "UNAUTHORIZED",
			})
		}
		if subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			logger.WithFields(logrus.Fields{"path": c.Path(), "ip": c.IP()}).Warn("❌ [GATEWAY_AUTH] Invalid token")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid gateway authentication token",
				"code":  "UNAUTHORIZED",
			})
		}

		c.Locals(LocalCaller, "gateway")
		return c.Next()
	}
}
