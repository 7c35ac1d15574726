package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/smite/panel/internal/config"
)

func AdminAuth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := cfg.Auth.AdminAPIKey
		if apiKey == "" {
			return c.Next()
		}

		headerToken := c.Get("X-Admin-Token")
		if headerToken == "" {
			auth := c.Get("Authorization")
			const prefix = "Bearer "
			if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
				headerToken = auth[len(prefix):]
			}
		}

		if headerToken != apiKey {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		return c.Next()
	}
}

func AgentAuth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := cfg.Auth.AgentToken
		if token == "" {
			return c.Next()
		}

		headerToken := c.Get("X-Agent-Token")
		if headerToken == "" {
			auth := c.Get("Authorization")
			const prefix = "Bearer "
			if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
				headerToken = auth[len(prefix):]
			}
		}

		if headerToken != token {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		return c.Next()
	}
}

// NodeAuth accepts either the admin token or the agent token, since
// POST /api/nodes is called both by an operator and by a Node Agent
// self-announcing on boot.
func NodeAuth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		bearer := func() string {
			auth := c.Get("Authorization")
			const prefix = "Bearer "
			if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
				return auth[len(prefix):]
			}
			return ""
		}()

		if cfg.Auth.AdminAPIKey != "" {
			if token := c.Get("X-Admin-Token"); token == cfg.Auth.AdminAPIKey || (token == "" && bearer == cfg.Auth.AdminAPIKey) {
				return c.Next()
			}
		}
		if cfg.Auth.AgentToken != "" {
			if token := c.Get("X-Agent-Token"); token == cfg.Auth.AgentToken || (token == "" && bearer == cfg.Auth.AgentToken) {
				return c.Next()
			}
		}
		if cfg.Auth.AdminAPIKey == "" && cfg.Auth.AgentToken == "" {
			return c.Next()
		}
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
}
