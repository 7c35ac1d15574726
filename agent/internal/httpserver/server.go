// Package httpserver exposes the Node Agent's REST surface (C6): tunnel and
// mesh apply/remove/status, delegating straight to the adapter manager (C4)
// and the WireGuard adapter (C5). Grounded on the node agent's
// routers/agent.py, adapted from FastAPI's thin-handler style to Fiber.
package httpserver

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/smite/agent/internal/adapter"
	"github.com/smite/agent/internal/wgadapter"
)

const (
	applyTimeout  = 30 * time.Second
	statusTimeout = 10 * time.Second
)

type Server struct {
	app *fiber.App
}

type Config struct {
	Manager   *adapter.Manager
	WG        *wgadapter.Adapter
	NodeToken string
	Logger    *zap.Logger
}

type tunnelApplyRequest struct {
	TunnelID string       `json:"tunnel_id"`
	Core     string       `json:"core"`
	Spec     adapter.Spec `json:"spec"`
}

type tunnelRemoveRequest struct {
	TunnelID string `json:"tunnel_id"`
}

type meshApplyRequest struct {
	MeshID string   `json:"mesh_id"`
	Config string   `json:"config"`
	Routes []string `json:"routes"`
}

type meshRemoveRequest struct {
	MeshID string `json:"mesh_id"`
}

func New(cfg Config) *Server {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(cors.New())

	if cfg.NodeToken != "" {
		app.Use(tokenAuth(cfg.NodeToken))
	}

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": "smite-agent"})
	})

	api := app.Group("/api/agent")
	api.Post("/tunnels/apply", applyTunnelHandler(cfg))
	api.Post("/tunnels/remove", removeTunnelHandler(cfg))
	api.Get("/tunnels/status", tunnelStatusHandler(cfg))
	api.Get("/status", nodeStatusHandler(cfg))
	api.Post("/mesh/apply", meshApplyHandler(cfg))
	api.Post("/mesh/remove", meshRemoveHandler(cfg))
	api.Get("/mesh/:id/status", meshStatusHandler(cfg))

	return &Server{app: app}
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// withTimeout runs fn on its own goroutine and returns the context's
// deadline error (context.DeadlineExceeded) if it hasn't finished by d. fn keeps running after the deadline since the
// underlying adapter calls aren't cancellable, but the handler stops
// waiting on it so a stuck core process can't hang the HTTP response.
func withTimeout(d time.Duration, fn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func tokenAuth(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("X-Node-Token")
		if header == "" {
			auth := c.Get("Authorization")
			const prefix = "Bearer "
			if strings.HasPrefix(auth, prefix) {
				header = strings.TrimPrefix(auth, prefix)
			}
		}
		if header != token {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		return c.Next()
	}
}

func applyTunnelHandler(cfg Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req tunnelApplyRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}

		cfg.Logger.Info("applying tunnel", zap.String("tunnel_id", req.TunnelID), zap.String("core", req.Core))
		err := withTimeout(applyTimeout, func() error {
			return cfg.Manager.ApplyTunnel(req.TunnelID, req.Core, req.Spec)
		})
		if err != nil {
			cfg.Logger.Error("failed to apply tunnel", zap.String("tunnel_id", req.TunnelID), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "success", "message": "tunnel applied"})
	}
}

func removeTunnelHandler(cfg Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req tunnelRemoveRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		err := withTimeout(applyTimeout, func() error {
			return cfg.Manager.RemoveTunnel(req.TunnelID)
		})
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "success", "message": "tunnel removed"})
	}
}

func tunnelStatusHandler(cfg Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tunnelID := c.Query("tunnel_id")

		type result struct {
			st adapter.Status
			ok bool
		}
		resultCh := make(chan result, 1)
		err := withTimeout(statusTimeout, func() error {
			st, ok := cfg.Manager.Status(tunnelID)
			resultCh <- result{st, ok}
			return nil
		})
		if err != nil {
			return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{"error": err.Error()})
		}

		res := <-resultCh
		if !res.ok {
			return c.JSON(fiber.Map{"status": "success", "data": fiber.Map{"active": false}})
		}
		return c.JSON(fiber.Map{"status": "success", "data": res.st})
	}
}

func nodeStatusHandler(cfg Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ids := cfg.Manager.ActiveTunnelIDs()
		return c.JSON(fiber.Map{
			"status":         "ok",
			"active_tunnels": len(ids),
			"tunnels":        ids,
		})
	}
}

func meshApplyHandler(cfg Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req meshApplyRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		err := withTimeout(applyTimeout, func() error {
			return cfg.WG.Apply(req.MeshID, req.Config, req.Routes)
		})
		if err != nil {
			cfg.Logger.Error("failed to apply mesh", zap.String("mesh_id", req.MeshID), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "success", "message": "mesh applied"})
	}
}

func meshRemoveHandler(cfg Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req meshRemoveRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		err := withTimeout(applyTimeout, func() error {
			return cfg.WG.Remove(req.MeshID)
		})
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "success", "message": "mesh removed"})
	}
}

func meshStatusHandler(cfg Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		resultCh := make(chan wgadapter.Status, 1)
		err := withTimeout(statusTimeout, func() error {
			resultCh <- cfg.WG.Status(c.Params("id"))
			return nil
		})
		if err != nil {
			return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "success", "data": <-resultCh})
	}
}
