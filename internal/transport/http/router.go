package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/smite/panel/internal/config"
	"github.com/smite/panel/internal/core/ports"
	"github.com/smite/panel/internal/core/services"
	"github.com/smite/panel/internal/core/services/panelcore"
	"github.com/smite/panel/internal/infrastructure/db"
	"github.com/smite/panel/internal/infrastructure/logger"
	"github.com/smite/panel/internal/transport/http/handlers"
	httpmw "github.com/smite/panel/internal/transport/http/middleware"
	"gorm.io/gorm"
)

type RouterConfig struct {
	DB     *gorm.DB
	Logger *logger.Logger
	Config *config.Config
}

// Deps bundles the service-layer singletons SetupRoutes builds, so
// cmd/server can reach the orchestrator and scheduler directly for
// ReconcileOnBoot and the background reset-poll loop.
type Deps struct {
	TunnelService ports.TunnelService
	ResetScheduler ports.ResetSchedulerService
	InstallerService ports.InstallerService
	NodeClient     *services.NodeClient
}

func SetupRoutes(app *fiber.App, cfg RouterConfig) Deps {
	nodeRepo := db.NewNodeRepository(cfg.DB, cfg.Logger)
	timelineRepo := db.NewTimelineRepository(cfg.DB, cfg.Logger)
	tunnelRepo := db.NewTunnelRepository(cfg.DB, cfg.Logger)
	poolRepo := db.NewOverlayPoolRepository(cfg.DB, cfg.Logger)
	asgnRepo := db.NewOverlayAssignmentRepository(cfg.DB, cfg.Logger)
	meshRepo := db.NewMeshRepository(cfg.DB, cfg.Logger)
	resetCfgRepo := db.NewCoreResetConfigRepository(cfg.DB, cfg.Logger)

	nodeClient := services.NewNodeClient(cfg.Logger, cfg.Config.Auth.AgentToken)
	factory := services.NewCoreConfigFactory()
	panelCore := panelcore.NewManager("/etc/smite-panel/cores", cfg.Logger)

	ipamService := services.NewIPAMService(services.IPAMServiceConfig{
		PoolRepo: poolRepo,
		AsgnRepo: asgnRepo,
		NodeRepo: nodeRepo,
		Logger:   cfg.Logger,
	})

	nodeService := services.NewNodeService(services.NodeServiceConfig{
		Repository: nodeRepo,
		NodeClient: nodeClient,
		Logger:     cfg.Logger,
	})

	tunnelService := services.NewTunnelOrchestrator(services.TunnelOrchestratorConfig{
		TunnelRepo:   tunnelRepo,
		NodeRepo:     nodeRepo,
		Factory:      factory,
		NodeClient:   nodeClient,
		Timeline:     timelineRepo,
		PanelCore:    panelCore,
		PanelAPIPort: cfg.Config.Server.Port,
		Logger:       cfg.Logger,
	})

	meshService := services.NewMeshComposer(services.MeshComposerConfig{
		MeshRepo:   meshRepo,
		NodeRepo:   nodeRepo,
		IPAM:       ipamService,
		NodeClient: nodeClient,
		Logger:     cfg.Logger,
	})

	resetScheduler := services.NewResetScheduler(services.ResetSchedulerConfig{
		ConfigRepo:   resetCfgRepo,
		TunnelRepo:   tunnelRepo,
		Orchestrator: tunnelService,
		Logger:       cfg.Logger,
	})

	installerService := services.NewInstallerService(services.InstallerServiceConfig{
		TimelineRepo: timelineRepo,
		NodeRepo:     nodeRepo,
		Logger:       cfg.Logger,
		PublicURL:    cfg.Config.Security.PublicURL,
		AgentToken:   cfg.Config.Auth.AgentToken,
	})

	nodeHandler := handlers.NewNodeHandler(nodeService, cfg.Logger)
	tunnelHandler := handlers.NewTunnelHandler(tunnelService, cfg.Logger)
	meshHandler := handlers.NewMeshHandler(meshService, cfg.Logger)
	overlayHandler := handlers.NewOverlayHandler(ipamService, cfg.Logger)
	coreHealthHandler := handlers.NewCoreHealthHandler(resetScheduler, cfg.Logger)
	timelineHandler := handlers.NewTimelineHandler(timelineRepo)

	api := app.Group("/api")

	nodes := api.Group("/nodes", httpmw.NodeAuth(cfg.Config))
	nodes.Post("/", nodeHandler.RegisterNode)
	nodes.Get("/", nodeHandler.GetNodes)
	nodes.Get("/:id", nodeHandler.GetNode)
	nodes.Delete("/:id", nodeHandler.DeleteNode)

	tunnels := api.Group("/tunnels", httpmw.AdminAuth(cfg.Config))
	tunnels.Post("/", tunnelHandler.CreateTunnel)
	tunnels.Get("/", tunnelHandler.GetTunnels)
	tunnels.Get("/:id", tunnelHandler.GetTunnel)
	tunnels.Put("/:id", tunnelHandler.UpdateTunnel)
	tunnels.Delete("/:id", tunnelHandler.DeleteTunnel)
	tunnels.Post("/:id/apply", tunnelHandler.ApplyTunnel)

	mesh := api.Group("/mesh", httpmw.AdminAuth(cfg.Config))
	mesh.Post("/create", meshHandler.CreateMesh)
	mesh.Get("/", meshHandler.GetMeshes)
	mesh.Get("/:id", meshHandler.GetMesh)
	mesh.Get("/:id/status", meshHandler.GetMeshStatus)
	mesh.Post("/:id/apply", meshHandler.ApplyMesh)
	mesh.Delete("/:id", meshHandler.DeleteMesh)

	overlay := api.Group("/overlay", httpmw.AdminAuth(cfg.Config))
	overlay.Post("/pool", overlayHandler.SetPool)
	overlay.Get("/pool", overlayHandler.GetPool)
	overlay.Delete("/pool", overlayHandler.DeletePool)
	overlay.Post("/assign/:node", overlayHandler.AssignNode)
	overlay.Put("/assign/:node", overlayHandler.OverrideNode)

	coreHealth := api.Group("/core-health", httpmw.AdminAuth(cfg.Config))
	coreHealth.Get("/reset-config", coreHealthHandler.GetConfigs)
	coreHealth.Put("/reset-config/:core", coreHealthHandler.SetResetConfig)
	coreHealth.Post("/reset-config/:core/trigger", coreHealthHandler.TriggerReset)

	timeline := api.Group("/timeline", httpmw.AdminAuth(cfg.Config))
	timeline.Get("/", timelineHandler.GetEvents)

	return Deps{
		TunnelService:    tunnelService,
		ResetScheduler:   resetScheduler,
		InstallerService: installerService,
		NodeClient:       nodeClient,
	}
}
