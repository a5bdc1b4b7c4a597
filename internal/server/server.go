package server

import (
	"docchat-client/internal/bootstrap"
	"docchat-client/internal/config"
	"docchat-client/internal/pkg/logger"
	"docchat-client/internal/pkg/serverutils"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

type Server struct {
	app       *fiber.App
	cfg       *config.Config
	container *bootstrap.ServerContainer
	logger    logger.ILogger
}

func New(cfg *config.Config, container *bootstrap.ServerContainer, log logger.ILogger) *Server {
	// Initialize Fiber App
	app := fiber.New(fiber.Config{
		BodyLimit:             1 * 1024 * 1024, // 1MB
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.Server.CorsAllowedOrigins,
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization",
		AllowMethods:  "GET, POST, OPTIONS",
		ExposeHeaders: "Content-Length, Content-Type",
	}))

	// OpenTelemetry tracing middleware (traces all HTTP requests)
	app.Use(otelfiber.Middleware())

	app.Use(serverutils.ErrorHandlerMiddleware())

	// Routes
	registerRoutes(app, container)

	return &Server{
		app:       app,
		cfg:       cfg,
		container: container,
		logger:    log,
	}
}

func (s *Server) GetApp() *fiber.App {
	return s.app
}

func (s *Server) Run() error {
	s.logger.Info("Server", "Server is running", map[string]interface{}{"addr": "http://localhost:" + s.cfg.Server.Port})
	return s.app.Listen(":" + s.cfg.Server.Port)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func registerRoutes(app *fiber.App, c *bootstrap.ServerContainer) {
	api := app.Group("/api")

	c.CredentialController.RegisterRoutes(api)
	c.ChatController.RegisterRoutes(api)
}
