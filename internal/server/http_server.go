package server

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/handlers"
)

type HTTPServer struct {
	app            *fiber.App
	robotHandler   *handlers.RobotHandler
	requestHandler *handlers.RequestHandler
	port           int
}

type HTTPServerConfig struct {
	RobotHandler   *handlers.RobotHandler
	RequestHandler *handlers.RequestHandler
	Port           int
}

func NewHTTPServer(config HTTPServerConfig) *HTTPServer {
	app := fiber.New(fiber.Config{
		AppName: "Laundry Robot Control API",
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	return &HTTPServer{
		app:            app,
		robotHandler:   config.RobotHandler,
		requestHandler: config.RequestHandler,
		port:           config.Port,
	}
}

func (s *HTTPServer) RegisterRoutes() {
	api := s.app.Group("/api")

	// Robot ingestion and fleet controls
	robots := api.Group("/robots")
	robots.Post("/register", s.robotHandler.Register)
	robots.Post("/heartbeat", s.robotHandler.Heartbeat)
	robots.Post("/telemetry", s.robotHandler.Telemetry)
	robots.Get("/", s.robotHandler.List)
	robots.Post("/:name/toggle-active", s.robotHandler.ToggleActive)
	robots.Post("/:name/toggle-accept-requests", s.robotHandler.ToggleAcceptRequests)
	robots.Post("/:name/line-following", s.robotHandler.SetLineFollowing)
	robots.Post("/:name/turn-around", s.robotHandler.TurnAround)
	robots.Delete("/:name", s.robotHandler.Disconnect)

	// Request lifecycle
	requests := api.Group("/requests")
	requests.Post("/", s.requestHandler.Create)
	requests.Get("/active/:customerID", s.requestHandler.GetActive)
	requests.Post("/:id/confirm-loaded", s.requestHandler.ConfirmLoaded)
	requests.Post("/:id/confirm-unloaded", s.requestHandler.ConfirmUnloaded)
	requests.Post("/:id/delivery-option", s.requestHandler.SelectDeliveryOption)
	requests.Post("/:id/decline", s.requestHandler.Decline)
	requests.Post("/:id/status", s.requestHandler.AdvanceStatus)

	// Health check
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})
}

func (s *HTTPServer) Start() error {
	s.RegisterRoutes()

	addr := fmt.Sprintf(":%d", s.port)
	log.Printf("Starting HTTP server on %s", addr)

	return s.app.Listen(addr)
}

func (s *HTTPServer) Shutdown() error {
	log.Println("Shutting down HTTP server...")
	return s.app.Shutdown()
}
