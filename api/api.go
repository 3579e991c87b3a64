package api

import (
	"net/http"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mementolabs/memento/pkg/memory/service"
)

// Server is the HTTP API server for the memento system. The MCP surface is
// mounted under /mcp on the same listener so one process serves both.
type Server struct {
	config Config
	svc    *service.Service
	logger *zap.Logger
	app    *fiber.App
}

// NewServer creates a new API server. The memory service is injected so it
// can be shared with the MCP surface and the lifecycle manager.
func NewServer(config Config, svc *service.Service, mcpHandler http.Handler, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		svc:    svc,
		logger: logger,
		app:    app,
	}

	app.Get("/ping", s.handlePing)
	app.Get("/stats", s.handleStats)
	app.Post("/memories", s.handleStoreMemory)
	app.Get("/memories/search", s.handleSearch)
	app.Get("/memories/graph-search", s.handleGraphSearch)
	app.Get("/memories/recent", s.handleRecent)
	app.Get("/memories/:id", s.handleGetMemory)
	app.Post("/memories/supersede", s.handleSupersede)

	if mcpHandler != nil {
		app.All("/mcp", adaptor.HTTPHandler(mcpHandler))
		app.All("/mcp/*", adaptor.HTTPHandler(mcpHandler))
	}

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
