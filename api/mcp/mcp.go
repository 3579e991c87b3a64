// Package mcp provides an MCP (Model Context Protocol) server for the memento system.
package mcp

import (
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/mementolabs/memento/pkg/memory/service"
	"github.com/mementolabs/memento/pkg/utils"
)

type Config struct {
	// Service is the memory service shared with the HTTP API
	Service *service.Service

	// DefaultUser is the user namespace applied when a tool call carries no
	// explicit user_id argument
	DefaultUser string

	// Noop for empty MCP server
	Noop bool

	// Logger is the configured zap logger
	Logger *zap.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the memory tools.
func NewServer(c Config) (*Server, error) {
	s := &Server{
		config: c,
	}

	// Create the MCP server
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "memento",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	if c.Noop {
		// return the empty MCP server with no tools configured
		// if the noop flag is set (i.e., MCP capabilities are disabled)
		s.mcpServer = mcpServer
		return s, nil
	}

	if c.Service == nil {
		return nil, errors.New("memory service is required")
	}
	if c.DefaultUser == "" {
		return nil, errors.New("default user is required")
	}
	if c.Logger == nil {
		return nil, errors.New("logger is required")
	}

	// Add tools
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        storeMemoryToolName,
		Description: storeMemoryDescription,
	}, s.handleStoreMemory)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        searchMemoriesToolName,
		Description: searchMemoriesDescription,
	}, s.handleSearchMemories)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        searchWithGraphToolName,
		Description: searchWithGraphDescription,
	}, s.handleSearchWithGraph)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        listRecentToolName,
		Description: listRecentDescription,
	}, s.handleListRecent)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        supersedeToolName,
		Description: supersedeDescription,
	}, s.handleSupersede)

	s.mcpServer = mcpServer

	// Create a streamable HTTP net/http handler for stateless operations
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// user resolves the acting user namespace for a tool call.
func (s *Server) user(userID string) string {
	if userID != "" {
		return userID
	}
	return s.config.DefaultUser
}

// toolError wraps an error message as an MCP tool failure result.
func toolError(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}
