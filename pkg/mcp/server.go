package mcp

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/urmzd/plugd/pkg/device"
)

// Version is reported to MCP clients.
const Version = "1.0.0"

// Server wraps the MCP server with plugd's device control tools
type Server struct {
	mcpServer  *server.MCPServer
	controller device.Controller
}

// NewServer creates a new MCP server for device control
func NewServer(controller device.Controller) *Server {
	s := &Server{
		controller: controller,
	}

	s.mcpServer = server.NewMCPServer(
		"plugd",
		Version,
		server.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// ServeStdio starts the MCP server using stdio transport
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
