// Package mcp exposes a read-only MCP introspection surface (A6) over
// the escalation state machine: get_status and get_rules. Neither tool
// mutates sentinel state or triggers a scan. get_status reads an
// atomically published snapshot the escalation machine updates after
// every tick; get_rules returns the rule set the server was built with.
package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/baikal/sentinel/internal/analyzer"
	"github.com/baikal/sentinel/internal/escalation"
)

// Server wraps the MCP server instance.
type Server struct {
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server bound to a running escalation
// Machine and the RuleSet it was started with.
func NewServer(version string, machine *escalation.Machine, rules analyzer.RuleSet) *Server {
	s := server.NewMCPServer("sentinel", version, server.WithLogging())
	registerTools(s, machine, rules)
	return &Server{mcpServer: s}
}

// Start runs the server in stdio mode (blocking).
func (s *Server) Start(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.mcpServer)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func registerTools(s *server.MCPServer, machine *escalation.Machine, rules analyzer.RuleSet) {
	statusTool := mcp.NewTool("get_status",
		mcp.WithDescription("Current escalation state (L1_MONITORING, L2_SCANNING, or L3_VERIFYING), l1/l2/l3 counters, current suspect set size, and last host status. Never triggers a scan."),
	)
	s.AddTool(statusTool, handleGetStatus(machine))

	rulesTool := mcp.NewTool("get_rules",
		mcp.WithDescription("The active pressure analyzer rule set (thresholds, scores, decision bounds) for operator review."),
	)
	s.AddTool(rulesTool, handleGetRules(rules))
}
