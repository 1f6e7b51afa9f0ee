package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/JeffJna/instant-meeting-insights/internal/store"
)

// Reader is the read side of the meeting store.
type Reader interface {
	Sessions(ctx context.Context, limit int) ([]store.Session, error)
	Segments(ctx context.Context, sessionID string) ([]store.Segment, error)
	Triggers(ctx context.Context, sessionID string, limit int) ([]store.Trigger, error)
}

// Server exposes recorded meetings as MCP tools.
type Server struct {
	store  Reader
	mcp    *server.MCPServer
	logger *slog.Logger
}

// New creates a server with its tools registered.
func New(r Reader, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:  r,
		logger: logger,
		mcp:    server.NewMCPServer("instant-meeting-insights", version, server.WithToolCapabilities(true)),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List recorded capture sessions, newest first, with segment and alert counts"),
		mcp.WithNumber("limit", mcp.Description("Maximum number of sessions (default 20)")),
	), s.handleListSessions)

	s.mcp.AddTool(mcp.NewTool("get_transcript",
		mcp.WithDescription("Get the final transcript of a recorded session"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID from list_sessions")),
		mcp.WithString("format", mcp.Description("'text' (default) for timestamped lines or 'json'")),
	), s.handleGetTranscript)

	s.mcp.AddTool(mcp.NewTool("list_triggers",
		mcp.WithDescription("List keyword alerts that fired, for one session or across all sessions"),
		mcp.WithString("session_id", mcp.Description("Session ID; empty lists the most recent alerts overall")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of alerts (default 100)")),
	), s.handleListTriggers)

	s.logger.Debug("Registered MCP tools", slog.Any("tools", []string{"list_sessions", "get_transcript", "list_triggers"}))
}

// Serve speaks MCP over in/out until ctx is done or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("Starting MCP stdio server")
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

func (s *Server) handleListSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)
	sessions, err := s.store.Sessions(ctx, limit)
	if err != nil {
		s.logger.Error("Failed to list sessions", slog.String("error", err.Error()))
		return mcp.NewToolResultError(fmt.Sprintf("listing sessions: %v", err)), nil
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	return jsonResult(sessions)
}

func (s *Server) handleGetTranscript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil || sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	segments, err := s.store.Segments(ctx, sessionID)
	if err != nil {
		s.logger.Error("Failed to load transcript",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		return mcp.NewToolResultError(fmt.Sprintf("loading transcript: %v", err)), nil
	}

	switch format := req.GetString("format", "text"); format {
	case "json":
		if segments == nil {
			segments = []store.Segment{}
		}
		return jsonResult(segments)
	case "text", "":
		if len(segments) == 0 {
			return mcp.NewToolResultText(fmt.Sprintf("Session %s has no transcript.", sessionID)), nil
		}
		return mcp.NewToolResultText(formatTranscript(segments)), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown format %q", format)), nil
	}
}

func (s *Server) handleListTriggers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	limit := req.GetInt("limit", 100)

	triggers, err := s.store.Triggers(ctx, sessionID, limit)
	if err != nil {
		s.logger.Error("Failed to list triggers", slog.String("error", err.Error()))
		return mcp.NewToolResultError(fmt.Sprintf("listing triggers: %v", err)), nil
	}
	if triggers == nil {
		triggers = []store.Trigger{}
	}
	return jsonResult(triggers)
}

func formatTranscript(segments []store.Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteString(seg.Timestamp.Format("[15:04:05] "))
		if seg.Speaker != "" {
			b.WriteString(seg.Speaker + ": ")
		}
		b.WriteString(seg.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
