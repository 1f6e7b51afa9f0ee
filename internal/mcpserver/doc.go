// Package mcpserver serves recorded meetings to MCP clients over stdio.
//
// Tools:
//   - list_sessions: recent sessions with segment and alert counts
//   - get_transcript: a session's final segments as text or JSON
//   - list_triggers: fired keyword alerts for a session or overall
//
// Tool failures are returned as MCP error results so the client model can
// read them; only encoding problems surface as protocol errors.
package mcpserver
