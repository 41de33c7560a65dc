// Package logging sets up structured slog output for agentmem. Logs are JSON
// lines in ~/.agentmem/logs/agentmem.log with size-based rotation. In server
// mode nothing is written to stdout or stderr, which carry the MCP stream.
package logging
