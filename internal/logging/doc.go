// Package logging provides file-based logging with rotation for ragmcp.
// The serve command writes its logs to ~/.ragmcp/logs/ at the level set
// by --log-level.
//
// MCP stdio mode never writes to stdout or stderr: spec.md §6 requires
// stdout to carry nothing but line-delimited JSON-RPC, so SetupMCPMode
// routes every log line to the file only.
package logging
