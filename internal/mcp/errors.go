// Package mcp implements the Tool Layer: a stdio JSON-RPC (MCP) server
// exposing ragmcp's ten operations.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/amanmcp-ragmcp/ragmcp/internal/ragerrors"
)

// MCP error codes. The ten ragerrors.Kind values each get a stable code
// in the implementation-defined range below -32000 (spec.md §7: "JSON-RPC
// error objects carry a stable code per kind"); the rest are the
// standard JSON-RPC 2.0 codes used for malformed/unknown requests.
const (
	ErrCodeConfigInvalid   = -32010
	ErrCodeModelLoadFailed = -32011
	ErrCodeInferenceFailed = -32012
	ErrCodeIoFailed        = -32013
	ErrCodeParseFailed     = -32014
	ErrCodeSchemaMismatch  = -32015
	ErrCodeNotFound        = -32016
	ErrCodeAlreadyExists   = -32017
	ErrCodeConflict        = -32018
	ErrCodeTransportFailed = -32019

	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// ErrToolNotFound indicates the requested tool does not exist.
var ErrToolNotFound = errors.New("tool not found")

// MCPError is a JSON-RPC error object: a stable code plus a
// human-readable message, with no stack trace on the wire.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// kindCodes maps each ragerrors.Kind to its stable JSON-RPC code.
var kindCodes = map[ragerrors.Kind]int{
	ragerrors.ConfigInvalid:   ErrCodeConfigInvalid,
	ragerrors.ModelLoadFailed: ErrCodeModelLoadFailed,
	ragerrors.InferenceFailed: ErrCodeInferenceFailed,
	ragerrors.IoFailed:        ErrCodeIoFailed,
	ragerrors.ParseFailed:     ErrCodeParseFailed,
	ragerrors.SchemaMismatch:  ErrCodeSchemaMismatch,
	ragerrors.NotFound:        ErrCodeNotFound,
	ragerrors.AlreadyExists:   ErrCodeAlreadyExists,
	ragerrors.Conflict:        ErrCodeConflict,
	ragerrors.TransportFailed: ErrCodeTransportFailed,
}

// MapError converts an internal error into the JSON-RPC error object the
// Tool Layer returns to the client. RagErrors map one-to-one onto their
// kind's stable code; anything else (context cancellation, a bare error
// from a dependency) falls back to the standard JSON-RPC codes.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var re *ragerrors.RagError
	if errors.As(err, &re) {
		message := re.Message
		if re.Suggestion != "" {
			message = fmt.Sprintf("%s %s", message, re.Suggestion)
		}
		code, ok := kindCodes[re.Kind]
		if !ok {
			code = ErrCodeInternalError
		}
		return &MCPError{Code: code, Message: message}
	}

	switch {
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "tool not found"}
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeInternalError, Message: "request timed out"}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeInternalError, Message: "request was canceled"}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: err.Error()}
	}
}

// NewInvalidParamsError creates an error for malformed tool arguments.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for an unknown tool name.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("tool %q not found", name)}
}
