package a2a

import (
	"errors"

	"github.com/cklxx-elephant-ai/a2aengine/internal/shared/apperrors"
)

// JSON-RPC 2.0 reserves -32768..-32000 for protocol/server errors.
// -32700..-32603 are the standard codes; -32001..-32006 below are
// this server's own range for the domain error taxonomy.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603

	codeNotFound     = -32001
	codeInvalidState = -32002
	codeModelError   = -32003
	codeToolError    = -32004
	codePersistence  = -32005
	codeCanceled     = -32006
)

// mapDomainError translates a domain/service error into a JSON-RPC
// error code and message, checking the sentinel taxonomy first and
// falling back to (0, "") so the caller picks a default.
func mapDomainError(err error) (code int, message string) {
	if err == nil {
		return 0, ""
	}
	switch {
	case errors.Is(err, apperrors.ErrInvalidRequest):
		return codeInvalidParams, err.Error()
	case errors.Is(err, apperrors.ErrNotFound):
		return codeNotFound, err.Error()
	case errors.Is(err, apperrors.ErrInvalidState):
		return codeInvalidState, err.Error()
	case errors.Is(err, apperrors.ErrModel):
		return codeModelError, err.Error()
	case errors.Is(err, apperrors.ErrTool):
		return codeToolError, err.Error()
	case errors.Is(err, apperrors.ErrPersistence):
		return codePersistence, err.Error()
	case errors.Is(err, apperrors.ErrCanceled):
		return codeCanceled, err.Error()
	default:
		return 0, ""
	}
}

// rpcErrorFor builds the error object for err, falling back to
// codeInternalError with a generic message when err isn't one of the
// recognized domain sentinels.
func rpcErrorFor(err error) *rpcError {
	if code, msg := mapDomainError(err); code != 0 {
		return &rpcError{Code: code, Message: msg}
	}
	return &rpcError{Code: codeInternalError, Message: "an internal error occurred"}
}
