package jsonrpc

import (
	"context"
	"encoding/json"
)

type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, *RPCError)

// Handler dispatches requests over a method table. Agents built on this
// package register a handler per skill-bearing method.
type Handler struct {
	methods map[string]HandlerFunc
}

func NewHandler() *Handler {
	return &Handler{methods: make(map[string]HandlerFunc)}
}

func (h *Handler) Register(method string, fn HandlerFunc) {
	h.methods[method] = fn
}

func (h *Handler) Handle(ctx context.Context, req Request) Response {
	if req.JSONRPC != "2.0" || req.Method == "" {
		return Response{JSONRPC: "2.0", Error: &RPCError{Code: ErrInvalidRequest, Message: "Invalid Request"}, ID: req.ID}
	}
	fn, ok := h.methods[req.Method]
	if !ok {
		return Response{JSONRPC: "2.0", Error: &RPCError{Code: ErrMethodNotFound, Message: "Method not found"}, ID: req.ID}
	}
	result, rpcErr := fn(ctx, req.Params)
	if rpcErr != nil {
		return Response{JSONRPC: "2.0", Error: rpcErr, ID: req.ID}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{JSONRPC: "2.0", Error: &RPCError{Code: ErrInternalError, Message: err.Error()}, ID: req.ID}
	}
	return Response{JSONRPC: "2.0", Result: raw, ID: req.ID}
}
