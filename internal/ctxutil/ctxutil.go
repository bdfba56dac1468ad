// Package ctxutil provides shared context key accessors.
//
// This package exists to break the circular dependency between server and mcp:
// server imports mcp for MCP server setup, and mcp needs to read the
// authenticated agent from the context that server's auth middleware
// populates. Both packages import ctxutil instead of each other.
package ctxutil

import (
	"context"

	"github.com/tessen-ai/kanshi/internal/auth"
	"github.com/tessen-ai/kanshi/internal/model"
)

type contextKey string

const (
	keyClaims    contextKey = "claims"
	keyAgent     contextKey = "agent"
	keyRequestID contextKey = "request_id"
)

// WithClaims returns a new context carrying operator JWT claims.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, keyClaims, claims)
}

// ClaimsFromContext extracts operator JWT claims from the context.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(keyClaims).(*auth.Claims); ok {
		return v
	}
	return nil
}

// WithAgent returns a new context carrying the agent authenticated by API key.
func WithAgent(ctx context.Context, agent *model.Agent) context.Context {
	return context.WithValue(ctx, keyAgent, agent)
}

// AgentFromContext extracts the API-key-authenticated agent from the context.
func AgentFromContext(ctx context.Context) *model.Agent {
	if v, ok := ctx.Value(keyAgent).(*model.Agent); ok {
		return v
	}
	return nil
}

// WithRequestID returns a new context carrying the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}
