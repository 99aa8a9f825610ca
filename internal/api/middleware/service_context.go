// Package middleware provides HTTP middleware components for the Fletcher API.
package middleware

import (
	"context"
	"time"

	"github.com/fletcher-io/fletcher/internal/auth"
)

// serviceContextKey is the context key for authenticated service information.
// Using a struct type ensures type safety and prevents collisions with other context keys.
type serviceContextKey struct{}

// ServiceContext contains authenticated service information enriched in the request context.
// This context is added by the authentication middleware after successful token validation.
type ServiceContext struct {
	// Service is the authenticated service name (the token subject, e.g. "conductor")
	Service string

	// Roles are the roles currently granted to the service
	Roles []auth.Role

	// AuthTime is the timestamp when authentication occurred (for latency tracking)
	AuthTime time.Time
}

// GetServiceContext extracts service context from the request context.
// Returns (context, true) if authenticated, (empty, false) if not found.
//
// Example usage:
//
//	svcCtx, authenticated := middleware.GetServiceContext(r.Context())
//	if !authenticated {
//	    // Handle unauthenticated request
//	    return
//	}
//	log.Printf("Request from service: %s", svcCtx.Service)
func GetServiceContext(ctx context.Context) (ServiceContext, bool) {
	svcCtx, ok := ctx.Value(serviceContextKey{}).(ServiceContext)

	return svcCtx, ok
}

// SetServiceContext adds service context to the request context.
// Returns a new context with the service context attached.
//
// This function is used by the authentication middleware to enrich the request
// context after successful token validation.
func SetServiceContext(ctx context.Context, svcCtx ServiceContext) context.Context {
	return context.WithValue(ctx, serviceContextKey{}, svcCtx)
}
