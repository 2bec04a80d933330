// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Middleware sets these values; handlers read them to build the principal
// and client metadata handed to the gateway. The package has no net/http
// dependency so services and tests can use it directly:
//
//	ctx = requestcontext.WithPrincipal(ctx, "u1", "ADMIN")
//	ctx = requestcontext.WithClientMetadata(ctx, "10.0.0.1", "curl/8.0")
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"
)

// Context key types (unexported for encapsulation).
type (
	principalIDKey   struct{}
	principalRoleKey struct{}
	clientIPKey      struct{}
	userAgentKey     struct{}
	deviceKey        struct{}
	requestIDKey     struct{}
	requestTimeKey   struct{}
)

// -----------------------------------------------------------------------------
// Principal
// -----------------------------------------------------------------------------

// PrincipalID retrieves the authenticated principal id, or "" if unset.
func PrincipalID(ctx context.Context) string {
	if id, ok := ctx.Value(principalIDKey{}).(string); ok {
		return id
	}
	return ""
}

// PrincipalRole retrieves the role claim of the authenticated principal as
// issued. Parsing into a known role is left to the caller.
func PrincipalRole(ctx context.Context) string {
	if role, ok := ctx.Value(principalRoleKey{}).(string); ok {
		return role
	}
	return ""
}

// WithPrincipal injects the authenticated principal id and role.
func WithPrincipal(ctx context.Context, id, role string) context.Context {
	ctx = context.WithValue(ctx, principalIDKey{}, id)
	return context.WithValue(ctx, principalRoleKey{}, role)
}

// -----------------------------------------------------------------------------
// Client metadata (IP, User-Agent, device label)
// -----------------------------------------------------------------------------

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok {
		return ip
	}
	return ""
}

// UserAgent retrieves the User-Agent from the context.
func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(userAgentKey{}).(string); ok {
		return ua
	}
	return ""
}

// WithClientMetadata injects client IP and User-Agent into a context.
// Useful for service unit tests that don't run the full HTTP middleware chain.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey{}, clientIP)
	return context.WithValue(ctx, userAgentKey{}, userAgent)
}

// Device retrieves the coarse device label derived from the User-Agent.
func Device(ctx context.Context) string {
	if d, ok := ctx.Value(deviceKey{}).(string); ok {
		return d
	}
	return ""
}

// WithDevice injects a device label into a context.
func WithDevice(ctx context.Context, device string) context.Context {
	return context.WithValue(ctx, deviceKey{}, device)
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := TimeFrom(ctx); ok {
		return t
	}
	return time.Now()
}

// TimeFrom reports the request-scoped time, if the request time middleware
// set one.
func TimeFrom(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(requestTimeKey{}).(time.Time)
	return t, ok
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
