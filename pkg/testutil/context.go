package testutil

import (
	"net/http"

	"phigate/pkg/requestcontext"
)

// WithPrincipal adds an authenticated principal to the request context,
// simulating the auth middleware.
func WithPrincipal(req *http.Request, id, role string) *http.Request {
	return req.WithContext(requestcontext.WithPrincipal(req.Context(), id, role))
}

// WithClientMetadata adds client metadata to the request context,
// simulating the metadata middleware.
func WithClientMetadata(req *http.Request, ip, userAgent string) *http.Request {
	return req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, userAgent))
}
