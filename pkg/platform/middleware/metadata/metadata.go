// Package metadata captures client metadata (source IP, User-Agent and a
// coarse device label) for audit events and operator logs.
package metadata

import (
	"net"
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"phigate/pkg/requestcontext"
)

// Device labels.
const (
	DeviceBot     = "bot"
	DeviceMobile  = "mobile"
	DeviceDesktop = "desktop"
	DeviceUnknown = "unknown"
)

// ClientMetadata extracts client IP address and User-Agent from the request
// and adds them to the context for use by handlers and services.
// This middleware should be applied early in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua := r.Header.Get("User-Agent")
		ctx := requestcontext.WithClientMetadata(r.Context(), ClientIPFromRequest(r), ua)
		ctx = requestcontext.WithDevice(ctx, DeviceLabel(ua))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIPFromRequest extracts the client IP, preferring the first hop of
// X-Forwarded-For, then X-Real-IP, then the connection's remote address.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	if addr := r.RemoteAddr; addr != "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			return host
		}
		return addr
	}

	return "unknown"
}

// DeviceLabel classifies a User-Agent string. The label is coarse so that
// it can be logged without fingerprinting the caller.
func DeviceLabel(ua string) string {
	if strings.TrimSpace(ua) == "" {
		return DeviceUnknown
	}
	parsed := useragent.New(ua)
	switch {
	case parsed.Bot():
		return DeviceBot
	case parsed.Mobile():
		return DeviceMobile
	case parsed.OS() != "":
		return DeviceDesktop
	default:
		return DeviceUnknown
	}
}
