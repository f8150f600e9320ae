package metadata

import (
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"hustings/pkg/requestcontext"
)

// ClientMetadata records the client address and User-Agent in the request
// context. Both values are advisory and never used for access control.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientMetadata(r.Context(), ClientIPFromRequest(r), r.Header.Get("User-Agent"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIPFromRequest extracts the client IP, preferring proxy headers.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// first hop is the original client
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return strings.Trim(addr[:idx], "[]")
		}
		return addr
	}

	return "unknown"
}

// ClientSummary reduces a User-Agent header to "Browser Version on OS",
// flagging mobile clients and bots. Empty input yields "".
func ClientSummary(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	if ua.Bot() {
		name, _ := ua.Browser()
		return "bot: " + name
	}
	name, version := ua.Browser()
	summary := strings.TrimSpace(name + " " + version)
	if os := ua.OS(); os != "" {
		summary += " on " + os
	}
	if ua.Mobile() {
		summary += " (mobile)"
	}
	return summary
}
