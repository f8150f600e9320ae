package testutil

import (
	"net/http"
	"time"

	"hustings/pkg/requestcontext"
)

// WithAdmin marks the request as having passed the admin gate.
func WithAdmin(req *http.Request, subject string) *http.Request {
	return req.WithContext(requestcontext.WithAdminSubject(req.Context(), subject))
}

// WithClient sets the advisory client address and User-Agent.
func WithClient(req *http.Request, ip, userAgent string) *http.Request {
	return req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, userAgent))
}

// WithTime pins the request-scoped clock.
func WithTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
