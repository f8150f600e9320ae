package admin

import (
	"log/slog"
	"net/http"
	"strings"

	dErrors "hustings/pkg/domain-errors"
	"hustings/pkg/platform/httputil"
	"hustings/pkg/requestcontext"
)

// Verifier checks an admin bearer token and returns its subject.
type Verifier interface {
	VerifyAdmin(token string) (string, error)
}

// RequireAdmin is the "is authenticated" gate in front of every admin route.
func RequireAdmin(verifier Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				logger.WarnContext(ctx, "admin request without bearer token",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
				return
			}

			subject, err := verifier.VerifyAdmin(strings.TrimSpace(token))
			if err != nil {
				logger.WarnContext(ctx, "admin token rejected",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				if dErrors.HasCode(err, dErrors.CodeForbidden) {
					httputil.WriteError(w, err)
					return
				}
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithAdminSubject(ctx, subject)))
		})
	}
}
