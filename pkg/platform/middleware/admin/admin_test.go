package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	dErrors "hustings/pkg/domain-errors"
	"hustings/pkg/requestcontext"
)

type stubVerifier struct {
	subject string
	err     error
}

func (s stubVerifier) VerifyAdmin(string) (string, error) { return s.subject, s.err }

func TestRequireAdmin(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.AdminSubject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("missing header", func(t *testing.T) {
		w := httptest.NewRecorder()
		RequireAdmin(stubVerifier{subject: "chair"}, logger)(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejected token", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/admin", nil)
		r.Header.Set("Authorization", "Bearer nope")
		RequireAdmin(stubVerifier{err: dErrors.New(dErrors.CodeUnauthorized, "invalid token")}, logger)(next).ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong role", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/admin", nil)
		r.Header.Set("Authorization", "Bearer voter")
		RequireAdmin(stubVerifier{err: dErrors.New(dErrors.CodeForbidden, "admin role required")}, logger)(next).ServeHTTP(w, r)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("valid token passes subject through", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/admin", nil)
		r.Header.Set("Authorization", "Bearer good")
		RequireAdmin(stubVerifier{subject: "chair"}, logger)(next).ServeHTTP(w, r)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "chair", seen)
	})
}
