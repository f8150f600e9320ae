// Package middleware throttles public routes per client address.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"hustings/internal/ratelimit/models"
	dErrors "hustings/pkg/domain-errors"
	"hustings/pkg/platform/circuit"
	"hustings/pkg/platform/httputil"
	"hustings/pkg/requestcontext"
)

// Store counts requests in a sliding window.
type Store interface {
	Allow(ctx context.Context, key string, limit models.Limit) (*models.Result, error)
}

type Middleware struct {
	primary  Store
	fallback Store
	breaker  *circuit.Breaker
	limits   map[models.Class]models.Limit
	logger   *slog.Logger
}

type Option func(*Middleware)

// WithFallback answers from fallback while the primary store keeps failing.
func WithFallback(fallback Store, breaker *circuit.Breaker) Option {
	return func(m *Middleware) {
		m.fallback = fallback
		m.breaker = breaker
	}
}

func New(primary Store, limits map[models.Class]models.Limit, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{primary: primary, limits: limits, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Limit rejects a client that has used up its allowance for the request's
// class. A failing store lets the request through.
func (m *Middleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		class := models.ClassFor(r.Method)
		limit, ok := m.limits[class]
		if !ok || limit.Requests <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		result, degraded, err := m.check(ctx, models.Key(class, requestcontext.ClientIP(ctx)), limit)
		if err != nil {
			m.logger.ErrorContext(ctx, "rate limit check failed",
				"request_id", requestcontext.RequestID(ctx),
				"class", class,
				"error", err,
			)
			next.ServeHTTP(w, r)
			return
		}
		if degraded {
			w.Header().Set("X-RateLimit-Status", "degraded")
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
		if !result.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
			m.logger.InfoContext(ctx, "rate limit exceeded",
				"request_id", requestcontext.RequestID(ctx),
				"class", class,
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests, try again later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) check(ctx context.Context, key string, limit models.Limit) (*models.Result, bool, error) {
	result, err := m.primary.Allow(ctx, key, limit)
	if m.breaker == nil {
		return result, false, err
	}
	if err == nil {
		if _, change := m.breaker.RecordSuccess(); change.Closed {
			m.logger.InfoContext(ctx, "rate limit store recovered", "breaker", m.breaker.Name())
		}
		if !m.breaker.IsOpen() {
			return result, false, nil
		}
	} else {
		useFallback, change := m.breaker.RecordFailure()
		if change.Opened {
			m.logger.WarnContext(ctx, "rate limit store unavailable, using in-memory fallback",
				"breaker", m.breaker.Name(),
				"error", err,
			)
		}
		if !useFallback {
			return nil, false, err
		}
	}
	result, err = m.fallback.Allow(ctx, key, limit)
	return result, true, err
}
