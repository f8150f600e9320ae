package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"hustings/internal/ratelimit/models"
	"hustings/internal/ratelimit/store/bucket"
	dErrors "hustings/pkg/domain-errors"
	"hustings/pkg/platform/circuit"
	"hustings/pkg/testutil"
)

type brokenStore struct{ err error }

func (b *brokenStore) Allow(context.Context, string, models.Limit) (*models.Result, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &models.Result{Allowed: true, Limit: 1, Remaining: 1, ResetAt: time.Now()}, nil
}

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

func limits() map[models.Class]models.Limit {
	return map[models.Class]models.Limit{
		models.ClassWrite: {Requests: 1, Window: time.Minute},
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestLimit(t *testing.T) {
	h := New(bucket.New(), limits(), discard()).Limit(ok)

	post := func(ip string) *http.Request {
		return testutil.WithClient(testutil.NewRequest(t, http.MethodPost, "/ballot/submit"), ip, "test")
	}

	rr := testutil.DoRequest(h, post("10.0.0.1"))
	testutil.AssertStatusOK(t, rr)
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))

	rr = testutil.DoRequest(h, post("10.0.0.1"))
	testutil.AssertStatusAndError(t, rr, http.StatusTooManyRequests, string(dErrors.CodeRateLimited))
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	rr = testutil.DoRequest(h, post("10.0.0.2"))
	testutil.AssertStatusOK(t, rr)

	rr = testutil.DoRequest(h, testutil.WithClient(testutil.NewRequest(t, http.MethodGet, "/results"), "10.0.0.1", "test"))
	testutil.AssertStatusOK(t, rr)
	assert.Empty(t, rr.Header().Get("X-RateLimit-Limit"), "reads are unlimited when no read limit is set")
}

// Justification: a Redis outage must neither block voters nor switch
// limiting off; after the breaker trips the in-memory buckets take over.
func TestLimitFallsBackWhenStoreFails(t *testing.T) {
	primary := &brokenStore{err: errors.New("redis: connection refused")}
	breaker := circuit.New("ratelimit", circuit.WithFailureThreshold(2))
	h := New(primary, limits(), discard(), WithFallback(bucket.New(), breaker)).Limit(ok)

	post := func() *http.Request {
		return testutil.WithClient(testutil.NewRequest(t, http.MethodPost, "/nominations"), "10.0.0.1", "test")
	}

	rr := testutil.DoRequest(h, post())
	testutil.AssertStatusOK(t, rr)
	assert.Empty(t, rr.Header().Get("X-RateLimit-Status"), "first failure fails open")

	rr = testutil.DoRequest(h, post())
	testutil.AssertStatusOK(t, rr)
	assert.Equal(t, "degraded", rr.Header().Get("X-RateLimit-Status"))

	rr = testutil.DoRequest(h, post())
	testutil.AssertStatus(t, rr, http.StatusTooManyRequests)

	primary.err = nil
	rr = testutil.DoRequest(h, testutil.WithClient(testutil.NewRequest(t, http.MethodPost, "/nominations"), "10.0.0.9", "test"))
	testutil.AssertStatusOK(t, rr)
	assert.False(t, breaker.IsOpen())
	assert.Empty(t, rr.Header().Get("X-RateLimit-Status"))
}
