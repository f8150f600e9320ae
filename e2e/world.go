// Package e2e drives the HTTP API end to end with godog. The server runs in
// process on the memory backend so the features need no infrastructure.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	ballothandler "hustings/internal/ballot/handler"
	ballotservice "hustings/internal/ballot/service"
	ballotmemory "hustings/internal/ballot/store/memory"
	httpapi "hustings/internal/http"
	jwttoken "hustings/internal/jwt_token"
	nomhandler "hustings/internal/nomination/handler"
	nomservice "hustings/internal/nomination/service"
	nommemory "hustings/internal/nomination/store/memory"
	"hustings/internal/platform/metrics"
	resultshandler "hustings/internal/results/handler"
	"hustings/internal/results/reconcile"
	resultsservice "hustings/internal/results/service"
	rosterhandler "hustings/internal/roster/handler"
	rostermemory "hustings/internal/roster/store/memory"
	settingshandler "hustings/internal/settings/handler"
	settingsservice "hustings/internal/settings/service"
	settingsmemory "hustings/internal/settings/store/memory"
	"hustings/internal/votertoken"
	auditmemory "hustings/pkg/platform/audit/store/memory"
)

// World is the state of one scenario.
type World struct {
	server *httptest.Server
	admin  string
	events *auditmemory.InMemoryStore

	status int
	body   []byte

	// nominations maps a nominee's full name to its id.
	nominations map[string]string
	// tokens maps a voter's email to the token from their ballot link.
	tokens map[string]string
	// lastSubmit is replayed by the retry step.
	lastSubmit map[string]any
}

const baseURL = "https://vote.example.org"

func NewWorld() (*World, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	events := auditmemory.NewInMemoryStore()

	noms := nommemory.NewInMemory()
	ledger := ballotmemory.New(noms)
	roster := rostermemory.New()

	settings := settingsservice.New(settingsmemory.NewInMemory(),
		settingsservice.WithLogger(logger),
		settingsservice.WithAuditPublisher(events),
		settingsservice.WithPollInterval(50*time.Millisecond),
	)
	nominations := nomservice.New(noms,
		nomservice.WithLogger(logger),
		nomservice.WithMetrics(m),
		nomservice.WithAuditPublisher(events),
		nomservice.WithOpenChecker(settings),
		nomservice.WithPublicBaseURL(baseURL),
	)
	ballots := ballotservice.New(ledger, noms, settings,
		ballotservice.WithLogger(logger),
		ballotservice.WithMetrics(m),
		ballotservice.WithAuditPublisher(events),
		ballotservice.WithRetryPolicy(1, time.Millisecond),
	)
	results := resultsservice.New(noms, ledger, resultsservice.WithLogger(logger), resultsservice.WithMetrics(m))
	reconciler := reconcile.New(ledger, reconcile.WithLogger(logger), reconcile.WithAuditPublisher(events))

	jwt := jwttoken.NewJWTService("e2e-secret", "hustings", "hustings-admin")
	admin, err := jwt.GenerateAdminToken("returning-officer", time.Hour)
	if err != nil {
		return nil, err
	}

	router := httpapi.NewRouter(httpapi.Config{
		Logger:   logger,
		Metrics:  m,
		Gatherer: reg,
		Admin:    jwt,
		Modules: []httpapi.Module{
			nomhandler.New(nominations, logger),
			ballothandler.New(ballots, votertoken.NewValidator(roster, votertoken.WithLogger(logger)), logger),
			resultshandler.New(results, reconciler, logger),
			rosterhandler.New(roster, baseURL, logger),
		},
		Streaming: []httpapi.Module{settingshandler.New(settings, logger)},
	})

	return &World{
		server:      httptest.NewServer(router),
		admin:       admin,
		events:      events,
		nominations: map[string]string{},
		tokens:      map[string]string{},
	}, nil
}

func (w *World) Close() {
	w.server.Close()
}

// do sends body as JSON and records the response.
func (w *World) do(method, path string, body any, asAdmin bool) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, w.server.URL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if asAdmin {
		req.Header.Set("Authorization", "Bearer "+w.admin)
	}
	resp, err := w.server.Client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	w.status = resp.StatusCode
	w.body, err = io.ReadAll(resp.Body)
	return err
}

// expect fails unless the last response had status.
func (w *World) expect(status int) error {
	if w.status != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, w.status, w.body)
	}
	return nil
}

func (w *World) decode(dst any) error {
	if err := json.Unmarshal(w.body, dst); err != nil {
		return fmt.Errorf("decode response %s: %w", w.body, err)
	}
	return nil
}
