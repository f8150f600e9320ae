package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	ballothandler "hustings/internal/ballot/handler"
	ballotservice "hustings/internal/ballot/service"
	httpapi "hustings/internal/http"
	jwttoken "hustings/internal/jwt_token"
	nomhandler "hustings/internal/nomination/handler"
	nomservice "hustings/internal/nomination/service"
	"hustings/internal/platform/config"
	"hustings/internal/platform/httpserver"
	"hustings/internal/platform/kafka"
	"hustings/internal/platform/logger"
	"hustings/internal/platform/metrics"
	"hustings/internal/platform/redis"
	ratelimitmiddleware "hustings/internal/ratelimit/middleware"
	ratelimitmodels "hustings/internal/ratelimit/models"
	"hustings/internal/ratelimit/store/bucket"
	resultshandler "hustings/internal/results/handler"
	"hustings/internal/results/reconcile"
	resultsservice "hustings/internal/results/service"
	"hustings/internal/roster"
	rosterhandler "hustings/internal/roster/handler"
	settingshandler "hustings/internal/settings/handler"
	settingsservice "hustings/internal/settings/service"
	settingsredis "hustings/internal/settings/store/redis"
	"hustings/internal/votertoken"
	"hustings/pkg/platform/audit"
	"hustings/pkg/platform/audit/publishers/compliance"
	kafkapublisher "hustings/pkg/platform/audit/publishers/kafka"
	logpublisher "hustings/pkg/platform/audit/publishers/logger"
	"hustings/pkg/platform/audit/worker"
	"hustings/pkg/platform/circuit"
)

// main wires storage, services and handlers, then runs the HTTP server and
// background workers until SIGINT or SIGTERM.
func main() {
	if err := run(); err != nil {
		slog.Error("hustings stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log)
	slog.SetDefault(log)
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close(log)

	if cfg.RosterFile != "" {
		n, err := roster.LoadFile(ctx, cfg.RosterFile, b.roster)
		if err != nil {
			return err
		}
		log.Info("roster loaded", "organizations", n, "file", cfg.RosterFile)
	}

	settingsStore := b.settings
	limits := map[ratelimitmodels.Class]ratelimitmodels.Limit{
		ratelimitmodels.ClassRead:  {Requests: cfg.RateLimit.ReadPerMinute, Window: time.Minute},
		ratelimitmodels.ClassWrite: {Requests: cfg.RateLimit.WritePerMinute, Window: time.Minute},
	}
	limiter := ratelimitmiddleware.New(bucket.New(), limits, log)
	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rc != nil {
		defer rc.Close()
		settingsStore = settingsredis.New(rc.Client, log)
		b.checks["redis"] = rc.Health
		limiter = ratelimitmiddleware.New(bucket.NewRedis(rc.Client), limits, log,
			ratelimitmiddleware.WithFallback(bucket.New(), circuit.New("ratelimit-redis", circuit.WithSuccessThreshold(3))))
	}

	sink, closeSink, err := auditSink(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSink()
	auditor := audit.Publisher(compliance.New(b.events, compliance.WithLogger(log)))
	if b.outbox == nil {
		auditor = audit.Multi{auditor, sink}
	}
	ballotAuditor := auditor
	if b.ledgerAudited {
		ballotAuditor = audit.Without(auditor, audit.EventBallotRecorded)
	}

	settingsSvc := settingsservice.New(settingsStore,
		settingsservice.WithLogger(log),
		settingsservice.WithMetrics(m),
		settingsservice.WithAuditPublisher(auditor),
	)
	nominationSvc := nomservice.New(b.nominations,
		nomservice.WithLogger(log),
		nomservice.WithMetrics(m),
		nomservice.WithAuditPublisher(auditor),
		nomservice.WithOpenChecker(settingsSvc),
		nomservice.WithPublicBaseURL(cfg.PublicBaseURL),
	)
	ballotSvc := ballotservice.New(b.ledger, b.nominations, settingsSvc,
		ballotservice.WithLogger(log),
		ballotservice.WithMetrics(m),
		ballotservice.WithAuditPublisher(ballotAuditor),
		ballotservice.WithRetryPolicy(cfg.SubmitRetries, 50*time.Millisecond),
	)
	resultsSvc := resultsservice.New(b.nominations, b.ledger,
		resultsservice.WithLogger(log),
		resultsservice.WithMetrics(m),
	)
	reconciler := reconcile.New(b.ledger,
		reconcile.WithLogger(log),
		reconcile.WithMetrics(m),
		reconcile.WithAuditPublisher(auditor),
	)
	validator := votertoken.NewValidator(b.roster, votertoken.WithLogger(log))

	router := httpapi.NewRouter(httpapi.Config{
		Logger:  log,
		Metrics: m,
		Admin:   jwttoken.NewJWTService(cfg.Admin.JWTSecret, cfg.Admin.Issuer, cfg.Admin.Audience),
		Checks:  b.checks,
		Public:  []func(http.Handler) http.Handler{limiter.Limit},
		Modules: []httpapi.Module{
			nomhandler.New(nominationSvc, log),
			ballothandler.New(ballotSvc, validator, log),
			resultshandler.New(resultsSvc, reconciler, log),
			rosterhandler.New(b.roster, cfg.PublicBaseURL, log),
		},
		Streaming: []httpapi.Module{settingshandler.New(settingsSvc, log)},
	})
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting hustings", "addr", cfg.Addr, "backend", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if b.outbox != nil {
		relay := worker.NewRelay(b.outbox, sink, worker.WithLogger(log))
		g.Go(func() error { return background(relay.Run(gctx)) })
	}
	if cfg.Reconcile.Interval > 0 {
		w := reconcile.NewWorker(reconciler, cfg.Reconcile.Interval, cfg.Reconcile.Repair, log)
		g.Go(func() error { return background(w.Run(gctx)) })
	}
	return g.Wait()
}

// auditSink is where compliance events end up: Kafka when brokers are
// configured, the log otherwise and while the broker is unreachable.
func auditSink(ctx context.Context, cfg config.Server, log *slog.Logger) (audit.Publisher, func(), error) {
	logSink := logpublisher.New(log)
	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		return nil, nil, err
	}
	if producer == nil {
		return logSink, func() {}, nil
	}
	if err := kafka.EnsureTopic(ctx, producer, cfg.Kafka.AuditTopic, 3, 1); err != nil {
		producer.Close()
		return nil, nil, err
	}
	breaker := circuit.New("audit-kafka", circuit.WithFailureThreshold(3), circuit.WithSuccessThreshold(2))
	return kafkapublisher.New(producer, cfg.Kafka.AuditTopic,
		kafkapublisher.WithFallback(logSink, breaker),
		kafkapublisher.WithLogger(log),
	), producer.Close, nil
}

// background treats cancellation as a clean stop.
func background(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
