package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	mongodriver "go.mongodb.org/mongo-driver/mongo"

	ballotservice "hustings/internal/ballot/service"
	ballotmemory "hustings/internal/ballot/store/memory"
	ballotmongo "hustings/internal/ballot/store/mongo"
	ballotpostgres "hustings/internal/ballot/store/postgres"
	httpapi "hustings/internal/http"
	nomservice "hustings/internal/nomination/service"
	nommemory "hustings/internal/nomination/store/memory"
	nommongo "hustings/internal/nomination/store/mongo"
	nompostgres "hustings/internal/nomination/store/postgres"
	"hustings/internal/platform/config"
	platformmongo "hustings/internal/platform/mongo"
	"hustings/internal/platform/postgres"
	"hustings/internal/results/reconcile"
	resultsservice "hustings/internal/results/service"
	"hustings/internal/roster"
	rostermemory "hustings/internal/roster/store/memory"
	rostermongo "hustings/internal/roster/store/mongo"
	rosterpostgres "hustings/internal/roster/store/postgres"
	settingsservice "hustings/internal/settings/service"
	settingsmemory "hustings/internal/settings/store/memory"
	settingsmongo "hustings/internal/settings/store/mongo"
	settingspostgres "hustings/internal/settings/store/postgres"
	"hustings/internal/votertoken"
	"hustings/pkg/platform/audit"
	auditmemory "hustings/pkg/platform/audit/store/memory"
	auditpostgres "hustings/pkg/platform/audit/store/postgres"
)

type ledger interface {
	ballotservice.Ledger
	resultsservice.Ledger
	reconcile.Ledger
}

type rosterStore interface {
	roster.Writer
	votertoken.Roster
}

// backend holds one storage family. Exactly one is opened per process.
type backend struct {
	nominations nomservice.Store
	roster      rosterStore
	settings    settingsservice.Store
	ledger      ledger

	// events receives compliance events. On Postgres it is the outbox and
	// the ledger appends ballot_recorded itself, inside the commit.
	events        audit.Store
	outbox        *auditpostgres.Store
	ledgerAudited bool
	checks        map[string]httpapi.Check
	closers       []func() error
}

func (b *backend) close(logger *slog.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Warn("close backend", "error", err)
		}
	}
}

func openBackend(ctx context.Context, cfg config.Server, logger *slog.Logger) (*backend, error) {
	b, err := dial(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if b.checks == nil {
		b.checks = map[string]httpapi.Check{}
	}
	return b, nil
}

func dial(ctx context.Context, cfg config.Server, logger *slog.Logger) (*backend, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		return postgresBackend(db), nil
	case config.BackendMongo:
		client, db, err := platformmongo.Connect(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		b, err := mongoBackend(ctx, db, cfg.Mongo.Transactions)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		b.checks = map[string]httpapi.Check{"mongo": func(ctx context.Context) error {
			return client.Ping(ctx, nil)
		}}
		b.closers = append(b.closers, func() error { return client.Disconnect(context.Background()) })
		if !cfg.Mongo.Transactions {
			logger.Warn("mongo transactions disabled; ballot commits use guarded increments")
		}
		return b, nil
	default:
		noms := nommemory.NewInMemory()
		return &backend{
			nominations: noms,
			roster:      rostermemory.New(),
			settings:    settingsmemory.NewInMemory(),
			ledger:      ballotmemory.New(noms),
			events:      auditmemory.NewInMemoryStore(),
		}, nil
	}
}

func postgresBackend(db *sql.DB) *backend {
	outbox := auditpostgres.New(db)
	return &backend{
		nominations:   nompostgres.New(db),
		roster:        rosterpostgres.New(db),
		settings:      settingspostgres.New(db),
		ledger:        ballotpostgres.New(db, ballotpostgres.WithOutbox(outbox)),
		events:        outbox,
		outbox:        outbox,
		ledgerAudited: true,
		checks:        map[string]httpapi.Check{"postgres": db.PingContext},
		closers:       []func() error{db.Close},
	}
}

func mongoBackend(ctx context.Context, db *mongodriver.Database, transactions bool) (*backend, error) {
	nominations := db.Collection(platformmongo.CollectionNominations)
	noms := nommongo.New(nominations)
	if err := noms.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("nomination indexes: %w", err)
	}
	votes := ballotmongo.New(db.Collection(platformmongo.CollectionBallots), nominations,
		ballotmongo.WithTransactions(transactions))
	if err := votes.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ballot indexes: %w", err)
	}
	return &backend{
		nominations: noms,
		roster:      rostermongo.New(db.Collection(platformmongo.CollectionRoster)),
		settings:    settingsmongo.New(db.Collection(platformmongo.CollectionSettings)),
		ledger:      votes,
		events:      auditmemory.NewInMemoryStore(),
	}, nil
}
