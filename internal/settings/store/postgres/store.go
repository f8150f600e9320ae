package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"hustings/internal/platform/postgres"
	"hustings/internal/settings/models"
	"hustings/pkg/domain"
	txcontext "hustings/pkg/platform/tx"
)

// PostgresStore keeps one voting_open_settings row per position. It has no
// push channel; the service polls it.
type PostgresStore struct {
	db *sql.DB
}

func New(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context) (models.OpenPositions, error) {
	rows, err := txcontext.Conn(ctx, s.db).QueryContext(ctx, `SELECT position, is_open FROM voting_open_settings`)
	if err != nil {
		return nil, fmt.Errorf("read voting settings: %w", postgres.Classify(err))
	}
	defer rows.Close()

	open := models.OpenPositions{}
	for rows.Next() {
		var (
			position string
			isOpen   bool
		)
		if err := rows.Scan(&position, &isOpen); err != nil {
			return nil, fmt.Errorf("scan voting settings: %w", err)
		}
		if p := domain.Position(position); p.IsValid() {
			open[p] = isOpen
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate voting settings: %w", postgres.Classify(err))
	}
	return open.Complete(), nil
}

func (s *PostgresStore) Set(ctx context.Context, open models.OpenPositions) error {
	now := time.Now().UTC()
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		conn := txcontext.Conn(ctx, s.db)
		for p, isOpen := range open.Complete() {
			_, err := conn.ExecContext(ctx, `
				INSERT INTO voting_open_settings (position, is_open, updated_at) VALUES ($1, $2, $3)
				ON CONFLICT (position) DO UPDATE SET is_open = EXCLUDED.is_open, updated_at = EXCLUDED.updated_at
			`, string(p), isOpen, now)
			if err != nil {
				return fmt.Errorf("write voting setting %s: %w", p, postgres.Classify(err))
			}
		}
		return nil
	})
}
