package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"hustings/internal/roster/models"
	txcontext "hustings/pkg/platform/tx"
)

// PostgresStore reads the roster from roster_organizations/roster_voters.
type PostgresStore struct {
	db *sql.DB
}

func New(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Upsert replaces an organization and all of its voters in one transaction.
func (s *PostgresStore) Upsert(ctx context.Context, org models.Organization) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		conn := txcontext.Conn(ctx, s.db)
		_, err := conn.ExecContext(ctx, `
			INSERT INTO roster_organizations (name, status) VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET status = EXCLUDED.status
		`, org.Name, org.Status)
		if err != nil {
			return fmt.Errorf("upsert roster organization: %w", err)
		}
		if _, err := conn.ExecContext(ctx, `DELETE FROM roster_voters WHERE organization = $1`, org.Name); err != nil {
			return fmt.Errorf("clear roster voters: %w", err)
		}
		for _, v := range org.Voters {
			_, err := conn.ExecContext(ctx, `
				INSERT INTO roster_voters (organization, name, email) VALUES ($1, $2, $3)
				ON CONFLICT (organization, email) DO UPDATE SET name = EXCLUDED.name
			`, org.Name, v.Name, v.Email)
			if err != nil {
				return fmt.Errorf("insert roster voter: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListApproved(ctx context.Context) ([]models.Voter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.name, v.email, o.name
		FROM roster_voters v
		JOIN roster_organizations o ON o.name = v.organization
		WHERE lower(o.status) = lower($1)
		ORDER BY o.name, v.email
	`, models.StatusApproved)
	if err != nil {
		return nil, fmt.Errorf("list roster voters: %w", err)
	}
	defer rows.Close()

	var voters []models.Voter
	for rows.Next() {
		var v models.Voter
		if err := rows.Scan(&v.Name, &v.Email, &v.Organization); err != nil {
			return nil, fmt.Errorf("scan roster voter: %w", err)
		}
		voters = append(voters, v)
	}
	return voters, rows.Err()
}
