package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	audit "hustings/pkg/platform/audit"
	txcontext "hustings/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Append joins the caller's transaction when one is in the context, so a
// ballot and its ballot_recorded event commit together. The outbox relay
// forwards rows to Kafka.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append writes an audit event to the outbox table.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	eventID, err := uuid.Parse(event.ID)
	if err != nil {
		eventID = uuid.New()
		event.ID = eventID.String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	query := `
		INSERT INTO audit_outbox (id, event_type, category, subject, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = txcontext.Conn(ctx, s.db).ExecContext(ctx, query,
		eventID,
		string(event.Type),
		string(event.Category()),
		event.Subject,
		payload,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append audit outbox: %w", err)
	}
	return nil
}

// FetchUnpublished returns up to limit unpublished events, oldest first.
func (s *Store) FetchUnpublished(ctx context.Context, limit int) ([]audit.Event, error) {
	query := `
		SELECT payload
		FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit outbox: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan audit outbox: %w", err)
		}
		var e audit.Event
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode audit outbox payload: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit outbox: %w", err)
	}
	return events, nil
}

// MarkPublished stamps the given event IDs as forwarded.
func (s *Store) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE audit_outbox SET published_at = $1 WHERE id = ANY($2::uuid[]) AND published_at IS NULL`
	if _, err := s.db.ExecContext(ctx, query, at, pq.Array(ids)); err != nil {
		return fmt.Errorf("mark audit outbox published: %w", err)
	}
	return nil
}

// CountUnpublished reports the outbox backlog.
func (s *Store) CountUnpublished(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM audit_outbox WHERE published_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit outbox: %w", err)
	}
	return n, nil
}
