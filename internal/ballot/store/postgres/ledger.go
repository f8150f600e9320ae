package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"hustings/internal/ballot/models"
	"hustings/internal/platform/postgres"
	"hustings/pkg/domain"
	"hustings/pkg/platform/audit"
	"hustings/pkg/platform/sentinel"
	txcontext "hustings/pkg/platform/tx"
)

// PostgresLedger stores ballots in ballots and ballot_selections and counts
// them in nominations.votes. A commit is one transaction: the ballot, its
// selections, the counter increments and, when an outbox is configured, the
// ballot_recorded event.
type PostgresLedger struct {
	db     *sql.DB
	outbox audit.Store
}

type Option func(*PostgresLedger)

// WithOutbox appends a ballot_recorded event inside the commit transaction.
func WithOutbox(store audit.Store) Option {
	return func(l *PostgresLedger) {
		l.outbox = store
	}
}

func New(db *sql.DB, opts ...Option) *PostgresLedger {
	l := &PostgresLedger{db: db}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

const ballotColumns = `id, voter_email, voter_name, voter_membership, idempotency_key, source_address, user_agent, submitted_at`

func (l *PostgresLedger) Commit(ctx context.Context, b *models.Ballot) error {
	err := txcontext.Run(ctx, l.db, func(ctx context.Context) error {
		return l.insert(ctx, b)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrInvalidState):
		return err
	case postgres.IsForeignKeyViolation(err):
		return fmt.Errorf("unknown candidate: %w", sentinel.ErrInvalidState)
	}
	if constraint, ok := postgres.IsUniqueViolation(err); ok {
		return l.alreadyUsed(ctx, b, constraint)
	}
	return fmt.Errorf("commit ballot: %w", postgres.Classify(err))
}

func (l *PostgresLedger) insert(ctx context.Context, b *models.Ballot) error {
	conn := txcontext.Conn(ctx, l.db)
	_, err := conn.ExecContext(ctx, `
		INSERT INTO ballots (`+ballotColumns+`, voter_email_norm)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuid.UUID(b.ID), b.VoterEmail, b.VoterName, b.VoterMembership, b.IdempotencyKey,
		b.SourceAddress, b.UserAgent, b.SubmittedAt, b.EmailKey())
	if err != nil {
		return fmt.Errorf("insert ballot: %w", err)
	}

	positions := make([]string, 0, len(b.Selections))
	ids := make([]string, 0, len(b.Selections))
	for _, p := range b.Positions() {
		positions = append(positions, string(p))
		ids = append(ids, b.Selections[p].String())
	}
	_, err = conn.ExecContext(ctx, `
		INSERT INTO ballot_selections (ballot_id, position, nomination_id)
		SELECT $1, s.position, s.nomination_id::uuid
		FROM unnest($2::text[], $3::text[]) AS s(position, nomination_id)
	`, uuid.UUID(b.ID), pq.Array(positions), pq.Array(ids))
	if err != nil {
		return fmt.Errorf("insert selections: %w", err)
	}

	res, err := conn.ExecContext(ctx, `
		UPDATE nominations SET votes = votes + 1
		WHERE id = ANY($1::uuid[]) AND status = 'approved' AND acceptance_status = 'Accepted'
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("increment votes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if int(n) != len(ids) {
		return fmt.Errorf("%d of %d candidates no longer eligible: %w", len(ids)-int(n), len(ids), sentinel.ErrInvalidState)
	}

	if l.outbox != nil {
		err := l.outbox.Append(ctx, audit.Event{
			Type:      audit.EventBallotRecorded,
			Timestamp: b.SubmittedAt,
			Subject:   b.ID.String(),
			Actor:     b.VoterEmail,
			Details:   map[string]string{"organization": b.VoterMembership},
		})
		if err != nil {
			return fmt.Errorf("append outbox: %w", err)
		}
	}
	return nil
}

// alreadyUsed tells a resumed commit of this ballot, which already counted
// in full, from a genuine duplicate.
func (l *PostgresLedger) alreadyUsed(ctx context.Context, b *models.Ballot, constraint string) error {
	var exists bool
	err := l.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM ballots WHERE id = $1)`, uuid.UUID(b.ID)).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check ballot: %w", postgres.Classify(err))
	}
	if exists {
		return nil
	}
	return fmt.Errorf("%s: %w", constraint, sentinel.ErrAlreadyUsed)
}

func (l *PostgresLedger) FindByIdempotencyKey(ctx context.Context, key string) (*models.Ballot, error) {
	return l.findOne(ctx, `idempotency_key = $1`, key)
}

func (l *PostgresLedger) FindByEmail(ctx context.Context, email string) (*models.Ballot, error) {
	return l.findOne(ctx, `voter_email_norm = $1`, models.NormalizeEmail(email))
}

func (l *PostgresLedger) findOne(ctx context.Context, where string, arg any) (*models.Ballot, error) {
	row := txcontext.Conn(ctx, l.db).QueryRowContext(ctx,
		`SELECT `+ballotColumns+` FROM ballots WHERE `+where, arg)
	b, err := scanBallot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find ballot: %w", postgres.Classify(err))
	}
	rows, err := txcontext.Conn(ctx, l.db).QueryContext(ctx,
		`SELECT ballot_id, position, nomination_id FROM ballot_selections WHERE ballot_id = $1`, uuid.UUID(b.ID))
	if err != nil {
		return nil, fmt.Errorf("find selections: %w", postgres.Classify(err))
	}
	if err := attachSelections(rows, map[domain.BallotID]*models.Ballot{b.ID: b}); err != nil {
		return nil, err
	}
	return b, nil
}

func (l *PostgresLedger) List(ctx context.Context) ([]*models.Ballot, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT `+ballotColumns+` FROM ballots ORDER BY submitted_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list ballots: %w", postgres.Classify(err))
	}
	defer rows.Close()

	var out []*models.Ballot
	byID := make(map[domain.BallotID]*models.Ballot)
	for rows.Next() {
		b, err := scanBallot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ballot: %w", err)
		}
		out = append(out, b)
		byID[b.ID] = b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ballots: %w", postgres.Classify(err))
	}

	sel, err := l.db.QueryContext(ctx, `SELECT ballot_id, position, nomination_id FROM ballot_selections`)
	if err != nil {
		return nil, fmt.Errorf("list selections: %w", postgres.Classify(err))
	}
	if err := attachSelections(sel, byID); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *PostgresLedger) Turnout(ctx context.Context) (models.Turnout, error) {
	t := models.Turnout{ByPosition: make(map[domain.Position]int)}
	if err := l.db.QueryRowContext(ctx, `SELECT count(*) FROM ballots`).Scan(&t.Ballots); err != nil {
		return models.Turnout{}, fmt.Errorf("count ballots: %w", postgres.Classify(err))
	}
	rows, err := l.db.QueryContext(ctx, `SELECT position, count(*) FROM ballot_selections GROUP BY position`)
	if err != nil {
		return models.Turnout{}, fmt.Errorf("count selections: %w", postgres.Classify(err))
	}
	defer rows.Close()
	for rows.Next() {
		var (
			position string
			n        int
		)
		if err := rows.Scan(&position, &n); err != nil {
			return models.Turnout{}, fmt.Errorf("scan turnout: %w", err)
		}
		t.ByPosition[domain.Position(position)] = n
		t.Selections += n
	}
	if err := rows.Err(); err != nil {
		return models.Turnout{}, fmt.Errorf("iterate turnout: %w", postgres.Classify(err))
	}
	return t, nil
}

func (l *PostgresLedger) BallotIDs(ctx context.Context) ([]domain.BallotID, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT id FROM ballots`)
	if err != nil {
		return nil, fmt.Errorf("list ballot ids: %w", postgres.Classify(err))
	}
	defer rows.Close()
	var ids []domain.BallotID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan ballot id: %w", err)
		}
		ids = append(ids, domain.BallotID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ballot ids: %w", postgres.Classify(err))
	}
	return ids, nil
}

// Tally reads counters and recount in one statement, so both come from the
// same snapshot.
func (l *PostgresLedger) Tally(ctx context.Context) (models.TallySnapshot, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT n.id, n.votes, count(s.ballot_id)
		FROM nominations n
		LEFT JOIN ballot_selections s ON s.nomination_id = n.id
		GROUP BY n.id, n.votes
	`)
	if err != nil {
		return models.TallySnapshot{}, fmt.Errorf("tally: %w", postgres.Classify(err))
	}
	defer rows.Close()
	snap := models.TallySnapshot{
		Recount:  make(map[domain.NominationID]int64),
		Counters: make(map[domain.NominationID]int64),
	}
	for rows.Next() {
		var (
			id             uuid.UUID
			votes, counted int64
		)
		if err := rows.Scan(&id, &votes, &counted); err != nil {
			return models.TallySnapshot{}, fmt.Errorf("scan tally: %w", err)
		}
		snap.Counters[domain.NominationID(id)] = votes
		if counted > 0 {
			snap.Recount[domain.NominationID(id)] = counted
		}
	}
	if err := rows.Err(); err != nil {
		return models.TallySnapshot{}, fmt.Errorf("iterate tally: %w", postgres.Classify(err))
	}
	return snap, nil
}

// Repair sets every counter to its recount. Selections are locked against
// new commits for the duration so the recount cannot go stale.
func (l *PostgresLedger) Repair(ctx context.Context) (int, error) {
	var repaired int64
	err := txcontext.Run(ctx, l.db, func(ctx context.Context) error {
		conn := txcontext.Conn(ctx, l.db)
		if _, err := conn.ExecContext(ctx, `LOCK TABLE ballot_selections IN SHARE MODE`); err != nil {
			return fmt.Errorf("lock selections: %w", err)
		}
		res, err := conn.ExecContext(ctx, `
			UPDATE nominations n SET votes = r.counted
			FROM (
				SELECT n2.id, count(s.ballot_id) AS counted
				FROM nominations n2
				LEFT JOIN ballot_selections s ON s.nomination_id = n2.id
				GROUP BY n2.id
			) r
			WHERE n.id = r.id AND n.votes <> r.counted
		`)
		if err != nil {
			return fmt.Errorf("repair counters: %w", err)
		}
		repaired, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, postgres.Classify(err)
	}
	return int(repaired), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBallot(row scanner) (*models.Ballot, error) {
	var (
		b  models.Ballot
		id uuid.UUID
		at time.Time
	)
	if err := row.Scan(&id, &b.VoterEmail, &b.VoterName, &b.VoterMembership, &b.IdempotencyKey,
		&b.SourceAddress, &b.UserAgent, &at); err != nil {
		return nil, err
	}
	b.ID = domain.BallotID(id)
	b.SubmittedAt = at.UTC()
	b.Selections = make(map[domain.Position]domain.NominationID)
	return &b, nil
}

func attachSelections(rows *sql.Rows, byID map[domain.BallotID]*models.Ballot) error {
	defer rows.Close()
	for rows.Next() {
		var (
			ballotID, nominationID uuid.UUID
			position               string
		)
		if err := rows.Scan(&ballotID, &position, &nominationID); err != nil {
			return fmt.Errorf("scan selection: %w", err)
		}
		if b, ok := byID[domain.BallotID(ballotID)]; ok {
			b.Selections[domain.Position(position)] = domain.NominationID(nominationID)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate selections: %w", postgres.Classify(err))
	}
	return nil
}
