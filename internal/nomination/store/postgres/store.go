package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"hustings/internal/nomination/models"
	"hustings/internal/platform/postgres"
	"hustings/pkg/domain"
	"hustings/pkg/platform/sentinel"
	txcontext "hustings/pkg/platform/tx"
)

// PostgresStore persists nominations in the nominations table. The votes
// column is written only by the ballot ledger.
type PostgresStore struct {
	db *sql.DB
}

func New(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectColumns = `
	id, first_name, surname, email, phone, job_title, organization, position,
	qualifications, biography, biography_link, profile_image, attachments,
	nominator_first_name, nominator_surname, nominator_email, nominator_phone,
	nominator_membership, self_nominated, status, acceptance_status,
	acceptance_token, votes, submitted_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, n *models.Nomination) error {
	quals, err := json.Marshal(orEmpty(n.Nominee.Qualifications))
	if err != nil {
		return fmt.Errorf("encode qualifications: %w", err)
	}
	atts, err := json.Marshal(orEmpty(n.Nominee.Attachments))
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}
	_, err = txcontext.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO nominations (`+selectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		        $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`,
		uuid.UUID(n.ID), n.Nominee.FirstName, n.Nominee.Surname, n.Nominee.Email, n.Nominee.Phone,
		n.Nominee.JobTitle, n.Nominee.Organization, string(n.Nominee.Position),
		string(quals), n.Nominee.Biography, n.Nominee.BiographyLink, n.Nominee.ProfileImage, string(atts),
		n.Nominator.FirstName, n.Nominator.Surname, n.Nominator.Email, n.Nominator.Phone,
		n.Nominator.Membership, n.Nominator.SelfNominated, string(n.Status), string(n.AcceptanceStatus),
		nullString(n.AcceptanceToken), n.Votes, n.SubmittedAt, n.UpdatedAt,
	)
	if err != nil {
		if _, ok := postgres.IsUniqueViolation(err); ok {
			return fmt.Errorf("nomination %s: %w", n.ID, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert nomination: %w", postgres.Classify(err))
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.NominationID) (*models.Nomination, error) {
	row := txcontext.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM nominations WHERE id = $1`, uuid.UUID(id))
	n, err := scanNomination(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find nomination: %w", postgres.Classify(err))
	}
	return n, nil
}

func (s *PostgresStore) List(ctx context.Context, filter models.Filter) ([]*models.Nomination, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Position != "" {
		add("position = $%d", string(filter.Position))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.Acceptance != "" {
		add("acceptance_status = $%d", string(filter.Acceptance))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		add("(first_name || ' ' || surname || ' ' || organization) ILIKE $%d", "%"+escapeLike(q)+"%")
	}
	query := `SELECT ` + selectColumns + ` FROM nominations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY submitted_at DESC, id`

	rows, err := txcontext.Conn(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list nominations: %w", postgres.Classify(err))
	}
	defer rows.Close()

	var out []*models.Nomination
	for rows.Next() {
		n, err := scanNomination(rows)
		if err != nil {
			return nil, fmt.Errorf("scan nomination: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nominations: %w", postgres.Classify(err))
	}
	return out, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id domain.NominationID, from, to models.Status, at time.Time) error {
	res, err := txcontext.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE nominations SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, uuid.UUID(id), string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("update nomination status: %w", postgres.Classify(err))
	}
	return s.conditional(ctx, res, id)
}

func (s *PostgresStore) UpdateAcceptance(ctx context.Context, id domain.NominationID, from, to models.Acceptance, at time.Time) error {
	res, err := txcontext.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE nominations SET acceptance_status = $3, updated_at = $4
		WHERE id = $1 AND acceptance_status = $2
	`, uuid.UUID(id), string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("update nomination acceptance: %w", postgres.Classify(err))
	}
	return s.conditional(ctx, res, id)
}

// SetAcceptanceTokenIfAbsent writes token only when the column is NULL and
// returns whichever token is stored afterwards.
func (s *PostgresStore) SetAcceptanceTokenIfAbsent(ctx context.Context, id domain.NominationID, token string, at time.Time) (string, error) {
	var stored string
	err := txcontext.Conn(ctx, s.db).QueryRowContext(ctx, `
		UPDATE nominations SET acceptance_token = $2, updated_at = $3
		WHERE id = $1 AND acceptance_token IS NULL
		RETURNING acceptance_token
	`, uuid.UUID(id), token, at).Scan(&stored)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("set acceptance token: %w", postgres.Classify(err))
	}
	var existing sql.NullString
	err = txcontext.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT acceptance_token FROM nominations WHERE id = $1`, uuid.UUID(id)).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return "", sentinel.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read acceptance token: %w", postgres.Classify(err))
	}
	return existing.String, nil
}

// conditional turns a zero-row conditional update into ErrNotFound or
// ErrConflict depending on whether the row exists.
func (s *PostgresStore) conditional(ctx context.Context, res sql.Result, id domain.NominationID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists bool
	err = txcontext.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM nominations WHERE id = $1)`, uuid.UUID(id)).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check nomination: %w", postgres.Classify(err))
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrConflict
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNomination(row scanner) (*models.Nomination, error) {
	var (
		n        models.Nomination
		id       uuid.UUID
		position string
		status   string
		accept   string
		token    sql.NullString
		quals    []byte
		atts     []byte
	)
	err := row.Scan(
		&id, &n.Nominee.FirstName, &n.Nominee.Surname, &n.Nominee.Email, &n.Nominee.Phone,
		&n.Nominee.JobTitle, &n.Nominee.Organization, &position,
		&quals, &n.Nominee.Biography, &n.Nominee.BiographyLink, &n.Nominee.ProfileImage, &atts,
		&n.Nominator.FirstName, &n.Nominator.Surname, &n.Nominator.Email, &n.Nominator.Phone,
		&n.Nominator.Membership, &n.Nominator.SelfNominated, &status, &accept,
		&token, &n.Votes, &n.SubmittedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	n.ID = domain.NominationID(id)
	n.Nominee.Position = domain.Position(position)
	n.Status = models.Status(status)
	n.AcceptanceStatus = models.Acceptance(accept)
	n.AcceptanceToken = token.String
	if len(quals) > 0 {
		if err := json.Unmarshal(quals, &n.Nominee.Qualifications); err != nil {
			return nil, fmt.Errorf("decode qualifications: %w", err)
		}
	}
	if len(atts) > 0 {
		if err := json.Unmarshal(atts, &n.Nominee.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments: %w", err)
		}
	}
	return &n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func orEmpty[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
