package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists sessions in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a session, filling id and created_at when absent.
func (r *Repository) Create(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, created_by, created_at, expiration_seconds, recurring_session_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.ID, s.Name, s.CreatedBy, s.CreatedAt, s.ExpirationSeconds, s.RecurringSessionID)
	if err != nil {
		return Session{}, err
	}
	return s, nil
}

// Get returns a session by id, or nil when absent.
func (r *Repository) Get(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, created_by, created_at, ended_at, expiration_seconds, recurring_session_id
		FROM sessions WHERE id = $1
	`, id)
	var s Session
	if err := row.Scan(&s.ID, &s.Name, &s.CreatedBy, &s.CreatedAt, &s.EndedAt, &s.ExpirationSeconds, &s.RecurringSessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// List returns all sessions with their creator, newest first.
func (r *Repository) List(ctx context.Context) ([]WithCreator, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.name, s.created_by, s.created_at, s.ended_at, s.expiration_seconds, s.recurring_session_id,
		       u.name, u.email
		FROM sessions s
		JOIN users u ON s.created_by = u.id
		ORDER BY s.created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []WithCreator
	for rows.Next() {
		var s WithCreator
		if err := rows.Scan(&s.ID, &s.Name, &s.CreatedBy, &s.CreatedAt, &s.EndedAt, &s.ExpirationSeconds,
			&s.RecurringSessionID, &s.CreatorName, &s.CreatorEmail); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// End sets ended_at and returns the updated session, or nil when absent.
// Ending an already-ended session leaves the original timestamp in place.
func (r *Repository) End(ctx context.Context, id string, at time.Time) (*Session, error) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET ended_at = $2 WHERE id = $1 AND ended_at IS NULL
	`, id, at)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// Delete removes a session; its codes and records go with it.
func (r *Repository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

// Count counts all sessions.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count)
	return count, err
}

// CountByRecurring counts sessions spawned from a template.
func (r *Repository) CountByRecurring(ctx context.Context, recurringID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions WHERE recurring_session_id = $1
	`, recurringID).Scan(&count)
	return count, err
}

// CreateRecurring inserts a template together with its initial roster.
// Both run in one transaction; a failed roster insert rolls back the
// template so no partial state persists.
func (r *Repository) CreateRecurring(ctx context.Context, rec Recurring, entries []RosterEntry) (Recurring, int, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Recurring{}, 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO recurring_sessions (id, name, created_by, created_at)
		VALUES ($1, $2, $3, $4)
	`, rec.ID, rec.Name, rec.CreatedBy, rec.CreatedAt); err != nil {
		return Recurring{}, 0, err
	}

	count := 0
	for _, e := range entries {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO roster_students (id, recurring_session_id, user_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (recurring_session_id, user_id) DO NOTHING
		`, uuid.NewString(), rec.ID, e.UserID)
		if err != nil {
			return Recurring{}, 0, err
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			count++
		}
	}

	if err := tx.Commit(); err != nil {
		return Recurring{}, 0, err
	}
	return rec, count, nil
}

// GetRecurring returns a template by id, or nil when absent.
func (r *Repository) GetRecurring(ctx context.Context, id string) (*Recurring, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, created_by, created_at FROM recurring_sessions WHERE id = $1
	`, id)
	var rec Recurring
	if err := row.Scan(&rec.ID, &rec.Name, &rec.CreatedBy, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// ListRecurring returns all templates with roster sizes, newest first.
func (r *Repository) ListRecurring(ctx context.Context) ([]RecurringWithCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rs.id, rs.name, rs.created_by, rs.created_at, COUNT(DISTINCT rst.user_id)
		FROM recurring_sessions rs
		LEFT JOIN roster_students rst ON rs.id = rst.recurring_session_id
		GROUP BY rs.id
		ORDER BY rs.created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []RecurringWithCount
	for rows.Next() {
		var rec RecurringWithCount
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.CreatedBy, &rec.CreatedAt, &rec.StudentCount); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// DeleteRecurring removes a template and its roster.
func (r *Repository) DeleteRecurring(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM recurring_sessions WHERE id = $1`, id)
	return err
}

// Roster returns roster members ordered by student name.
func (r *Repository) Roster(ctx context.Context, recurringID string) ([]RosterStudent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.id, u.name, u.email, rst.added_at
		FROM roster_students rst
		JOIN users u ON rst.user_id = u.id
		WHERE rst.recurring_session_id = $1
		ORDER BY u.name
	`, recurringID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []RosterStudent
	for rows.Next() {
		var s RosterStudent
		if err := rows.Scan(&s.ID, &s.Name, &s.Email, &s.AddedAt); err != nil {
			return nil, err
		}
		students = append(students, s)
	}
	return students, rows.Err()
}

// ReplaceRoster swaps the full membership list in one transaction.
func (r *Repository) ReplaceRoster(ctx context.Context, recurringID string, entries []RosterEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM roster_students WHERE recurring_session_id = $1
	`, recurringID); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO roster_students (id, recurring_session_id, user_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (recurring_session_id, user_id) DO NOTHING
		`, uuid.NewString(), recurringID, e.UserID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AddRosterStudent adds one student to a roster.
func (r *Repository) AddRosterStudent(ctx context.Context, recurringID, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO roster_students (id, recurring_session_id, user_id)
		VALUES ($1, $2, $3)
	`, uuid.NewString(), recurringID, userID)
	if isUniqueViolation(err) {
		return ErrDuplicateRosterStudent
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
