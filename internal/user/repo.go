package user

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository persists users in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a user, filling in id and created_at when absent.
func (r *Repository) Create(ctx context.Context, u User) (User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, is_admin, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.Email, u.Name, u.IsAdmin, u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// FindByEmail returns the user with the given email, or nil when absent.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.findOne(ctx, `
		SELECT id, email, name, is_admin, created_at
		FROM users WHERE email = $1 AND email <> ''
	`, email)
}

// FindByName returns a user by exact name, or nil when absent.
func (r *Repository) FindByName(ctx context.Context, name string) (*User, error) {
	return r.findOne(ctx, `
		SELECT id, email, name, is_admin, created_at
		FROM users WHERE name = $1
		LIMIT 1
	`, name)
}

func (r *Repository) findOne(ctx context.Context, query string, args ...any) (*User, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.IsAdmin, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// UpdateName renames a user.
func (r *Repository) UpdateName(ctx context.Context, id, name string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET name = $2 WHERE id = $1`, id, name)
	return err
}

// Promote grants admin rights, keeping the stored name when none is given.
func (r *Repository) Promote(ctx context.Context, email, name string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET is_admin = TRUE, name = COALESCE(NULLIF($2, ''), name)
		WHERE email = $1
	`, email, name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Demote revokes admin rights.
func (r *Repository) Demote(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET is_admin = FALSE WHERE email = $1`, email)
	return err
}

// ListAdmins returns all admins with the number of sessions each started.
func (r *Repository) ListAdmins(ctx context.Context) ([]AdminSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.email, u.name, COUNT(DISTINCT s.id) AS sessions_started
		FROM users u
		LEFT JOIN sessions s ON u.id = s.created_by
		WHERE u.is_admin = TRUE
		GROUP BY u.id, u.email, u.name
		ORDER BY u.email
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var admins []AdminSummary
	for rows.Next() {
		var a AdminSummary
		if err := rows.Scan(&a.Email, &a.Name, &a.SessionsStarted); err != nil {
			return nil, err
		}
		admins = append(admins, a)
	}
	return admins, rows.Err()
}

// CountStudents counts non-admin users.
func (r *Repository) CountStudents(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE is_admin = FALSE`).Scan(&count)
	return count, err
}
