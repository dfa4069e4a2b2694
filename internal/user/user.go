package user

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no user.
var ErrNotFound = errors.New("user not found")

// User is an authenticated identity (student or admin). Students marked
// manually by an instructor may carry an empty email.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// AdminSummary is an admin row with the number of sessions they started.
type AdminSummary struct {
	Email           string `json:"email"`
	Name            string `json:"name"`
	SessionsStarted int    `json:"sessions_started"`
}

// Store persists users.
type Store interface {
	Create(ctx context.Context, u User) (User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByName(ctx context.Context, name string) (*User, error)
	UpdateName(ctx context.Context, id, name string) error
	// Promote grants admin to an existing user; a non-empty name replaces
	// the stored one.
	Promote(ctx context.Context, email, name string) error
	Demote(ctx context.Context, email string) error
	ListAdmins(ctx context.Context) ([]AdminSummary, error)
	CountStudents(ctx context.Context) (int, error)
}
