package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a session or template does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrDuplicateRosterStudent is returned when a student is added to a
	// roster they already belong to.
	ErrDuplicateRosterStudent = errors.New("student already in roster")
)

// Session is a single instructor-run attendance-taking period. A nil
// EndedAt means the session is active; the only transition is
// active -> ended and it is irreversible.
type Session struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	CreatedBy          string     `json:"created_by"`
	CreatedAt          time.Time  `json:"created_at"`
	EndedAt            *time.Time `json:"ended_at"`
	ExpirationSeconds  int        `json:"expiration_seconds"`
	RecurringSessionID *string    `json:"recurring_session_id,omitempty"`
}

// Open reports whether the session still accepts attendance.
func (s *Session) Open() bool {
	return s != nil && s.EndedAt == nil
}

// WithCreator is a session joined with its creator for admin listings.
type WithCreator struct {
	Session
	CreatorName  string `json:"creator_name"`
	CreatorEmail string `json:"creator_email"`
}

// Recurring is a reusable template with a persistent student roster, used
// to spawn new sessions.
type Recurring struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// RecurringWithCount is a template joined with its roster size.
type RecurringWithCount struct {
	Recurring
	StudentCount int `json:"student_count"`
}

// RosterStudent is a roster membership row joined with the student.
type RosterStudent struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Email   string    `json:"email"`
	AddedAt time.Time `json:"added_at"`
}

// RosterEntry is one (user, roster) pair for a bulk roster write.
type RosterEntry struct {
	UserID string
}

// Store persists sessions, recurring templates, and rosters.
type Store interface {
	Create(ctx context.Context, s Session) (Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	List(ctx context.Context) ([]WithCreator, error)
	End(ctx context.Context, id string, at time.Time) (*Session, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	CountByRecurring(ctx context.Context, recurringID string) (int, error)

	// CreateRecurring inserts a template and its initial roster in one
	// transaction; the count is the number of distinct students inserted.
	CreateRecurring(ctx context.Context, r Recurring, entries []RosterEntry) (Recurring, int, error)
	GetRecurring(ctx context.Context, id string) (*Recurring, error)
	ListRecurring(ctx context.Context) ([]RecurringWithCount, error)
	DeleteRecurring(ctx context.Context, id string) error

	Roster(ctx context.Context, recurringID string) ([]RosterStudent, error)
	// ReplaceRoster atomically swaps the full membership list.
	ReplaceRoster(ctx context.Context, recurringID string, entries []RosterEntry) error
	AddRosterStudent(ctx context.Context, recurringID, userID string) error
}
