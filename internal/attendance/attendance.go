package attendance

import (
	"context"
	"errors"
	"strings"
	"time"
)

// SuffixLen is the length of the human-typed short code shown next to the
// QR image: the tail of the full code, uppercased.
const SuffixLen = 6

var (
	// ErrCodeInvalid covers unknown, expired, and ended-session codes.
	ErrCodeInvalid = errors.New("invalid or expired code")
	// ErrValidationInvalid covers unknown or expired validation tokens and
	// token/code mismatches.
	ErrValidationInvalid = errors.New("invalid or expired validation")
	// ErrSessionEnded is returned when the session closed between
	// validation and recording.
	ErrSessionEnded = errors.New("session ended")
	// ErrSessionClosed is returned when marking against an ended session.
	ErrSessionClosed = errors.New("invalid or ended session")
	// ErrAlreadyMarked is returned on a duplicate attendance insert.
	ErrAlreadyMarked = errors.New("attendance already marked")
	// ErrAlreadyPresent is returned when excusing a student who already
	// has an attendance record.
	ErrAlreadyPresent = errors.New("student is already marked as present")
)

// Code is a short-lived random token identifying the active session,
// displayed as text/QR. Codes are never updated, only superseded.
type Code struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// DisplaySuffix returns the short form students type by hand.
func DisplaySuffix(code string) string {
	if len(code) < SuffixLen {
		return strings.ToUpper(code)
	}
	return strings.ToUpper(code[len(code)-SuffixLen:])
}

// Validation is a one-time credential proving a code was checked. It is
// consumed exactly once when attendance is recorded.
type Validation struct {
	ID        string    `json:"id"`
	CodeID    string    `json:"code_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Record is one student's presence (or excused absence) in a session.
// CodeID is nil for manual and excused entries.
type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	CodeID    *string   `json:"code_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	IsExcused bool      `json:"is_excused"`
}

// Attendee is a record joined with the student for admin listings.
type Attendee struct {
	UserName  string    `json:"user_name"`
	UserEmail string    `json:"user_email"`
	Timestamp time.Time `json:"timestamp"`
	IsExcused bool      `json:"is_excused"`
}

// HistoryEntry is one attended session in a student's history.
type HistoryEntry struct {
	SessionName string    `json:"session_name"`
	SessionDate time.Time `json:"session_date"`
	Timestamp   time.Time `json:"timestamp"`
}

// WeekdayCount is attendance tallied for one day of the week.
type WeekdayCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TimelinePoint is attendance tallied for one calendar day.
type TimelinePoint struct {
	Date     string `json:"date"`
	Attended int    `json:"attended"`
}

// StudentStats summarizes one student's attendance behavior.
type StudentStats struct {
	TotalSessions         int             `json:"totalSessions"`
	AttendedSessions      int             `json:"attendedSessions"`
	AttendanceRate        float64         `json:"attendanceRate"`
	AverageArrivalMinutes int             `json:"averageArrivalMinutes"`
	AttendanceByWeekday   []WeekdayCount  `json:"attendanceByWeekday"`
	AttendanceTimeline    []TimelinePoint `json:"attendanceTimeline"`
}

// SessionAttendance is the distinct-attendee count for one session.
type SessionAttendance struct {
	Name       string `json:"name"`
	Attendance int    `json:"attendance"`
}

// Store persists codes, validations, and attendance records.
type Store interface {
	InsertCode(ctx context.Context, c Code) (Code, error)
	// FindActiveCode matches a submitted code (full, or SuffixLen-char
	// case-insensitive suffix) that is unexpired and belongs to an open
	// session. Returns nil when nothing matches.
	FindActiveCode(ctx context.Context, submitted string, now time.Time) (*Code, error)
	InsertValidation(ctx context.Context, v Validation) error
	// Record consumes a validation token and inserts the attendance row in
	// a single transaction. The submitted code is re-checked against the
	// token's code. Returns ErrValidationInvalid, ErrSessionEnded, or
	// ErrAlreadyMarked on the corresponding failures.
	Record(ctx context.Context, token, submitted, userID string, now time.Time) (Record, error)
	// InsertRecord writes a record directly (manual marks and excusals).
	// Returns ErrAlreadyMarked when the (user, session) pair exists.
	InsertRecord(ctx context.Context, rec Record) (Record, error)
	HasRecord(ctx context.Context, userID, sessionID string) (bool, error)
	Attendees(ctx context.Context, sessionID string) ([]Attendee, error)

	StudentHistory(ctx context.Context, email string) ([]HistoryEntry, error)
	StudentStats(ctx context.Context, email string) (StudentStats, error)
	AverageAttendance(ctx context.Context) (int, error)
	AttendanceOverTime(ctx context.Context, limit int) ([]SessionAttendance, error)
}
