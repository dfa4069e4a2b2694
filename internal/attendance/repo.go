package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// InsertCode writes a freshly minted code.
func (r *Repository) InsertCode(ctx context.Context, c Code) (Code, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_codes (id, session_id, code, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.SessionID, c.Code, c.ExpiresAt, c.CreatedAt)
	if err != nil {
		return Code{}, err
	}
	return c, nil
}

// FindActiveCode matches full codes exactly and short submissions by
// case-insensitive suffix, newest code first.
func (r *Repository) FindActiveCode(ctx context.Context, submitted string, now time.Time) (*Code, error) {
	match := `ac.code = $1`
	if len(submitted) == SuffixLen {
		match = fmt.Sprintf(`LOWER(RIGHT(ac.code, %d)) = LOWER($1)`, SuffixLen)
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT ac.id, ac.session_id, ac.code, ac.expires_at, ac.created_at
		FROM attendance_codes ac
		JOIN sessions s ON ac.session_id = s.id
		WHERE `+match+`
		AND ac.expires_at > $2
		AND s.ended_at IS NULL
		ORDER BY ac.created_at DESC
		LIMIT 1
	`, submitted, now)
	var c Code
	if err := row.Scan(&c.ID, &c.SessionID, &c.Code, &c.ExpiresAt, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// InsertValidation writes a one-time validation token.
func (r *Repository) InsertValidation(ctx context.Context, v Validation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO code_validations (id, code_id, expires_at)
		VALUES ($1, $2, $3)
	`, v.ID, v.CodeID, v.ExpiresAt)
	return err
}

// Record consumes a validation token and inserts the attendance row.
// Every statement runs in one transaction; any failure rolls back.
func (r *Repository) Record(ctx context.Context, token, submitted, userID string, now time.Time) (Record, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT cv.code_id, ac.code, ac.session_id
		FROM code_validations cv
		JOIN attendance_codes ac ON cv.code_id = ac.id
		WHERE cv.id = $1 AND cv.expires_at > $2
	`, token, now)
	var codeID, code, sessionID string
	if err := row.Scan(&codeID, &code, &sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrValidationInvalid
		}
		return Record{}, err
	}
	if !codeMatches(code, submitted) {
		return Record{}, ErrValidationInvalid
	}

	var endedAt *time.Time
	if err := tx.QueryRowContext(ctx, `
		SELECT ended_at FROM sessions WHERE id = $1
	`, sessionID).Scan(&endedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrSessionEnded
		}
		return Record{}, err
	}
	if endedAt != nil {
		return Record{}, ErrSessionEnded
	}

	rec := Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		CodeID:    &codeID,
		Timestamp: now,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_records (id, user_id, session_id, code_id, timestamp)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ID, rec.UserID, rec.SessionID, rec.CodeID, rec.Timestamp); err != nil {
		if isUniqueViolation(err) {
			return Record{}, ErrAlreadyMarked
		}
		return Record{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM code_validations WHERE id = $1
	`, token); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func codeMatches(code, submitted string) bool {
	if len(submitted) == SuffixLen {
		return strings.EqualFold(DisplaySuffix(code), submitted)
	}
	return code == submitted
}

// InsertRecord writes a manual or excused record directly.
func (r *Repository) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, user_id, session_id, code_id, timestamp, is_excused)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.UserID, rec.SessionID, rec.CodeID, rec.Timestamp, rec.IsExcused)
	if isUniqueViolation(err) {
		return Record{}, ErrAlreadyMarked
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// HasRecord reports whether a (user, session) record exists.
func (r *Repository) HasRecord(ctx context.Context, userID, sessionID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance_records WHERE user_id = $1 AND session_id = $2
		)
	`, userID, sessionID).Scan(&exists)
	return exists, err
}

// Attendees lists a session's records joined with students, newest first.
func (r *Repository) Attendees(ctx context.Context, sessionID string) ([]Attendee, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.name, u.email, ar.timestamp, ar.is_excused
		FROM attendance_records ar
		JOIN users u ON ar.user_id = u.id
		WHERE ar.session_id = $1
		ORDER BY ar.timestamp DESC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attendees []Attendee
	for rows.Next() {
		var a Attendee
		if err := rows.Scan(&a.UserName, &a.UserEmail, &a.Timestamp, &a.IsExcused); err != nil {
			return nil, err
		}
		attendees = append(attendees, a)
	}
	return attendees, rows.Err()
}

// StudentHistory lists the sessions a student attended, newest first.
func (r *Repository) StudentHistory(ctx context.Context, email string) ([]HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.name, s.created_at, ar.timestamp
		FROM attendance_records ar
		JOIN sessions s ON ar.session_id = s.id
		JOIN users u ON ar.user_id = u.id
		WHERE u.email = $1
		ORDER BY ar.timestamp DESC
	`, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.SessionName, &h.SessionDate, &h.Timestamp); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// StudentStats aggregates one student's attendance behavior.
func (r *Repository) StudentStats(ctx context.Context, email string) (StudentStats, error) {
	var stats StudentStats

	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions WHERE ended_at IS NOT NULL
	`).Scan(&stats.TotalSessions); err != nil {
		return StudentStats{}, err
	}

	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT ar.session_id)
		FROM attendance_records ar
		JOIN users u ON ar.user_id = u.id
		WHERE u.email = $1
	`, email).Scan(&stats.AttendedSessions); err != nil {
		return StudentStats{}, err
	}
	if stats.TotalSessions > 0 {
		stats.AttendanceRate = float64(stats.AttendedSessions) / float64(stats.TotalSessions)
	}

	var avgMinutes float64
	if err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (ar.timestamp - s.created_at)) / 60), 0)
		FROM attendance_records ar
		JOIN sessions s ON ar.session_id = s.id
		JOIN users u ON ar.user_id = u.id
		WHERE u.email = $1
	`, email).Scan(&avgMinutes); err != nil {
		return StudentStats{}, err
	}
	stats.AverageArrivalMinutes = int(math.Round(avgMinutes))

	weekdayRows, err := r.db.QueryContext(ctx, `
		SELECT EXTRACT(DOW FROM ar.timestamp)::int AS dow, COUNT(*)
		FROM attendance_records ar
		JOIN users u ON ar.user_id = u.id
		WHERE u.email = $1
		GROUP BY dow
		ORDER BY dow
	`, email)
	if err != nil {
		return StudentStats{}, err
	}
	defer weekdayRows.Close()
	counts := make(map[int]int)
	for weekdayRows.Next() {
		var dow, count int
		if err := weekdayRows.Scan(&dow, &count); err != nil {
			return StudentStats{}, err
		}
		counts[dow] = count
	}
	if err := weekdayRows.Err(); err != nil {
		return StudentStats{}, err
	}
	stats.AttendanceByWeekday = FillWeekdays(counts)

	timelineRows, err := r.db.QueryContext(ctx, `
		SELECT TO_CHAR(DATE(ar.timestamp), 'YYYY-MM-DD'), COUNT(*)
		FROM attendance_records ar
		JOIN users u ON ar.user_id = u.id
		WHERE u.email = $1
		GROUP BY DATE(ar.timestamp)
		ORDER BY 1
	`, email)
	if err != nil {
		return StudentStats{}, err
	}
	defer timelineRows.Close()
	for timelineRows.Next() {
		var p TimelinePoint
		if err := timelineRows.Scan(&p.Date, &p.Attended); err != nil {
			return StudentStats{}, err
		}
		stats.AttendanceTimeline = append(stats.AttendanceTimeline, p)
	}
	return stats, timelineRows.Err()
}

// AverageAttendance is the mean distinct-attendee count across sessions
// that have at least one record, rounded.
func (r *Repository) AverageAttendance(ctx context.Context) (int, error) {
	var avg int
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(ROUND(AVG(cnt)), 0)::int
		FROM (
			SELECT COUNT(DISTINCT user_id) AS cnt
			FROM attendance_records
			GROUP BY session_id
		) per_session
	`).Scan(&avg)
	return avg, err
}

// AttendanceOverTime returns attendee counts for the most recent sessions,
// oldest first.
func (r *Repository) AttendanceOverTime(ctx context.Context, limit int) ([]SessionAttendance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, attendance FROM (
			SELECT s.name, COUNT(DISTINCT a.user_id) AS attendance, s.created_at
			FROM sessions s
			LEFT JOIN attendance_records a ON s.id = a.session_id
			GROUP BY s.id, s.name, s.created_at
			ORDER BY s.created_at DESC
			LIMIT $1
		) recent
		ORDER BY created_at ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []SessionAttendance
	for rows.Next() {
		var sa SessionAttendance
		if err := rows.Scan(&sa.Name, &sa.Attendance); err != nil {
			return nil, err
		}
		res = append(res, sa)
	}
	return res, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// FillWeekdays expands a DOW-indexed count map (0 = Sunday) into the full
// seven-day list, zero-filled.
func FillWeekdays(counts map[int]int) []WeekdayCount {
	names := []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}
	out := make([]WeekdayCount, len(names))
	for i, name := range names {
		out[i] = WeekdayCount{Name: name, Count: counts[i]}
	}
	return out
}
