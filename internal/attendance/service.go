package attendance

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/metrics"
	"rollcall/internal/queue"
	"rollcall/internal/session"
	"rollcall/internal/user"
)

// Service coordinates the code issue -> validate -> record flow plus
// manual marking and excusals.
type Service struct {
	store         Store
	sessions      session.Store
	users         user.Store
	events        queue.Queue
	validationTTL time.Duration
}

// NewService creates a service backed by the given stores. events may be
// nil; published messages are best-effort either way.
func NewService(store Store, sessions session.Store, users user.Store, events queue.Queue, validationTTL time.Duration) *Service {
	if validationTTL <= 0 {
		validationTTL = 5 * time.Minute
	}
	return &Service{
		store:         store,
		sessions:      sessions,
		users:         users,
		events:        events,
		validationTTL: validationTTL,
	}
}

// IssueCode mints a fresh random code for a session; its expiry follows
// the session's configured interval. Callers poll once per interval.
func (s *Service) IssueCode(ctx context.Context, sessionID string) (Code, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return Code{}, err
	}
	if sess == nil {
		return Code{}, session.ErrNotFound
	}
	now := time.Now().UTC()
	code, err := s.store.InsertCode(ctx, Code{
		SessionID: sessionID,
		Code:      uuid.NewString(),
		ExpiresAt: now.Add(time.Duration(sess.ExpirationSeconds) * time.Second),
		CreatedAt: now,
	})
	if err != nil {
		return Code{}, err
	}
	metrics.CodesIssued.Inc()
	return code, nil
}

// VerifyCode checks a submitted code without issuing a credential.
func (s *Service) VerifyCode(ctx context.Context, submitted string) error {
	if submitted == "" {
		return ErrCodeInvalid
	}
	code, err := s.store.FindActiveCode(ctx, submitted, time.Now().UTC())
	if err != nil {
		return err
	}
	if code == nil {
		return ErrCodeInvalid
	}
	return nil
}

// Validate checks a submitted code (full or short form) and mints a
// one-time validation token for the follow-up record call.
func (s *Service) Validate(ctx context.Context, submitted string) (Validation, error) {
	if submitted == "" {
		return Validation{}, ErrCodeInvalid
	}
	now := time.Now().UTC()
	code, err := s.store.FindActiveCode(ctx, submitted, now)
	if err != nil {
		return Validation{}, err
	}
	if code == nil {
		metrics.CodeValidations.WithLabelValues("rejected").Inc()
		return Validation{}, ErrCodeInvalid
	}
	v := Validation{
		ID:        uuid.NewString(),
		CodeID:    code.ID,
		ExpiresAt: now.Add(s.validationTTL),
	}
	if err := s.store.InsertValidation(ctx, v); err != nil {
		return Validation{}, err
	}
	metrics.CodeValidations.WithLabelValues("ok").Inc()
	return v, nil
}

// RecordWithToken consumes a validation token and marks the caller
// present. The token is deleted in the same transaction as the insert.
func (s *Service) RecordWithToken(ctx context.Context, token, submitted, email string) (Record, error) {
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return Record{}, err
	}
	if u == nil {
		return Record{}, user.ErrNotFound
	}
	rec, err := s.store.Record(ctx, token, submitted, u.ID, time.Now().UTC())
	if err != nil {
		return Record{}, err
	}
	metrics.RecordsMarked.WithLabelValues("code").Inc()
	s.publishRecorded(ctx, rec.SessionID)
	return rec, nil
}

// ManualMark marks a student present by name, creating the user when
// absent. Bypasses code validation entirely.
func (s *Service) ManualMark(ctx context.Context, sessionID, name string) (Record, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return Record{}, err
	}
	if !sess.Open() {
		return Record{}, ErrSessionClosed
	}

	u, err := s.users.FindByName(ctx, name)
	if err != nil {
		return Record{}, err
	}
	if u == nil {
		created, err := s.users.Create(ctx, user.User{Name: name})
		if err != nil {
			return Record{}, err
		}
		u = &created
	}

	rec, err := s.store.InsertRecord(ctx, Record{UserID: u.ID, SessionID: sessionID})
	if err != nil {
		return Record{}, err
	}
	metrics.RecordsMarked.WithLabelValues("manual").Inc()
	s.publishRecorded(ctx, sessionID)
	return rec, nil
}

// Excuse records an excused absence. Fails when the student already has a
// record for the session.
func (s *Service) Excuse(ctx context.Context, sessionID, userID string) (Record, error) {
	present, err := s.store.HasRecord(ctx, userID, sessionID)
	if err != nil {
		return Record{}, err
	}
	if present {
		return Record{}, ErrAlreadyPresent
	}
	rec, err := s.store.InsertRecord(ctx, Record{UserID: userID, SessionID: sessionID, IsExcused: true})
	if err != nil {
		if errors.Is(err, ErrAlreadyMarked) {
			return Record{}, ErrAlreadyPresent
		}
		return Record{}, err
	}
	metrics.RecordsMarked.WithLabelValues("excused").Inc()
	s.publishRecorded(ctx, sessionID)
	return rec, nil
}

// Attendees lists a session's attendance, newest first.
func (s *Service) Attendees(ctx context.Context, sessionID string) ([]Attendee, error) {
	return s.store.Attendees(ctx, sessionID)
}

// StudentHistory lists the sessions a student attended.
func (s *Service) StudentHistory(ctx context.Context, email string) ([]HistoryEntry, error) {
	return s.store.StudentHistory(ctx, email)
}

// StudentStats aggregates a student's attendance behavior.
func (s *Service) StudentStats(ctx context.Context, email string) (StudentStats, error) {
	return s.store.StudentStats(ctx, email)
}

func (s *Service) publishRecorded(ctx context.Context, sessionID string) {
	if s.events == nil {
		return
	}
	msg := queue.Message{Type: queue.TypeAttendanceRecorded, Body: []byte(sessionID)}
	if err := s.events.Publish(ctx, msg); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
}
