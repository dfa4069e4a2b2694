package attendance_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/memstore"
	"rollcall/internal/queue"
	"rollcall/internal/session"
	"rollcall/internal/user"
)

type fixture struct {
	store   *memstore.Store
	svc     *attendance.Service
	student user.User
	sess    session.Session
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	ms := memstore.New()

	admin, err := ms.Create(ctx, user.User{Email: "teacher@example.com", Name: "Teacher", IsAdmin: true})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	student, err := ms.Create(ctx, user.User{Email: "student@example.com", Name: "Student One"})
	if err != nil {
		t.Fatalf("create student: %v", err)
	}
	sess, err := ms.Sessions().Create(ctx, session.Session{
		Name:              "Lecture 1",
		CreatedBy:         admin.ID,
		ExpirationSeconds: 10,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	svc := attendance.NewService(ms.Records(), ms.Sessions(), ms, queue.NewInMemory(16), 5*time.Minute)
	return &fixture{store: ms, svc: svc, student: student, sess: sess}
}

func TestIssueCode(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	code, err := f.svc.IssueCode(ctx, f.sess.ID)
	if err != nil {
		t.Fatalf("issue code: %v", err)
	}
	if code.Code == "" {
		t.Error("expected non-empty code")
	}
	if code.SessionID != f.sess.ID {
		t.Errorf("session_id = %q, want %q", code.SessionID, f.sess.ID)
	}
	want := code.CreatedAt.Add(10 * time.Second)
	if !code.ExpiresAt.Equal(want) {
		t.Errorf("expires_at = %v, want %v", code.ExpiresAt, want)
	}
	if got := attendance.DisplaySuffix(code.Code); len(got) != attendance.SuffixLen {
		t.Errorf("suffix = %q, want %d chars", got, attendance.SuffixLen)
	}
}

func TestIssueCodeUnknownSession(t *testing.T) {
	f := setup(t)

	_, err := f.svc.IssueCode(context.Background(), "missing")
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("err = %v, want session.ErrNotFound", err)
	}
}

func TestValidateAndRecord(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	code, err := f.svc.IssueCode(ctx, f.sess.ID)
	if err != nil {
		t.Fatalf("issue code: %v", err)
	}
	v, err := f.svc.Validate(ctx, code.Code)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if v.ID == "" || v.CodeID != code.ID {
		t.Fatalf("validation = %+v, want code_id %q", v, code.ID)
	}

	rec, err := f.svc.RecordWithToken(ctx, v.ID, code.Code, f.student.Email)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.UserID != f.student.ID || rec.SessionID != f.sess.ID {
		t.Errorf("record = %+v", rec)
	}
	if rec.CodeID == nil || *rec.CodeID != code.ID {
		t.Error("expected record to reference the code")
	}

	attendees, err := f.svc.Attendees(ctx, f.sess.ID)
	if err != nil {
		t.Fatalf("attendees: %v", err)
	}
	if len(attendees) != 1 || attendees[0].UserEmail != f.student.Email {
		t.Errorf("attendees = %+v", attendees)
	}
}

func TestTokenConsumedExactlyOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	code, _ := f.svc.IssueCode(ctx, f.sess.ID)
	v, _ := f.svc.Validate(ctx, code.Code)

	if _, err := f.svc.RecordWithToken(ctx, v.ID, code.Code, f.student.Email); err != nil {
		t.Fatalf("first record: %v", err)
	}
	_, err := f.svc.RecordWithToken(ctx, v.ID, code.Code, f.student.Email)
	if !errors.Is(err, attendance.ErrValidationInvalid) {
		t.Fatalf("second record err = %v, want ErrValidationInvalid", err)
	}
}

func TestSecondValidationAlreadyMarked(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	code, _ := f.svc.IssueCode(ctx, f.sess.ID)
	v1, _ := f.svc.Validate(ctx, code.Code)
	if _, err := f.svc.RecordWithToken(ctx, v1.ID, code.Code, f.student.Email); err != nil {
		t.Fatalf("first record: %v", err)
	}

	v2, err := f.svc.Validate(ctx, code.Code)
	if err != nil {
		t.Fatalf("second validate: %v", err)
	}
	_, err = f.svc.RecordWithToken(ctx, v2.ID, code.Code, f.student.Email)
	if !errors.Is(err, attendance.ErrAlreadyMarked) {
		t.Fatalf("err = %v, want ErrAlreadyMarked", err)
	}
}

func TestValidateShortCodeCaseInsensitive(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	code, _ := f.svc.IssueCode(ctx, f.sess.ID)
	suffix := attendance.DisplaySuffix(code.Code)

	for _, submitted := range []string{suffix, strings.ToLower(suffix)} {
		v, err := f.svc.Validate(ctx, submitted)
		if err != nil {
			t.Fatalf("validate %q: %v", submitted, err)
		}
		if v.CodeID != code.ID {
			t.Errorf("validate %q matched code %q, want %q", submitted, v.CodeID, code.ID)
		}
	}
}

func TestRecordWithShortCode(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	code, _ := f.svc.IssueCode(ctx, f.sess.ID)
	suffix := strings.ToLower(attendance.DisplaySuffix(code.Code))

	v, err := f.svc.Validate(ctx, suffix)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := f.svc.RecordWithToken(ctx, v.ID, suffix, f.student.Email); err != nil {
		t.Fatalf("record with suffix: %v", err)
	}
}

func TestExpiredCodeRejected(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	expired, err := f.store.Records().InsertCode(ctx, attendance.Code{
		SessionID: f.sess.ID,
		Code:      "expired-code-token",
		ExpiresAt: time.Now().UTC().Add(-time.Second),
	})
	if err != nil {
		t.Fatalf("insert code: %v", err)
	}

	_, err = f.svc.Validate(ctx, expired.Code)
	if !errors.Is(err, attendance.ErrCodeInvalid) {
		t.Fatalf("err = %v, want ErrCodeInvalid", err)
	}
	if err := f.svc.VerifyCode(ctx, expired.Code); !errors.Is(err, attendance.ErrCodeInvalid) {
		t.Fatalf("verify err = %v, want ErrCodeInvalid", err)
	}
}

func TestEndedSessionCodesUnvalidatable(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	code, _ := f.svc.IssueCode(ctx, f.sess.ID)
	if _, err := f.store.Sessions().End(ctx, f.sess.ID, time.Now().UTC()); err != nil {
		t.Fatalf("end session: %v", err)
	}

	// Code is unexpired but its session is closed.
	_, err := f.svc.Validate(ctx, code.Code)
	if !errors.Is(err, attendance.ErrCodeInvalid) {
		t.Fatalf("err = %v, want ErrCodeInvalid", err)
	}
}

func TestSessionEndedBetweenValidateAndRecord(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	code, _ := f.svc.IssueCode(ctx, f.sess.ID)
	v, _ := f.svc.Validate(ctx, code.Code)
	if _, err := f.store.Sessions().End(ctx, f.sess.ID, time.Now().UTC()); err != nil {
		t.Fatalf("end session: %v", err)
	}

	_, err := f.svc.RecordWithToken(ctx, v.ID, code.Code, f.student.Email)
	if !errors.Is(err, attendance.ErrSessionEnded) {
		t.Fatalf("err = %v, want ErrSessionEnded", err)
	}
}

func TestDeleteSessionRemovesCodesAndRecords(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	code, _ := f.svc.IssueCode(ctx, f.sess.ID)
	v, _ := f.svc.Validate(ctx, code.Code)
	if _, err := f.svc.RecordWithToken(ctx, v.ID, code.Code, f.student.Email); err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := f.store.Sessions().Delete(ctx, f.sess.ID); err != nil {
		t.Fatalf("delete session: %v", err)
	}

	attendees, err := f.svc.Attendees(ctx, f.sess.ID)
	if err != nil {
		t.Fatalf("attendees: %v", err)
	}
	if len(attendees) != 0 {
		t.Errorf("expected no orphan records, got %+v", attendees)
	}
	if _, err := f.svc.Validate(ctx, code.Code); !errors.Is(err, attendance.ErrCodeInvalid) {
		t.Errorf("expected code gone after delete, err = %v", err)
	}
}

func TestManualMarkCreatesUser(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rec, err := f.svc.ManualMark(ctx, f.sess.ID, "Walk In")
	if err != nil {
		t.Fatalf("manual mark: %v", err)
	}
	if rec.CodeID != nil {
		t.Error("manual record should not reference a code")
	}

	created, err := f.store.FindByName(ctx, "Walk In")
	if err != nil || created == nil {
		t.Fatalf("expected user created, got %v, %v", created, err)
	}
	if created.IsAdmin {
		t.Error("manually created student must not be admin")
	}

	_, err = f.svc.ManualMark(ctx, f.sess.ID, "Walk In")
	if !errors.Is(err, attendance.ErrAlreadyMarked) {
		t.Fatalf("duplicate manual mark err = %v, want ErrAlreadyMarked", err)
	}
}

func TestManualMarkEndedSession(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	if _, err := f.store.Sessions().End(ctx, f.sess.ID, time.Now().UTC()); err != nil {
		t.Fatalf("end session: %v", err)
	}
	_, err := f.svc.ManualMark(ctx, f.sess.ID, "Latecomer")
	if !errors.Is(err, attendance.ErrSessionClosed) {
		t.Fatalf("err = %v, want ErrSessionClosed", err)
	}
}

func TestExcuse(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rec, err := f.svc.Excuse(ctx, f.sess.ID, f.student.ID)
	if err != nil {
		t.Fatalf("excuse: %v", err)
	}
	if !rec.IsExcused {
		t.Error("expected is_excused record")
	}
}

func TestExcusePresentStudentFails(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	code, _ := f.svc.IssueCode(ctx, f.sess.ID)
	v, _ := f.svc.Validate(ctx, code.Code)
	if _, err := f.svc.RecordWithToken(ctx, v.ID, code.Code, f.student.Email); err != nil {
		t.Fatalf("record: %v", err)
	}

	_, err := f.svc.Excuse(ctx, f.sess.ID, f.student.ID)
	if !errors.Is(err, attendance.ErrAlreadyPresent) {
		t.Fatalf("err = %v, want ErrAlreadyPresent", err)
	}
}

func TestRecordUnknownUser(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	code, _ := f.svc.IssueCode(ctx, f.sess.ID)
	v, _ := f.svc.Validate(ctx, code.Code)

	_, err := f.svc.RecordWithToken(ctx, v.ID, code.Code, "ghost@example.com")
	if !errors.Is(err, user.ErrNotFound) {
		t.Fatalf("err = %v, want user.ErrNotFound", err)
	}
}

func TestStudentHistoryAndStats(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// Tuesday 2026-08-25 09:00 UTC; the student arrives 5 minutes in.
	start := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	sess, err := f.store.Sessions().Create(ctx, session.Session{
		Name:              "Morning Lecture",
		CreatedAt:         start,
		ExpirationSeconds: 30,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := f.store.Records().InsertRecord(ctx, attendance.Record{
		UserID:    f.student.ID,
		SessionID: sess.ID,
		Timestamp: start.Add(5 * time.Minute),
	}); err != nil {
		t.Fatalf("insert record: %v", err)
	}
	if _, err := f.store.Sessions().End(ctx, sess.ID, start.Add(time.Hour)); err != nil {
		t.Fatalf("end session: %v", err)
	}

	history, err := f.svc.StudentHistory(ctx, f.student.Email)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].SessionName != "Morning Lecture" {
		t.Fatalf("history = %+v", history)
	}

	stats, err := f.svc.StudentStats(ctx, f.student.Email)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	// f.sess from setup is still open, so only the ended session counts.
	if stats.TotalSessions != 1 || stats.AttendedSessions != 1 {
		t.Errorf("sessions = %d/%d, want 1/1", stats.AttendedSessions, stats.TotalSessions)
	}
	if stats.AttendanceRate != 1 {
		t.Errorf("rate = %v, want 1", stats.AttendanceRate)
	}
	if stats.AverageArrivalMinutes != 5 {
		t.Errorf("arrival = %d, want 5", stats.AverageArrivalMinutes)
	}
	if len(stats.AttendanceByWeekday) != 7 {
		t.Fatalf("weekdays = %d, want 7", len(stats.AttendanceByWeekday))
	}
	if got := stats.AttendanceByWeekday[2]; got.Name != "Tuesday" || got.Count != 1 {
		t.Errorf("tuesday = %+v, want count 1", got)
	}
	if len(stats.AttendanceTimeline) != 1 || stats.AttendanceTimeline[0].Date != "2026-08-25" {
		t.Errorf("timeline = %+v", stats.AttendanceTimeline)
	}
}

func TestDisplaySuffix(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"0b8e7a3c-0000-4000-8000-3f2a1bc9de42", "C9DE42"},
		{"abc", "ABC"},
		{"abcdef", "ABCDEF"},
	}
	for _, tt := range tests {
		if got := attendance.DisplaySuffix(tt.code); got != tt.want {
			t.Errorf("DisplaySuffix(%q) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
