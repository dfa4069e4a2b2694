package analytics_test

import (
	"context"
	"testing"
	"time"

	"rollcall/internal/analytics"
	"rollcall/internal/attendance"
	"rollcall/internal/memstore"
	"rollcall/internal/session"
	"rollcall/internal/user"
)

func TestSummary(t *testing.T) {
	ctx := context.Background()
	ms := memstore.New()

	admin, _ := ms.Create(ctx, user.User{Email: "teacher@example.com", Name: "Teacher", IsAdmin: true})
	s1, _ := ms.Create(ctx, user.User{Email: "a@example.com", Name: "Student A"})
	s2, _ := ms.Create(ctx, user.User{Email: "b@example.com", Name: "Student B"})

	var sessions []session.Session
	for _, name := range []string{"Week 1", "Week 2", "Week 3"} {
		sess, err := ms.Sessions().Create(ctx, session.Session{Name: name, CreatedBy: admin.ID, ExpirationSeconds: 30})
		if err != nil {
			t.Fatalf("create session: %v", err)
		}
		sessions = append(sessions, sess)
	}

	// Week 1: both attend. Week 2: one. Week 3: no records at all.
	for _, uid := range []string{s1.ID, s2.ID} {
		if _, err := ms.Records().InsertRecord(ctx, attendance.Record{UserID: uid, SessionID: sessions[0].ID}); err != nil {
			t.Fatalf("insert record: %v", err)
		}
	}
	if _, err := ms.Records().InsertRecord(ctx, attendance.Record{UserID: s1.ID, SessionID: sessions[1].ID}); err != nil {
		t.Fatalf("insert record: %v", err)
	}

	svc := analytics.NewService(ms.Sessions(), ms, ms.Records(), nil, time.Minute)
	sum, err := svc.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}

	if sum.TotalSessions != 3 {
		t.Errorf("totalSessions = %d, want 3", sum.TotalSessions)
	}
	// Admins are excluded from the student count.
	if sum.TotalStudents != 2 {
		t.Errorf("totalStudents = %d, want 2", sum.TotalStudents)
	}
	// (2 + 1) / 2 sessions with records, rounded.
	if sum.AverageAttendance != 2 {
		t.Errorf("averageAttendance = %d, want 2", sum.AverageAttendance)
	}

	if len(sum.AttendanceOverTime) != 3 {
		t.Fatalf("attendanceOverTime len = %d, want 3", len(sum.AttendanceOverTime))
	}
	// Oldest first.
	want := []attendance.SessionAttendance{
		{Name: "Week 1", Attendance: 2},
		{Name: "Week 2", Attendance: 1},
		{Name: "Week 3", Attendance: 0},
	}
	for i, w := range want {
		if sum.AttendanceOverTime[i] != w {
			t.Errorf("attendanceOverTime[%d] = %+v, want %+v", i, sum.AttendanceOverTime[i], w)
		}
	}
}

func TestSummaryEmpty(t *testing.T) {
	ms := memstore.New()
	svc := analytics.NewService(ms.Sessions(), ms, ms.Records(), nil, time.Minute)

	sum, err := svc.Summary(context.Background())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalSessions != 0 || sum.TotalStudents != 0 || sum.AverageAttendance != 0 {
		t.Errorf("summary = %+v, want zeroes", sum)
	}
}
