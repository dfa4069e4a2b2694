package session_test

import (
	"context"
	"errors"
	"testing"

	"rollcall/internal/memstore"
	"rollcall/internal/session"
	"rollcall/internal/user"
)

func TestFormatName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Ada Lovelace", "Ada Lovelace"},
		{"Ada", "Ada"},
		{"Ada Byron King Lovelace", "Ada Lovelace"},
		{"  Grace   Brewster Murray Hopper  ", "Grace Hopper"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := session.FormatName(tt.in); got != tt.want {
			t.Errorf("FormatName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseStudentLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want *session.StudentInfo
	}{
		{"tab separated", "Ada Lovelace\tada@example.com", &session.StudentInfo{Name: "Ada Lovelace", Email: "ada@example.com"}},
		{"angle brackets", "Ada Lovelace <ada@example.com>", &session.StudentInfo{Name: "Ada Lovelace", Email: "ada@example.com"}},
		{"comma separated", "Ada Lovelace,ada@example.com", &session.StudentInfo{Name: "Ada Lovelace", Email: "ada@example.com"}},
		{"comma with space", "Ada Lovelace, ada@example.com", &session.StudentInfo{Name: "Ada Lovelace", Email: "ada@example.com"}},
		{"long name collapsed", "Ada Byron King Lovelace\tada@example.com", &session.StudentInfo{Name: "Ada Lovelace", Email: "ada@example.com"}},
		{"bare name", "Ada Lovelace", nil},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := session.ParseStudentLine(tt.line)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("ParseStudentLine(%q) = %v, want %v", tt.line, got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Errorf("ParseStudentLine(%q) = %+v, want %+v", tt.line, *got, *tt.want)
			}
		})
	}
}

func newService(t *testing.T) (*session.Service, *memstore.Store, user.User) {
	t.Helper()
	ms := memstore.New()
	admin, err := ms.Create(context.Background(), user.User{Email: "teacher@example.com", Name: "Teacher", IsAdmin: true})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	return session.NewService(ms.Sessions(), ms), ms, admin
}

func TestCreateRequiresNameAndExpiry(t *testing.T) {
	svc, _, admin := newService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "", 30, admin.ID); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := svc.Create(ctx, "Lecture", 0, admin.ID); err == nil {
		t.Error("expected error for zero expiry")
	}
}

func TestEndIsOneWay(t *testing.T) {
	svc, _, admin := newService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "Lecture", 30, admin.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := svc.End(ctx, sess.ID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if first.EndedAt == nil {
		t.Fatal("expected ended_at set")
	}
	second, err := svc.End(ctx, sess.ID)
	if err != nil {
		t.Fatalf("second end: %v", err)
	}
	if !second.EndedAt.Equal(*first.EndedAt) {
		t.Errorf("ended_at changed on second end: %v vs %v", second.EndedAt, first.EndedAt)
	}

	if _, err := svc.End(ctx, "missing"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("end missing err = %v, want ErrNotFound", err)
	}
}

func TestCreateRecurringSeedsRoster(t *testing.T) {
	svc, ms, admin := newService(t)
	ctx := context.Background()

	lines := []string{
		"Ada Lovelace\tada@example.com",
		"Grace Hopper <grace@example.com>",
		"not a roster line",
		"Ada Lovelace\tada@example.com", // duplicate, skipped
	}
	rec, err := svc.CreateRecurring(ctx, "CS 101", lines, admin.ID)
	if err != nil {
		t.Fatalf("create recurring: %v", err)
	}
	if rec.StudentCount != 2 {
		t.Errorf("student count = %d, want 2", rec.StudentCount)
	}

	roster, err := svc.Roster(ctx, rec.ID)
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if len(roster) != 2 {
		t.Fatalf("roster size = %d, want 2", len(roster))
	}

	ada, err := ms.FindByEmail(ctx, "ada@example.com")
	if err != nil || ada == nil {
		t.Fatalf("expected ada created, got %v, %v", ada, err)
	}
	if ada.IsAdmin {
		t.Error("roster student must not be admin")
	}
}

// flakyUsers fails user creation after a set number of inserts.
type flakyUsers struct {
	user.Store
	failAfter int
	creates   int
}

func (f *flakyUsers) Create(ctx context.Context, u user.User) (user.User, error) {
	f.creates++
	if f.creates > f.failAfter {
		return user.User{}, errors.New("insert failed")
	}
	return f.Store.Create(ctx, u)
}

func TestCreateRecurringFailureLeavesNoTemplate(t *testing.T) {
	ms := memstore.New()
	svc := session.NewService(ms.Sessions(), &flakyUsers{Store: ms, failAfter: 1})
	ctx := context.Background()

	_, err := svc.CreateRecurring(ctx, "CS 101", []string{
		"Ada Lovelace\tada@example.com",
		"Grace Hopper\tgrace@example.com",
	}, "admin-id")
	if err == nil {
		t.Fatal("expected error from failing user insert")
	}

	templates, err := svc.ListRecurring(ctx)
	if err != nil {
		t.Fatalf("list recurring: %v", err)
	}
	if len(templates) != 0 {
		t.Errorf("templates = %+v, want none after failed create", templates)
	}
}

func TestRewriteRosterUpdatesNames(t *testing.T) {
	svc, ms, admin := newService(t)
	ctx := context.Background()

	rec, err := svc.CreateRecurring(ctx, "CS 101", []string{"Ada Lovelace\tada@example.com"}, admin.ID)
	if err != nil {
		t.Fatalf("create recurring: %v", err)
	}
	before, _ := ms.FindByEmail(ctx, "ada@example.com")

	roster, err := svc.RewriteRoster(ctx, rec.ID, []string{
		"Ada Byron\tada@example.com",
		"Grace Hopper\tgrace@example.com",
	})
	if err != nil {
		t.Fatalf("rewrite roster: %v", err)
	}
	if len(roster) != 2 {
		t.Fatalf("roster size = %d, want 2", len(roster))
	}

	after, _ := ms.FindByEmail(ctx, "ada@example.com")
	if after.ID != before.ID {
		t.Error("rewrite should keep the existing user id")
	}
	if after.Name != "Ada Byron" {
		t.Errorf("name = %q, want %q", after.Name, "Ada Byron")
	}
}

func TestAddToRosterDuplicate(t *testing.T) {
	svc, ms, admin := newService(t)
	ctx := context.Background()

	rec, err := svc.CreateRecurring(ctx, "CS 101", nil, admin.ID)
	if err != nil {
		t.Fatalf("create recurring: %v", err)
	}
	student, _ := ms.Create(ctx, user.User{Name: "Ada Lovelace", Email: "ada@example.com"})

	if _, err := svc.AddToRoster(ctx, rec.ID, student.ID); err != nil {
		t.Fatalf("add: %v", err)
	}
	_, err = svc.AddToRoster(ctx, rec.ID, student.ID)
	if !errors.Is(err, session.ErrDuplicateRosterStudent) {
		t.Fatalf("err = %v, want ErrDuplicateRosterStudent", err)
	}
}

func TestStartFromRecurringNumbersSessions(t *testing.T) {
	svc, _, admin := newService(t)
	ctx := context.Background()

	rec, err := svc.CreateRecurring(ctx, "CS 101", nil, admin.ID)
	if err != nil {
		t.Fatalf("create recurring: %v", err)
	}

	first, err := svc.StartFromRecurring(ctx, rec.ID, "CS 101", 30, admin.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if first.Name != "CS 101 1" {
		t.Errorf("first name = %q, want %q", first.Name, "CS 101 1")
	}
	second, err := svc.StartFromRecurring(ctx, rec.ID, "CS 101", 30, admin.ID)
	if err != nil {
		t.Fatalf("start second: %v", err)
	}
	if second.Name != "CS 101 2" {
		t.Errorf("second name = %q, want %q", second.Name, "CS 101 2")
	}
	if second.RecurringSessionID == nil || *second.RecurringSessionID != rec.ID {
		t.Error("expected session linked to template")
	}

	if _, err := svc.StartFromRecurring(ctx, "missing", "CS 101", 30, admin.ID); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
