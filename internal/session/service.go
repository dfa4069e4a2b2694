package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"rollcall/internal/user"
)

// StudentInfo is one parsed roster line.
type StudentInfo struct {
	Name  string
	Email string
}

var angleRe = regexp.MustCompile(`^([^<]+)<([^>]+)>`)

// FormatName collapses names longer than two words to "First Last".
func FormatName(fullName string) string {
	names := strings.Fields(strings.TrimSpace(fullName))
	if len(names) <= 2 {
		return strings.TrimSpace(fullName)
	}
	return names[0] + " " + names[len(names)-1]
}

// ParseStudentLine extracts name and email from one pasted roster line.
// Accepted shapes: tab-separated, "Name <email>", and comma-separated.
func ParseStudentLine(line string) *StudentInfo {
	if parts := strings.Split(line, "\t"); len(parts) >= 2 {
		return &StudentInfo{Name: FormatName(parts[0]), Email: strings.TrimSpace(parts[1])}
	}
	if m := angleRe.FindStringSubmatch(line); m != nil {
		return &StudentInfo{Name: FormatName(m[1]), Email: strings.TrimSpace(m[2])}
	}
	if parts := strings.Split(line, ","); len(parts) >= 2 {
		return &StudentInfo{Name: FormatName(parts[0]), Email: strings.TrimSpace(parts[1])}
	}
	return nil
}

// Service coordinates session lifecycle, recurring templates, and rosters.
type Service struct {
	store Store
	users user.Store
}

// NewService creates a service backed by the given stores.
func NewService(store Store, users user.Store) *Service {
	return &Service{store: store, users: users}
}

// Create starts a new attendance session.
func (s *Service) Create(ctx context.Context, name string, expirationSeconds int, createdBy string) (Session, error) {
	if name == "" || expirationSeconds <= 0 {
		return Session{}, errors.New("name and expiration seconds required")
	}
	return s.store.Create(ctx, Session{
		Name:              name,
		CreatedBy:         createdBy,
		ExpirationSeconds: expirationSeconds,
	})
}

// Get returns a session or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	return sess, nil
}

// List returns all sessions with creators, newest first.
func (s *Service) List(ctx context.Context) ([]WithCreator, error) {
	return s.store.List(ctx)
}

// End closes a session. The transition is one-way; an already-ended
// session keeps its original ended_at.
func (s *Service) End(ctx context.Context, id string) (*Session, error) {
	sess, err := s.store.End(ctx, id, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Delete removes a session together with its codes and records.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// CreateRecurring creates a template and seeds its roster from pasted
// student lines. Students are upserted first; the template and roster
// rows then land in a single transaction, so a mid-batch failure leaves
// no partial template behind. Unparseable lines are skipped.
func (s *Service) CreateRecurring(ctx context.Context, name string, studentLines []string, createdBy string) (RecurringWithCount, error) {
	if name == "" {
		return RecurringWithCount{}, errors.New("name is required")
	}

	var entries []RosterEntry
	for _, line := range studentLines {
		info := ParseStudentLine(line)
		if info == nil {
			continue
		}
		u, err := s.findOrCreateStudent(ctx, info)
		if err != nil {
			return RecurringWithCount{}, err
		}
		entries = append(entries, RosterEntry{UserID: u.ID})
	}

	rec, count, err := s.store.CreateRecurring(ctx, Recurring{Name: name, CreatedBy: createdBy}, entries)
	if err != nil {
		return RecurringWithCount{}, err
	}
	return RecurringWithCount{Recurring: rec, StudentCount: count}, nil
}

// GetRecurring returns a template or ErrNotFound.
func (s *Service) GetRecurring(ctx context.Context, id string) (*Recurring, error) {
	rec, err := s.store.GetRecurring(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// ListRecurring returns all templates with roster sizes.
func (s *Service) ListRecurring(ctx context.Context) ([]RecurringWithCount, error) {
	return s.store.ListRecurring(ctx)
}

// DeleteRecurring removes a template and its roster.
func (s *Service) DeleteRecurring(ctx context.Context, id string) error {
	return s.store.DeleteRecurring(ctx, id)
}

// Roster lists members of a template's roster.
func (s *Service) Roster(ctx context.Context, recurringID string) ([]RosterStudent, error) {
	return s.store.Roster(ctx, recurringID)
}

// RewriteRoster replaces the full roster from pasted student lines.
// Existing users keep their id; their name is refreshed from the line.
func (s *Service) RewriteRoster(ctx context.Context, recurringID string, studentLines []string) ([]RosterStudent, error) {
	var entries []RosterEntry
	for _, line := range studentLines {
		info := ParseStudentLine(line)
		if info == nil {
			continue
		}
		u, err := s.users.FindByEmail(ctx, info.Email)
		if err != nil {
			return nil, err
		}
		if u == nil {
			created, err := s.users.Create(ctx, user.User{Name: info.Name, Email: info.Email})
			if err != nil {
				return nil, err
			}
			u = &created
		} else if u.Name != info.Name {
			if err := s.users.UpdateName(ctx, u.ID, info.Name); err != nil {
				return nil, err
			}
		}
		entries = append(entries, RosterEntry{UserID: u.ID})
	}
	if err := s.store.ReplaceRoster(ctx, recurringID, entries); err != nil {
		return nil, err
	}
	return s.store.Roster(ctx, recurringID)
}

// AddToRoster adds a single existing user to a roster.
func (s *Service) AddToRoster(ctx context.Context, recurringID, userID string) ([]RosterStudent, error) {
	if err := s.store.AddRosterStudent(ctx, recurringID, userID); err != nil {
		return nil, err
	}
	return s.store.Roster(ctx, recurringID)
}

// StartFromRecurring spawns a numbered session from a template.
func (s *Service) StartFromRecurring(ctx context.Context, recurringID, name string, expirationSeconds int, createdBy string) (Session, error) {
	if name == "" || expirationSeconds <= 0 {
		return Session{}, errors.New("name and expiration seconds required")
	}
	rec, err := s.store.GetRecurring(ctx, recurringID)
	if err != nil {
		return Session{}, err
	}
	if rec == nil {
		return Session{}, ErrNotFound
	}
	count, err := s.store.CountByRecurring(ctx, recurringID)
	if err != nil {
		return Session{}, err
	}
	return s.store.Create(ctx, Session{
		Name:               fmt.Sprintf("%s %d", name, count+1),
		CreatedBy:          createdBy,
		ExpirationSeconds:  expirationSeconds,
		RecurringSessionID: &recurringID,
	})
}

func (s *Service) findOrCreateStudent(ctx context.Context, info *StudentInfo) (*user.User, error) {
	u, err := s.users.FindByEmail(ctx, info.Email)
	if err != nil {
		return nil, err
	}
	if u != nil {
		return u, nil
	}
	if u, err = s.users.FindByName(ctx, info.Name); err != nil {
		return nil, err
	}
	if u != nil {
		return u, nil
	}
	created, err := s.users.Create(ctx, user.User{Name: info.Name, Email: info.Email})
	if err != nil {
		return nil, err
	}
	return &created, nil
}
