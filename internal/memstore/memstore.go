// Package memstore is an in-memory implementation of the user, session,
// and attendance stores. It backs service and handler tests and mirrors
// the relational constraints of the Postgres schema, including the unique
// (user, session) attendance index and delete cascades.
package memstore

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/attendance"
	"rollcall/internal/session"
	"rollcall/internal/user"
)

// Store holds every table behind one lock.
type Store struct {
	mu sync.RWMutex

	users       map[string]user.User
	sessions    map[string]sessionRow
	recurrings  map[string]session.Recurring
	rosters     map[string]rosterRow
	codes       map[string]codeRow
	validations map[string]attendance.Validation
	records     map[string]attendance.Record

	seq int64
}

type sessionRow struct {
	session.Session
	seq int64
}

type rosterRow struct {
	id          string
	recurringID string
	userID      string
	addedAt     time.Time
}

type codeRow struct {
	attendance.Code
	seq int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:       make(map[string]user.User),
		sessions:    make(map[string]sessionRow),
		recurrings:  make(map[string]session.Recurring),
		rosters:     make(map[string]rosterRow),
		codes:       make(map[string]codeRow),
		validations: make(map[string]attendance.Validation),
		records:     make(map[string]attendance.Record),
	}
}

func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

// --- user.Store ---

// Create inserts a user.
func (s *Store) Create(ctx context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users[u.ID] = u
	return u, nil
}

// FindByEmail returns the user with the given email, or nil.
func (s *Store) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if email == "" {
		return nil, nil
	}
	for _, u := range s.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

// FindByName returns a user by exact name, or nil.
func (s *Store) FindByName(ctx context.Context, name string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Name == name {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

// UpdateName renames a user.
func (s *Store) UpdateName(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return user.ErrNotFound
	}
	u.Name = name
	s.users[id] = u
	return nil
}

// Promote grants admin to an existing user.
func (s *Store) Promote(ctx context.Context, email, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, u := range s.users {
		if u.Email == email && email != "" {
			u.IsAdmin = true
			if name != "" {
				u.Name = name
			}
			s.users[id] = u
			return nil
		}
	}
	return user.ErrNotFound
}

// Demote revokes admin rights.
func (s *Store) Demote(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, u := range s.users {
		if u.Email == email {
			u.IsAdmin = false
			s.users[id] = u
		}
	}
	return nil
}

// ListAdmins returns admins with session counts.
func (s *Store) ListAdmins(ctx context.Context) ([]user.AdminSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var admins []user.AdminSummary
	for _, u := range s.users {
		if !u.IsAdmin {
			continue
		}
		count := 0
		for _, row := range s.sessions {
			if row.CreatedBy == u.ID {
				count++
			}
		}
		admins = append(admins, user.AdminSummary{Email: u.Email, Name: u.Name, SessionsStarted: count})
	}
	sort.Slice(admins, func(i, j int) bool { return admins[i].Email < admins[j].Email })
	return admins, nil
}

// CountStudents counts non-admin users.
func (s *Store) CountStudents(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, u := range s.users {
		if !u.IsAdmin {
			count++
		}
	}
	return count, nil
}

// --- session.Store ---

// createSession inserts a session; callers hold the lock.
func (s *Store) createSession(sess session.Session) session.Session {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	s.sessions[sess.ID] = sessionRow{Session: sess, seq: s.nextSeq()}
	return sess
}

// Sessions exposes the store as a session.Store.
func (s *Store) Sessions() session.Store { return sessionStore{s} }

type sessionStore struct{ *Store }

func (s sessionStore) Create(ctx context.Context, sess session.Session) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createSession(sess), nil
}

func (s sessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	sess := row.Session
	return &sess, nil
}

func (s sessionStore) List(ctx context.Context) ([]session.WithCreator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]sessionRow, 0, len(s.sessions))
	for _, row := range s.sessions {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq > rows[j].seq })

	res := make([]session.WithCreator, 0, len(rows))
	for _, row := range rows {
		creator := s.users[row.CreatedBy]
		res = append(res, session.WithCreator{
			Session:      row.Session,
			CreatorName:  creator.Name,
			CreatorEmail: creator.Email,
		})
	}
	return res, nil
}

func (s sessionStore) End(ctx context.Context, id string, at time.Time) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	if row.EndedAt == nil {
		at := at
		row.EndedAt = &at
		s.sessions[id] = row
	}
	sess := row.Session
	return &sess, nil
}

func (s sessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	for cid, c := range s.codes {
		if c.SessionID == id {
			delete(s.codes, cid)
			for vid, v := range s.validations {
				if v.CodeID == cid {
					delete(s.validations, vid)
				}
			}
		}
	}
	for rid, r := range s.records {
		if r.SessionID == id {
			delete(s.records, rid)
		}
	}
	return nil
}

func (s sessionStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}

func (s sessionStore) CountByRecurring(ctx context.Context, recurringID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, row := range s.sessions {
		if row.RecurringSessionID != nil && *row.RecurringSessionID == recurringID {
			count++
		}
	}
	return count, nil
}

func (s sessionStore) CreateRecurring(ctx context.Context, rec session.Recurring, entries []session.RosterEntry) (session.Recurring, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.recurrings[rec.ID] = rec
	count := 0
	for _, e := range entries {
		if s.addRosterLocked(rec.ID, e.UserID) {
			count++
		}
	}
	return rec, count, nil
}

func (s sessionStore) GetRecurring(ctx context.Context, id string) (*session.Recurring, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recurrings[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s sessionStore) ListRecurring(ctx context.Context) ([]session.RecurringWithCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []session.RecurringWithCount
	for _, rec := range s.recurrings {
		count := 0
		for _, row := range s.rosters {
			if row.recurringID == rec.ID {
				count++
			}
		}
		res = append(res, session.RecurringWithCount{Recurring: rec, StudentCount: count})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (s sessionStore) DeleteRecurring(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recurrings, id)
	for rid, row := range s.rosters {
		if row.recurringID == id {
			delete(s.rosters, rid)
		}
	}
	return nil
}

func (s sessionStore) Roster(ctx context.Context, recurringID string) ([]session.RosterStudent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var students []session.RosterStudent
	for _, row := range s.rosters {
		if row.recurringID != recurringID {
			continue
		}
		u := s.users[row.userID]
		students = append(students, session.RosterStudent{
			ID:      u.ID,
			Name:    u.Name,
			Email:   u.Email,
			AddedAt: row.addedAt,
		})
	}
	sort.Slice(students, func(i, j int) bool { return students[i].Name < students[j].Name })
	return students, nil
}

func (s sessionStore) ReplaceRoster(ctx context.Context, recurringID string, entries []session.RosterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for rid, row := range s.rosters {
		if row.recurringID == recurringID {
			delete(s.rosters, rid)
		}
	}
	for _, e := range entries {
		s.addRosterLocked(recurringID, e.UserID)
	}
	return nil
}

func (s sessionStore) AddRosterStudent(ctx context.Context, recurringID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rosters {
		if row.recurringID == recurringID && row.userID == userID {
			return session.ErrDuplicateRosterStudent
		}
	}
	s.addRosterLocked(recurringID, userID)
	return nil
}

func (s *Store) addRosterLocked(recurringID, userID string) bool {
	for _, row := range s.rosters {
		if row.recurringID == recurringID && row.userID == userID {
			return false
		}
	}
	id := uuid.NewString()
	s.rosters[id] = rosterRow{id: id, recurringID: recurringID, userID: userID, addedAt: time.Now().UTC()}
	return true
}

// --- attendance.Store ---

// Records exposes the store as an attendance.Store.
func (s *Store) Records() attendance.Store { return recordStore{s} }

type recordStore struct{ *Store }

func (s recordStore) InsertCode(ctx context.Context, c attendance.Code) (attendance.Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.codes[c.ID] = codeRow{Code: c, seq: s.nextSeq()}
	return c, nil
}

func (s recordStore) FindActiveCode(ctx context.Context, submitted string, now time.Time) (*attendance.Code, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *codeRow
	for _, row := range s.codes {
		row := row
		if !matches(row.Code.Code, submitted) {
			continue
		}
		if !row.ExpiresAt.After(now) {
			continue
		}
		sess, ok := s.sessions[row.SessionID]
		if !ok || sess.EndedAt != nil {
			continue
		}
		if best == nil || row.seq > best.seq {
			best = &row
		}
	}
	if best == nil {
		return nil, nil
	}
	c := best.Code
	return &c, nil
}

func matches(code, submitted string) bool {
	if len(submitted) == attendance.SuffixLen {
		return strings.EqualFold(attendance.DisplaySuffix(code), submitted)
	}
	return code == submitted
}

func (s recordStore) InsertValidation(ctx context.Context, v attendance.Validation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validations[v.ID] = v
	return nil
}

func (s recordStore) Record(ctx context.Context, token, submitted, userID string, now time.Time) (attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.validations[token]
	if !ok || !v.ExpiresAt.After(now) {
		return attendance.Record{}, attendance.ErrValidationInvalid
	}
	code, ok := s.codes[v.CodeID]
	if !ok || !matches(code.Code.Code, submitted) {
		return attendance.Record{}, attendance.ErrValidationInvalid
	}
	sess, ok := s.sessions[code.SessionID]
	if !ok || sess.EndedAt != nil {
		return attendance.Record{}, attendance.ErrSessionEnded
	}
	if s.hasRecordLocked(userID, code.SessionID) {
		return attendance.Record{}, attendance.ErrAlreadyMarked
	}
	codeID := code.ID
	rec := attendance.Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: code.SessionID,
		CodeID:    &codeID,
		Timestamp: now,
	}
	s.records[rec.ID] = rec
	delete(s.validations, token)
	return rec, nil
}

func (s recordStore) InsertRecord(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasRecordLocked(rec.UserID, rec.SessionID) {
		return attendance.Record{}, attendance.ErrAlreadyMarked
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	s.records[rec.ID] = rec
	return rec, nil
}

func (s *Store) hasRecordLocked(userID, sessionID string) bool {
	for _, r := range s.records {
		if r.UserID == userID && r.SessionID == sessionID {
			return true
		}
	}
	return false
}

func (s recordStore) HasRecord(ctx context.Context, userID, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasRecordLocked(userID, sessionID), nil
}

func (s recordStore) Attendees(ctx context.Context, sessionID string) ([]attendance.Attendee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var attendees []attendance.Attendee
	for _, r := range s.records {
		if r.SessionID != sessionID {
			continue
		}
		u := s.users[r.UserID]
		attendees = append(attendees, attendance.Attendee{
			UserName:  u.Name,
			UserEmail: u.Email,
			Timestamp: r.Timestamp,
			IsExcused: r.IsExcused,
		})
	}
	sort.Slice(attendees, func(i, j int) bool { return attendees[i].Timestamp.After(attendees[j].Timestamp) })
	return attendees, nil
}

func (s recordStore) StudentHistory(ctx context.Context, email string) ([]attendance.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var history []attendance.HistoryEntry
	for _, r := range s.records {
		u := s.users[r.UserID]
		if u.Email != email {
			continue
		}
		sess := s.sessions[r.SessionID]
		history = append(history, attendance.HistoryEntry{
			SessionName: sess.Name,
			SessionDate: sess.CreatedAt,
			Timestamp:   r.Timestamp,
		})
	}
	sort.Slice(history, func(i, j int) bool { return history[i].Timestamp.After(history[j].Timestamp) })
	return history, nil
}

func (s recordStore) StudentStats(ctx context.Context, email string) (attendance.StudentStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats attendance.StudentStats
	for _, row := range s.sessions {
		if row.EndedAt != nil {
			stats.TotalSessions++
		}
	}

	attended := make(map[string]bool)
	weekdays := make(map[int]int)
	timeline := make(map[string]int)
	var arrivalSum float64
	var arrivalCount int
	for _, r := range s.records {
		u := s.users[r.UserID]
		if u.Email != email {
			continue
		}
		attended[r.SessionID] = true
		weekdays[int(r.Timestamp.Weekday())]++
		timeline[r.Timestamp.Format("2006-01-02")]++
		if sess, ok := s.sessions[r.SessionID]; ok {
			arrivalSum += r.Timestamp.Sub(sess.CreatedAt).Minutes()
			arrivalCount++
		}
	}
	stats.AttendedSessions = len(attended)
	if stats.TotalSessions > 0 {
		stats.AttendanceRate = float64(stats.AttendedSessions) / float64(stats.TotalSessions)
	}
	if arrivalCount > 0 {
		stats.AverageArrivalMinutes = int(math.Round(arrivalSum / float64(arrivalCount)))
	}
	stats.AttendanceByWeekday = attendance.FillWeekdays(weekdays)

	dates := make([]string, 0, len(timeline))
	for d := range timeline {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	for _, d := range dates {
		stats.AttendanceTimeline = append(stats.AttendanceTimeline, attendance.TimelinePoint{Date: d, Attended: timeline[d]})
	}
	return stats, nil
}

func (s recordStore) AverageAttendance(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	perSession := make(map[string]map[string]bool)
	for _, r := range s.records {
		if perSession[r.SessionID] == nil {
			perSession[r.SessionID] = make(map[string]bool)
		}
		perSession[r.SessionID][r.UserID] = true
	}
	if len(perSession) == 0 {
		return 0, nil
	}
	total := 0
	for _, users := range perSession {
		total += len(users)
	}
	return int(math.Round(float64(total) / float64(len(perSession)))), nil
}

func (s recordStore) AttendanceOverTime(ctx context.Context, limit int) ([]attendance.SessionAttendance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]sessionRow, 0, len(s.sessions))
	for _, row := range s.sessions {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq > rows[j].seq })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	// oldest first
	res := make([]attendance.SessionAttendance, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		users := make(map[string]bool)
		for _, r := range s.records {
			if r.SessionID == row.ID {
				users[r.UserID] = true
			}
		}
		res = append(res, attendance.SessionAttendance{Name: row.Name, Attendance: len(users)})
	}
	return res, nil
}
