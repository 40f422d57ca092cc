package attendance

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"classattend/internal/sharedstore"
)

// Keys of the shared store collections.
const (
	KeyUsers       = "users"
	KeySessions    = "sessions"
	KeyAttendance  = "attendance"
	KeyInitialized = "initialized_v2"
)

const defaultProfessorName = "Professor"

// Repository reads and writes the session, user and attendance collections.
// Every write replaces a whole collection and therefore broadcasts all of it.
type Repository struct {
	store    *sharedstore.Store
	now      func() time.Time
	validate *validator.Validate
}

// NewRepository creates a repo. now defaults to time.Now.
func NewRepository(store *sharedstore.Store, now func() time.Time) *Repository {
	if now == nil {
		now = time.Now
	}
	return &Repository{store: store, now: now, validate: validator.New()}
}

// Store exposes the underlying shared store.
func (r *Repository) Store() *sharedstore.Store { return r.store }

// Users returns the seeded users.
func (r *Repository) Users(ctx context.Context) ([]User, error) {
	return sharedstore.Get[[]User](ctx, r.store, KeyUsers)
}

// StudentByID returns the student with the given student number, or nil.
func (r *Repository) StudentByID(ctx context.Context, studentID string) (*User, error) {
	users, err := r.Users(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.Role == RoleStudent && u.StudentID == studentID {
			return &u, nil
		}
	}
	return nil, nil
}

// Attendance returns the whole attendance log in append order.
func (r *Repository) Attendance(ctx context.Context) ([]Record, error) {
	return sharedstore.Get[[]Record](ctx, r.store, KeyAttendance)
}

// StudentAttendance returns the student's records in append order.
func (r *Repository) StudentAttendance(ctx context.Context, studentID string) ([]Record, error) {
	records, err := r.Attendance(ctx)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, rec := range records {
		if rec.StudentID == studentID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListSessions returns every session with attendees filled from the log.
func (r *Repository) ListSessions(ctx context.Context) ([]Session, error) {
	sessions, err := sharedstore.Get[[]Session](ctx, r.store, KeySessions)
	if err != nil {
		return nil, err
	}
	records, err := r.Attendance(ctx)
	if err != nil {
		return nil, err
	}
	return hydrate(sessions, records), nil
}

// GetSession returns one session or ErrNotFound.
func (r *Repository) GetSession(ctx context.Context, id int64) (Session, error) {
	sessions, err := r.ListSessions(ctx)
	if err != nil {
		return Session{}, err
	}
	for _, s := range sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return Session{}, ErrNotFound
}

// ListByProfessor returns the professor's sessions, unsorted.
func (r *Repository) ListByProfessor(ctx context.Context, professorID int64) ([]Session, error) {
	return r.filterSessions(ctx, func(s Session) bool { return s.ProfessorID == professorID })
}

// ListActiveSessions returns sessions currently accepting redemptions.
func (r *Repository) ListActiveSessions(ctx context.Context) ([]Session, error) {
	now := r.now()
	return r.filterSessions(ctx, func(s Session) bool { return s.IsActive(now) })
}

// ListTodaySessions returns active sessions scheduled for today (UTC date).
func (r *Repository) ListTodaySessions(ctx context.Context) ([]Session, error) {
	now := r.now()
	today := now.UTC().Format(time.DateOnly)
	return r.filterSessions(ctx, func(s Session) bool { return s.Date == today && s.IsActive(now) })
}

func (r *Repository) filterSessions(ctx context.Context, keep func(Session) bool) ([]Session, error) {
	sessions, err := r.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	var out []Session
	for _, s := range sessions {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out, nil
}

// CreateSession validates fields and stores a new inactive session.
func (r *Repository) CreateSession(ctx context.Context, professorID int64, fields SessionFields) (Session, error) {
	fields = trimFields(fields)
	if err := r.validate.StructCtx(ctx, fields); err != nil {
		return Session{}, newValidationError(err)
	}
	users, err := r.Users(ctx)
	if err != nil {
		return Session{}, err
	}
	name := defaultProfessorName
	for _, u := range users {
		if u.ID == professorID {
			name = u.Name
			break
		}
	}

	var created Session
	_, err = r.updateSessions(ctx, func(sessions []Session) ([]Session, error) {
		now := r.now().UTC()
		created = Session{
			ID:            nextSessionID(sessions, now),
			ProfessorID:   professorID,
			ProfessorName: name,
			Title:         fields.Title,
			CourseCode:    fields.CourseCode,
			Date:          fields.Date,
			StartTime:     fields.StartTime,
			EndTime:       fields.EndTime,
			Duration:      fields.Duration,
			Location:      fields.Location,
			Description:   fields.Description,
			CourseType:    fields.CourseType,
			Attendees:     []string{},
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return append(sessions, created), nil
	})
	if err != nil {
		return Session{}, err
	}
	return created, nil
}

// UpdateSession merges patch into the session and refreshes UpdatedAt.
func (r *Repository) UpdateSession(ctx context.Context, id int64, patch SessionPatch) (Session, error) {
	if err := r.validate.StructCtx(ctx, patch); err != nil {
		return Session{}, newValidationError(err)
	}
	var updated Session
	_, err := r.updateSessions(ctx, func(sessions []Session) ([]Session, error) {
		i := indexOf(sessions, id)
		if i < 0 {
			return nil, ErrNotFound
		}
		patch.apply(&sessions[i])
		sessions[i].UpdatedAt = r.now().UTC()
		updated = sessions[i]
		return sessions, nil
	})
	if err != nil {
		return Session{}, err
	}
	return r.withAttendees(ctx, updated)
}

// DeleteSession removes the session. Deleting an unknown id succeeds.
// The attendance log keeps the session's records.
func (r *Repository) DeleteSession(ctx context.Context, id int64) error {
	_, err := r.updateSessions(ctx, func(sessions []Session) ([]Session, error) {
		i := indexOf(sessions, id)
		if i < 0 {
			return nil, sharedstore.ErrNoChange
		}
		return append(sessions[:i], sessions[i+1:]...), nil
	})
	return err
}

// Seed writes the demo users and empty collections once, guarded by KeyInitialized.
// It reports whether anything was written.
func (r *Repository) Seed(ctx context.Context) (bool, error) {
	seeded := false
	_, err := sharedstore.Update(ctx, r.store, KeyInitialized, func(done bool) (bool, error) {
		if done {
			return done, sharedstore.ErrNoChange
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	users, err := r.Users(ctx)
	if err != nil {
		return false, err
	}
	if users == nil {
		if err := sharedstore.Set(ctx, r.store, KeyUsers, DemoUsers()); err != nil {
			return false, err
		}
		seeded = true
	}
	for _, key := range []string{KeySessions, KeyAttendance} {
		_, ok, err := r.store.GetRaw(ctx, key)
		if err != nil {
			return seeded, err
		}
		if !ok {
			if err := sharedstore.Set(ctx, r.store, key, []struct{}{}); err != nil {
				return seeded, err
			}
			seeded = true
		}
	}
	return seeded, nil
}

// Reset empties the session and attendance collections. Users stay.
func (r *Repository) Reset(ctx context.Context) error {
	if err := sharedstore.Set(ctx, r.store, KeySessions, []Session{}); err != nil {
		return err
	}
	return sharedstore.Set(ctx, r.store, KeyAttendance, []Record{})
}

// updateSessions is the single write path for the sessions collection. Attendees
// are derived data and are stripped before the collection is persisted.
func (r *Repository) updateSessions(ctx context.Context, fn func([]Session) ([]Session, error)) ([]Session, error) {
	return sharedstore.Update(ctx, r.store, KeySessions, func(sessions []Session) ([]Session, error) {
		next, err := fn(sessions)
		if err != nil {
			return nil, err
		}
		out := make([]Session, len(next))
		for i, s := range next {
			s.Attendees = nil
			out[i] = s
		}
		return out, nil
	})
}

func (r *Repository) withAttendees(ctx context.Context, s Session) (Session, error) {
	records, err := r.Attendance(ctx)
	if err != nil {
		return Session{}, err
	}
	return hydrate([]Session{s}, records)[0], nil
}

func hydrate(sessions []Session, records []Record) []Session {
	bySession := make(map[int64][]string)
	for _, rec := range records {
		bySession[rec.SessionID] = append(bySession[rec.SessionID], rec.StudentID)
	}
	for i := range sessions {
		attendees := bySession[sessions[i].ID]
		if attendees == nil {
			attendees = []string{}
		}
		sessions[i].Attendees = attendees
	}
	return sessions
}

func indexOf(sessions []Session, id int64) int {
	for i, s := range sessions {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// nextSessionID uses the creation time in milliseconds, bumped past any id already taken.
func nextSessionID(sessions []Session, now time.Time) int64 {
	id := now.UnixMilli()
	for indexOf(sessions, id) >= 0 {
		id++
	}
	return id
}

func trimFields(f SessionFields) SessionFields {
	f.Title = strings.TrimSpace(f.Title)
	f.CourseCode = strings.TrimSpace(f.CourseCode)
	f.Date = strings.TrimSpace(f.Date)
	f.StartTime = strings.TrimSpace(f.StartTime)
	f.EndTime = strings.TrimSpace(f.EndTime)
	return f
}

// IsNotFound reports whether err means the session does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
