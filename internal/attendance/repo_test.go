package attendance

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classattend/internal/sharedstore"
)

func TestSeedIsIdempotent(t *testing.T) {
	f := newFixture(t)

	seeded, err := f.repo.Seed(f.ctx)
	require.NoError(t, err)
	assert.False(t, seeded)

	users, err := f.repo.Users(f.ctx)
	require.NoError(t, err)
	assert.Len(t, users, 4)

	student, err := f.repo.StudentByID(f.ctx, "SE2023002")
	require.NoError(t, err)
	require.NotNil(t, student)
	assert.Equal(t, "HAGENIMANA Samuel", student.Name)

	missing, err := f.repo.StudentByID(f.ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t)

	s := f.createSession(t, 1, labFields())
	assert.Equal(t, f.clock.Now().UnixMilli(), s.ID)
	assert.Equal(t, "Dr. Emmanuel", s.ProfessorName)
	assert.False(t, s.Active)
	assert.Nil(t, s.QRCode)
	assert.Nil(t, s.QRExpiry)
	assert.Empty(t, s.Attendees)
	assert.Equal(t, f.clock.Now(), s.CreatedAt)
	assert.Equal(t, s.CreatedAt, s.UpdatedAt)

	// Same millisecond still yields a distinct id.
	second := f.createSession(t, 1, labFields())
	assert.NotEqual(t, s.ID, second.ID)
}

func TestCreateSessionUnknownProfessorGetsPlaceholderName(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t, 99, labFields())
	assert.Equal(t, "Professor", s.ProfessorName)
}

func TestCreateSessionValidates(t *testing.T) {
	f := newFixture(t)
	fields := labFields()
	fields.Title = "  "
	fields.Date = "10/01/2024"

	_, err := f.repo.CreateSession(f.ctx, 1, fields)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.FieldErrors, "Title")
	assert.Contains(t, verr.FieldErrors, "Date")
	assert.Equal(t, "invalid_input", ErrorKind(err))

	sessions, err := f.repo.ListSessions(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestListByProfessor(t *testing.T) {
	f := newFixture(t)
	mine := f.createSession(t, 1, labFields())
	f.clock.Advance(time.Millisecond)
	f.createSession(t, 7, labFields())

	sessions, err := f.repo.ListByProfessor(f.ctx, 1)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, mine.ID, sessions[0].ID)
}

func TestUpdateSession(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t, 1, labFields())
	f.clock.Advance(time.Minute)

	title := "Lab 2"
	room := "Room 301"
	updated, err := f.repo.UpdateSession(f.ctx, s.ID, SessionPatch{Title: &title, Location: &room})
	require.NoError(t, err)
	assert.Equal(t, "Lab 2", updated.Title)
	assert.Equal(t, "Room 301", updated.Location)
	assert.Equal(t, "SE301", updated.CourseCode)
	assert.Equal(t, f.clock.Now(), updated.UpdatedAt)
	assert.Equal(t, s.CreatedAt, updated.CreatedAt)

	_, err = f.repo.UpdateSession(f.ctx, 12345, SessionPatch{Title: &title})
	assert.ErrorIs(t, err, ErrNotFound)

	bad := "25:99"
	_, err = f.repo.UpdateSession(f.ctx, s.ID, SessionPatch{StartTime: &bad})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestDeleteSessionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t, 1, labFields())

	require.NoError(t, f.repo.DeleteSession(f.ctx, s.ID))
	require.NoError(t, f.repo.DeleteSession(f.ctx, s.ID))

	sessions, err := f.repo.ListByProfessor(f.ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestSessionsArePersistedWithoutAttendees(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t, 1, labFields())
	bundle := f.generate(t, s.ID, 15)
	require.True(t, f.svc.Redeem(f.ctx, "SE2023001", bundle.Code).Success)

	raw, ok, err := f.store.GetRaw(f.ctx, KeySessions)
	require.NoError(t, err)
	require.True(t, ok)
	var stored []map[string]any
	require.NoError(t, json.Unmarshal(raw, &stored))
	require.Len(t, stored, 1)
	assert.Nil(t, stored[0]["attendees"])

	got, err := f.repo.GetSession(f.ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"SE2023001"}, got.Attendees)
}

func TestWritesBroadcastWholeCollection(t *testing.T) {
	f := newFixture(t)
	var keys []string
	var last json.RawMessage
	unsubscribe := f.svc.Subscribe(func(key string, value json.RawMessage) {
		keys = append(keys, key)
		last = value
	})
	defer unsubscribe()

	f.createSession(t, 1, labFields())
	f.clock.Advance(time.Millisecond)
	f.createSession(t, 1, labFields())

	assert.Equal(t, []string{KeySessions, KeySessions}, keys)
	var sessions []Session
	require.NoError(t, json.Unmarshal(last, &sessions))
	assert.Len(t, sessions, 2)
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t, 1, labFields())
	bundle := f.generate(t, s.ID, 15)
	require.True(t, f.svc.Redeem(f.ctx, "SE2023001", bundle.Code).Success)

	res := f.svc.Reset(f.ctx)
	assert.True(t, res.Success)

	sessions, err := f.repo.ListSessions(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
	records, err := f.repo.Attendance(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
	users, err := sharedstore.Get[[]User](f.ctx, f.store, KeyUsers)
	require.NoError(t, err)
	assert.Len(t, users, 4)
}
