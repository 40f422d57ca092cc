package attendance

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)

	res := f.svc.Authenticate(f.ctx, "prof@college.edu", "prof123")
	require.True(t, res.Success)
	require.NotNil(t, res.User)
	assert.Equal(t, RoleProfessor, res.User.Role)
	assert.Empty(t, res.User.Password)

	res = f.svc.Authenticate(f.ctx, "student1@college.edu", "stu123")
	require.True(t, res.Success)
	assert.Equal(t, "SE2023001", res.User.StudentID)

	for _, email := range []string{" student1@college.edu", "Student1@College.edu"} {
		res = f.svc.Authenticate(f.ctx, email, "stu123")
		assert.False(t, res.Success, email)
		assert.Equal(t, "invalid_credentials", res.Kind, email)
	}

	res = f.svc.Authenticate(f.ctx, "prof@college.edu", "wrong")
	assert.False(t, res.Success)
	assert.Equal(t, "Invalid credentials", res.Message)
	assert.Equal(t, "invalid_credentials", res.Kind)
	assert.Nil(t, res.User)
}

func TestLabScenario(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t, 1, labFields())

	bundle := f.generate(t, s.ID, 15)
	assert.True(t, strings.HasPrefix(bundle.Code, "ATTENDANCE-"))
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), bundle.Expiry)
	assert.Equal(t, 15, bundle.ExpirationMinutes)

	res := f.svc.Redeem(f.ctx, "SE2023001", bundle.Code)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "Attendance marked for Lab", res.Message)
	require.NotNil(t, res.Record)
	assert.Equal(t, "SE2023001", res.Record.StudentID)
	assert.Equal(t, s.ID, res.Record.SessionID)
	assert.Equal(t, "Lab", res.Record.SessionName)
	assert.Equal(t, StatusPresent, res.Record.Status)
	assert.Equal(t, f.clock.Now(), res.Record.Timestamp)

	got, err := f.repo.GetSession(f.ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"SE2023001"}, got.Attendees)
	assert.True(t, got.Active)

	records, err := f.repo.Attendance(f.ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRedeemUnknownCode(t *testing.T) {
	f := newFixture(t)
	f.createSession(t, 1, labFields())

	res := f.svc.Redeem(f.ctx, "SE2023001", "ATTENDANCE-1-2-never")
	assert.False(t, res.Success)
	assert.Equal(t, "Invalid QR code", res.Message)
	assert.Equal(t, "invalid_code", res.Kind)
}

func TestRedeemTwiceFailsSecondTime(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t, 1, labFields())
	bundle := f.generate(t, s.ID, 15)

	require.True(t, f.svc.Redeem(f.ctx, "SE2023001", bundle.Code).Success)
	res := f.svc.Redeem(f.ctx, "SE2023001", bundle.Code)
	assert.False(t, res.Success)
	assert.Equal(t, "Attendance already marked", res.Message)
	assert.Equal(t, "already_redeemed", res.Kind)

	// The same code keeps working for the rest of the class.
	require.True(t, f.svc.Redeem(f.ctx, "SE2023002", bundle.Code).Success)

	mine, err := f.repo.StudentAttendance(f.ctx, "SE2023001")
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestRedeemWithManualCode(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t, 1, labFields())
	bundle := f.generate(t, s.ID, 15)
	assert.Regexp(t, `^MANUAL-\d{4}-\d{4}$`, bundle.ManualCode)

	res := f.svc.Redeem(f.ctx, "SE2023003", " "+bundle.ManualCode+" ")
	require.True(t, res.Success, res.Message)

	res = f.svc.Redeem(f.ctx, "SE2023003", bundle.Code)
	assert.Equal(t, "already_redeemed", res.Kind)
}

func TestRedeemAfterExpiry(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t, 1, labFields())
	bundle := f.generate(t, s.ID, 15)

	f.clock.Advance(15 * time.Minute)
	require.True(t, f.svc.Redeem(f.ctx, "SE2023001", bundle.Code).Success, "expiry instant itself is still valid")

	f.clock.Advance(time.Second)
	res := f.svc.Redeem(f.ctx, "SE2023002", bundle.Code)
	assert.False(t, res.Success)
	assert.Equal(t, "QR code has expired", res.Message)
	assert.Equal(t, "expired_code", res.Kind)

	got, err := f.repo.GetSession(f.ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"SE2023001"}, got.Attendees)
	assert.False(t, got.Active)
	assert.Nil(t, got.QRCode)
	assert.Nil(t, got.ManualCode)
	assert.Nil(t, got.QRExpiry)

	// Once deactivated the code is simply unknown.
	res = f.svc.Redeem(f.ctx, "SE2023002", bundle.Code)
	assert.Equal(t, "invalid_code", res.Kind)
}

func TestEndSession(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t, 1, labFields())
	bundle := f.generate(t, s.ID, 15)

	require.NoError(t, f.svc.EndSession(f.ctx, s.ID))
	require.NoError(t, f.svc.EndSession(f.ctx, s.ID))
	require.NoError(t, f.svc.EndSession(f.ctx, 424242))

	res := f.svc.Redeem(f.ctx, "SE2023001", bundle.Code)
	assert.Equal(t, "invalid_code", res.Kind)
	res = f.svc.Redeem(f.ctx, "SE2023001", bundle.ManualCode)
	assert.Equal(t, "invalid_code", res.Kind)

	got, err := f.repo.GetSession(f.ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Nil(t, got.QRCode)
	assert.Nil(t, got.QRExpiry)
}

func TestGenerate(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t, 1, labFields())

	first := f.generate(t, s.ID, 0)
	second := f.generate(t, s.ID, 5)
	assert.NotEqual(t, first.Code, second.Code)
	assert.Equal(t, DefaultCodeMinutes, first.ExpirationMinutes)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), second.Expiry)

	// Regenerating replaces the previous code.
	res := f.svc.Redeem(f.ctx, "SE2023001", first.Code)
	assert.Equal(t, "invalid_code", res.Kind)
	assert.True(t, f.svc.Redeem(f.ctx, "SE2023001", second.Code).Success)

	// Reusing a session keeps its attendees: the student stays credited.
	third := f.generate(t, s.ID, 5)
	assert.Equal(t, "already_redeemed", f.svc.Redeem(f.ctx, "SE2023001", third.Code).Kind)

	bundle, err := f.svc.Codes().Generate(f.ctx, 999, 15)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, bundle)
}

func TestManualCodesStayDistinctAcrossActiveSessions(t *testing.T) {
	f := newFixture(t)
	a := f.createSession(t, 1, labFields())
	// Ids that share their last four digits.
	f.clock.Advance(10 * time.Second)
	b := f.createSession(t, 1, labFields())
	require.Equal(t, lastDigits(a.ID, 4), lastDigits(b.ID, 4))

	first := f.generate(t, a.ID, 15)
	second := f.generate(t, b.ID, 15)
	assert.NotEqual(t, first.ManualCode, second.ManualCode)
}

func TestManualCodeSkipsExpiredUnsweptSession(t *testing.T) {
	f := newFixture(t)
	a := f.createSession(t, 1, labFields())
	f.clock.Advance(10 * time.Second)
	b := f.createSession(t, 1, labFields())

	f.generate(t, a.ID, 1)
	f.clock.Advance(70 * time.Second)
	live := f.generate(t, b.ID, 15)

	stale, err := f.repo.GetSession(f.ctx, a.ID)
	require.NoError(t, err)
	require.True(t, stale.Active)
	assert.NotEqual(t, *stale.ManualCode, live.ManualCode)

	res := f.svc.Redeem(f.ctx, "SE2023001", live.ManualCode)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, b.ID, res.Record.SessionID)
}

func TestRedeemPrefersLiveSessionOverExpiredMatch(t *testing.T) {
	f := newFixture(t)
	a := f.createSession(t, 1, labFields())
	f.clock.Advance(time.Second)
	b := f.createSession(t, 1, labFields())
	f.generate(t, a.ID, 1)
	f.generate(t, b.ID, 15)
	f.clock.Advance(2 * time.Minute)

	// Force both sessions onto one manual code, the expired one first.
	shared := "MANUAL-0000-0000"
	_, err := f.repo.updateSessions(f.ctx, func(sessions []Session) ([]Session, error) {
		for i := range sessions {
			sessions[i].ManualCode = &shared
		}
		return sessions, nil
	})
	require.NoError(t, err)

	res := f.svc.Redeem(f.ctx, "SE2023001", shared)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, b.ID, res.Record.SessionID)
}

func TestActiveAndTodaySessions(t *testing.T) {
	f := newFixture(t)
	today := f.createSession(t, 1, labFields())
	f.clock.Advance(time.Millisecond)
	tomorrowFields := labFields()
	tomorrowFields.Date = "2024-01-11"
	tomorrow := f.createSession(t, 1, tomorrowFields)
	f.clock.Advance(time.Millisecond)
	idle := f.createSession(t, 1, labFields())

	f.generate(t, today.ID, 15)
	f.generate(t, tomorrow.ID, 30)

	active, err := f.repo.ListActiveSessions(f.ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{today.ID, tomorrow.ID}, ids(active))

	todays, err := f.repo.ListTodaySessions(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{today.ID}, ids(todays))

	// Expired sessions drop out of the active list before anything deactivates them.
	f.clock.Advance(20 * time.Minute)
	active, err = f.repo.ListActiveSessions(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{tomorrow.ID}, ids(active))
	assert.NotContains(t, ids(active), idle.ID)
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	a := f.createSession(t, 1, labFields())
	f.clock.Advance(time.Millisecond)
	b := f.createSession(t, 1, labFields())
	f.generate(t, a.ID, 5)
	f.generate(t, b.ID, 30)

	n, err := f.svc.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(10 * time.Minute)
	n, err = f.svc.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.repo.GetSession(f.ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Nil(t, got.QRCode)
	got, err = f.repo.GetSession(f.ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
}

func TestConcurrentRedemptionsRecordOnce(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t, 1, labFields())
	bundle := f.generate(t, s.ID, 15)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := f.svc.Redeem(f.ctx, "SE2023001", bundle.Code)
			if res.Success {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	records, err := f.repo.StudentAttendance(f.ctx, "SE2023001")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRedeemRequiresStudent(t *testing.T) {
	f := newFixture(t)
	res := f.svc.Redeem(f.ctx, " ", "ATTENDANCE-1")
	assert.False(t, res.Success)
	assert.Equal(t, "invalid_input", res.Kind)
}

func ids(sessions []Session) []int64 {
	out := make([]int64, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.ID)
	}
	return out
}
