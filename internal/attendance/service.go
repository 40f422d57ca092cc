package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"classattend/internal/logging"
	"classattend/internal/metrics"
	"classattend/internal/sharedstore"
)

// Service runs logins, redemptions and session termination on top of the repository.
type Service struct {
	repo   *Repository
	codes  *Codes
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a service backed by a repository.
func NewService(repo *Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, codes: NewCodes(repo, logger), now: repo.now, logger: logger}
}

// Repository returns the session repository.
func (s *Service) Repository() *Repository { return s.repo }

// Codes returns the code manager.
func (s *Service) Codes() *Codes { return s.codes }

// Authenticate checks email and password against the seeded users. Both must match exactly.
func (s *Service) Authenticate(ctx context.Context, email, password string) Result {
	users, err := s.repo.Users(ctx)
	if err != nil {
		s.log(ctx, "authenticate").Error("load users failed", "error", err)
		return failure(err)
	}
	for _, u := range users {
		if u.Email == email && u.Password == password {
			pub := u.Public()
			return Result{Success: true, User: &pub}
		}
	}
	return failure(ErrInvalidCredentials)
}

// Redeem marks studentID present for the active session holding code.
func (s *Service) Redeem(ctx context.Context, studentID, code string) Result {
	log := s.log(ctx, "redeem", "student_id", studentID)
	record, err := s.redeem(ctx, strings.TrimSpace(studentID), strings.TrimSpace(code))
	if err != nil {
		kind := ErrorKind(err)
		metrics.Redemptions.WithLabelValues(kind).Inc()
		if kind == "internal" || kind == "conflict" {
			log.Error("redemption failed", "error", err)
		} else {
			log.Info("redemption rejected", "kind", kind)
		}
		return failure(err)
	}
	metrics.Redemptions.WithLabelValues("success").Inc()
	log.Info("attendance marked", "session_id", record.SessionID, "record_id", record.ID)
	return Result{
		Success: true,
		Message: fmt.Sprintf("Attendance marked for %s", record.SessionName),
		Record:  &record,
	}
}

func (s *Service) redeem(ctx context.Context, studentID, code string) (Record, error) {
	if studentID == "" {
		verr := &ValidationError{}
		verr.add("studentId", "required")
		return Record{}, verr
	}
	now := s.now().UTC()
	sessions, err := sharedstore.Get[[]Session](ctx, s.repo.store, KeySessions)
	if err != nil {
		return Record{}, err
	}
	// A live match wins over an expired one still flagged active.
	var session *Session
	for i := range sessions {
		if !sessions[i].Active || !sessions[i].Accepts(code) {
			continue
		}
		if session == nil || (!sessions[i].Expired(now) && session.Expired(now)) {
			session = &sessions[i]
		}
	}
	if session == nil {
		return Record{}, ErrInvalidCode
	}
	if session.Expired(now) {
		if err := s.expire(ctx, session.ID, code); err != nil {
			return Record{}, err
		}
		return Record{}, ErrExpiredCode
	}

	record := Record{
		ID:          uuid.NewString(),
		StudentID:   studentID,
		SessionID:   session.ID,
		SessionName: session.Title,
		Timestamp:   now,
		Status:      StatusPresent,
	}
	// The duplicate check and the append happen in one versioned write of the log,
	// so concurrent redeemers for the same pair cannot both succeed.
	_, err = sharedstore.Update(ctx, s.repo.store, KeyAttendance, func(log []Record) ([]Record, error) {
		for _, r := range log {
			if r.SessionID == record.SessionID && r.StudentID == studentID {
				return nil, ErrAlreadyRedeemed
			}
		}
		return append(log, record), nil
	})
	if err != nil {
		return Record{}, err
	}
	return record, nil
}

// expire deactivates the session if it still holds code. A code regenerated in the
// meantime is left alone.
func (s *Service) expire(ctx context.Context, sessionID int64, code string) error {
	_, err := s.repo.updateSessions(ctx, func(sessions []Session) ([]Session, error) {
		i := indexOf(sessions, sessionID)
		if i < 0 || !sessions[i].Accepts(code) {
			return nil, sharedstore.ErrNoChange
		}
		sessions[i].deactivate(s.now().UTC())
		return sessions, nil
	})
	if err == nil {
		metrics.SessionsExpired.Inc()
	}
	return err
}

// EndSession deactivates the session and clears its codes. Ending an inactive or
// unknown session succeeds without writing.
func (s *Service) EndSession(ctx context.Context, sessionID int64) error {
	_, err := s.repo.updateSessions(ctx, func(sessions []Session) ([]Session, error) {
		i := indexOf(sessions, sessionID)
		if i < 0 {
			return nil, sharedstore.ErrNoChange
		}
		ss := sessions[i]
		if !ss.Active && ss.QRCode == nil && ss.ManualCode == nil && ss.QRExpiry == nil {
			return nil, sharedstore.ErrNoChange
		}
		sessions[i].deactivate(s.now().UTC())
		return sessions, nil
	})
	if err != nil {
		s.log(ctx, "end_session", "session_id", sessionID).Error("end session failed", "error", err)
		return err
	}
	return nil
}

// SweepExpired deactivates every session whose code has run out and returns how many it ended.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	ended := 0
	_, err := s.repo.updateSessions(ctx, func(sessions []Session) ([]Session, error) {
		ended = 0
		now := s.now().UTC()
		for i := range sessions {
			if sessions[i].Active && sessions[i].Expired(now) {
				sessions[i].deactivate(now)
				ended++
			}
		}
		if ended == 0 {
			return nil, sharedstore.ErrNoChange
		}
		return sessions, nil
	})
	if err != nil {
		return 0, err
	}
	if ended > 0 {
		metrics.SessionsExpired.Add(float64(ended))
		s.log(ctx, "sweep").Info("expired sessions ended", "count", ended)
	}
	return ended, nil
}

// Subscribe forwards every store change to fn until the returned function is called.
func (s *Service) Subscribe(fn func(key string, value json.RawMessage)) (unsubscribe func()) {
	return s.repo.store.Subscribe(fn)
}

// Reset clears sessions and attendance.
func (s *Service) Reset(ctx context.Context) Result {
	if err := s.repo.Reset(ctx); err != nil {
		return failure(err)
	}
	return Result{Success: true, Message: "Data reset successfully"}
}

func (s *Service) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return logging.Named(ctx, s.logger, "attendance", append([]any{"operation", operation}, attrs...)...)
}
