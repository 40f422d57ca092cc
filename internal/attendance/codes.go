package attendance

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"classattend/internal/logging"
	"classattend/internal/metrics"
)

// DefaultCodeMinutes is the code lifetime used when none is requested.
const DefaultCodeMinutes = 15

// Codes issues time-limited redemption codes for sessions.
type Codes struct {
	repo   *Repository
	now    func() time.Time
	random func() string
	logger *slog.Logger
}

// NewCodes builds the code manager on top of repo, sharing its clock.
func NewCodes(repo *Repository, logger *slog.Logger) *Codes {
	return &Codes{repo: repo, now: repo.now, random: randomSuffix, logger: logger}
}

// Generate gives the session a fresh QR code and manual code valid for minutes
// (DefaultCodeMinutes when minutes <= 0) and activates it. Any previous code stops working.
func (c *Codes) Generate(ctx context.Context, sessionID int64, minutes int) (*CodeBundle, error) {
	if minutes <= 0 {
		minutes = DefaultCodeMinutes
	}
	log := logging.Named(ctx, c.logger, "codes", "session_id", sessionID)

	var bundle CodeBundle
	_, err := c.repo.updateSessions(ctx, func(sessions []Session) ([]Session, error) {
		i := indexOf(sessions, sessionID)
		if i < 0 {
			return nil, ErrNotFound
		}
		now := c.now().UTC()
		code := fmt.Sprintf("ATTENDANCE-%d-%d-%s", sessionID, now.UnixMilli(), c.random())
		manual := uniqueManualCode(sessions, sessionID, now)
		expiry := now.Add(time.Duration(minutes) * time.Minute)

		s := &sessions[i]
		s.QRCode = &code
		s.ManualCode = &manual
		s.QRExpiry = &expiry
		s.Active = true
		s.UpdatedAt = now

		bundle = CodeBundle{Code: code, ManualCode: manual, Expiry: expiry, ExpirationMinutes: minutes}
		return sessions, nil
	})
	if err != nil {
		log.Info("code generation failed", "kind", ErrorKind(err), "error", err)
		return nil, err
	}
	metrics.CodesGenerated.Inc()
	log.Info("code generated", "expires_at", bundle.Expiry, "minutes", minutes)
	return &bundle, nil
}

// uniqueManualCode builds MANUAL-<last 4 of id>-<last 4 of millis>, stepping the time
// part until no other session still flagged active uses the same manual code. Expired
// sessions count until they are written back as inactive, since redemption still sees them.
func uniqueManualCode(sessions []Session, sessionID int64, now time.Time) string {
	ms := now.UnixMilli()
	for {
		manual := "MANUAL-" + lastDigits(sessionID, 4) + "-" + lastDigits(ms, 4)
		taken := false
		for _, s := range sessions {
			if s.ID != sessionID && s.Active && s.ManualCode != nil && *s.ManualCode == manual {
				taken = true
				break
			}
		}
		if !taken {
			return manual
		}
		ms++
	}
}

func lastDigits(n int64, k int) string {
	s := strconv.FormatInt(n, 10)
	if len(s) > k {
		return s[len(s)-k:]
	}
	return s
}

// randomSuffix returns 9 base36 characters taken from a random UUID.
func randomSuffix() string {
	u := uuid.New()
	s := strconv.FormatUint(binary.BigEndian.Uint64(u[:8]), 36)
	if len(s) < 9 {
		s = strings.Repeat("0", 9-len(s)) + s
	}
	return s[:9]
}
