package httpapi

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"classattend/internal/attendance"
	"classattend/internal/auth"
	"classattend/internal/logging"
)

// statusFor maps a failure kind to an HTTP status. The body is always the Result.
func statusFor(kind string) int {
	switch kind {
	case "invalid_input":
		return http.StatusBadRequest
	case "invalid_credentials":
		return http.StatusUnauthorized
	case "not_found", "invalid_code":
		return http.StatusNotFound
	case "already_redeemed":
		return http.StatusConflict
	case "expired_code":
		return http.StatusGone
	case "conflict":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	kind := attendance.ErrorKind(err)
	if kind == "internal" {
		logging.Named(c.Request.Context(), s.logger, "httpapi").Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(statusFor(kind), gin.H{"success": false, "message": attendance.Message(err), "kind": kind})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": msg, "kind": "invalid_input"})
}

func sessionID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "session id must be numeric")
		return 0, false
	}
	return id, true
}

func professorID(c *gin.Context) int64 {
	claims, _ := auth.ClaimsFrom(c)
	id, _ := claims.UserID()
	return id
}

func (s *Server) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	res := s.svc.Authenticate(c.Request.Context(), req.Email, req.Password)
	if !res.Success {
		c.JSON(statusFor(res.Kind), res)
		return
	}
	u := res.User
	tokens, err := auth.Issue(auth.Principal{UserID: u.ID, Role: string(u.Role), StudentID: u.StudentID, Name: u.Name},
		s.cfg.JWTIssuer, s.cfg.JWTSigningKey, s.cfg.AccessTTL, s.cfg.RefreshTTL)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"user":          u,
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (s *Server) refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	claims, err := auth.Parse(req.RefreshToken, s.cfg.JWTSigningKey, s.cfg.JWTIssuer)
	if err != nil || claims.Kind != auth.KindRefresh {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid refresh token"})
		return
	}
	id, _ := claims.UserID()
	tokens, err := auth.Issue(auth.Principal{UserID: id, Role: claims.Role, StudentID: claims.StudentID, Name: claims.Name},
		s.cfg.JWTIssuer, s.cfg.JWTSigningKey, s.cfg.AccessTTL, s.cfg.RefreshTTL)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (s *Server) listMySessions(c *gin.Context) {
	sessions, err := s.svc.Repository().ListByProfessor(c.Request.Context(), professorID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	// Newest first, the way the dashboard lists them.
	sort.SliceStable(sessions, func(i, j int) bool { return sessions[i].ID > sessions[j].ID })
	c.JSON(http.StatusOK, gin.H{"sessions": nonNil(sessions)})
}

func (s *Server) createSession(c *gin.Context) {
	var req struct {
		attendance.SessionFields
		AutoGenerateCode  bool `json:"autoGenerateQR"`
		ExpirationMinutes int  `json:"expirationMinutes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	created, err := s.svc.Repository().CreateSession(ctx, professorID(c), req.SessionFields)
	if err != nil {
		s.fail(c, err)
		return
	}
	body := gin.H{"success": true, "session": created}
	if req.AutoGenerateCode {
		bundle, err := s.svc.Codes().Generate(ctx, created.ID, s.codeMinutes(req.ExpirationMinutes))
		if err != nil {
			s.fail(c, err)
			return
		}
		body["code"] = bundle
	}
	c.JSON(http.StatusCreated, body)
}

// ownSession loads the session and checks the caller owns it. missingOK lets
// idempotent operations treat an unknown id as already done.
func (s *Server) ownSession(c *gin.Context, missingOK bool) (attendance.Session, bool) {
	id, ok := sessionID(c)
	if !ok {
		return attendance.Session{}, false
	}
	session, err := s.svc.Repository().GetSession(c.Request.Context(), id)
	if attendance.IsNotFound(err) && missingOK {
		c.JSON(http.StatusOK, gin.H{"success": true})
		return attendance.Session{}, false
	}
	if err != nil {
		s.fail(c, err)
		return attendance.Session{}, false
	}
	if session.ProfessorID != professorID(c) {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "not your session"})
		return attendance.Session{}, false
	}
	return session, true
}

func (s *Server) updateSession(c *gin.Context) {
	session, ok := s.ownSession(c, false)
	if !ok {
		return
	}
	var patch attendance.SessionPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err.Error())
		return
	}
	updated, err := s.svc.Repository().UpdateSession(c.Request.Context(), session.ID, patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": updated})
}

func (s *Server) deleteSession(c *gin.Context) {
	session, ok := s.ownSession(c, true)
	if !ok {
		return
	}
	if err := s.svc.Repository().DeleteSession(c.Request.Context(), session.ID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) generateCode(c *gin.Context) {
	session, ok := s.ownSession(c, false)
	if !ok {
		return
	}
	var req struct {
		ExpirationMinutes int `json:"expirationMinutes"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	bundle, err := s.svc.Codes().Generate(c.Request.Context(), session.ID, s.codeMinutes(req.ExpirationMinutes))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "code": bundle})
}

// codeMinutes falls back to the configured code lifetime when the request names none.
func (s *Server) codeMinutes(requested int) int {
	if requested > 0 {
		return requested
	}
	return int(s.cfg.CodeTTL.Minutes())
}

func (s *Server) endSession(c *gin.Context) {
	session, ok := s.ownSession(c, true)
	if !ok {
		return
	}
	if err := s.svc.EndSession(c.Request.Context(), session.ID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// sessionStudents resolves attendee ids to student records for the roster view.
func (s *Server) sessionStudents(c *gin.Context) {
	session, ok := s.ownSession(c, false)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	students := make([]gin.H, 0, len(session.Attendees))
	for _, id := range session.Attendees {
		entry := gin.H{"studentId": id}
		u, err := s.svc.Repository().StudentByID(ctx, id)
		if err != nil {
			s.fail(c, err)
			return
		}
		if u != nil {
			entry["name"] = u.Name
			entry["email"] = u.Email
			entry["year"] = u.Year
		}
		students = append(students, entry)
	}
	c.JSON(http.StatusOK, gin.H{"session": session.ID, "students": students})
}

func (s *Server) professorStats(c *gin.Context) {
	st, err := s.svc.ProfessorStats(c.Request.Context(), professorID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) reset(c *gin.Context) {
	res := s.svc.Reset(c.Request.Context())
	if !res.Success {
		c.JSON(statusFor(res.Kind), res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) activeSessions(c *gin.Context) {
	sessions, err := s.svc.Repository().ListActiveSessions(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": nonNil(sessions)})
}

func (s *Server) todaySessions(c *gin.Context) {
	sessions, err := s.svc.Repository().ListTodaySessions(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": nonNil(sessions)})
}

func (s *Server) redeem(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	res := s.svc.Redeem(c.Request.Context(), claims.StudentID, req.Code)
	if !res.Success {
		c.JSON(statusFor(res.Kind), res)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) myAttendance(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	records, err := s.svc.Repository().StudentAttendance(c.Request.Context(), claims.StudentID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if records == nil {
		records = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (s *Server) studentStats(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	st, err := s.svc.StudentStats(c.Request.Context(), claims.StudentID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func nonNil(sessions []attendance.Session) []attendance.Session {
	if sessions == nil {
		return []attendance.Session{}
	}
	return sessions
}
