package attendance

import "time"

// Role distinguishes professors from students.
type Role string

const (
	RoleProfessor Role = "professor"
	RoleStudent   Role = "student"
)

// StatusPresent is the only status a redemption records.
const StatusPresent = "present"

// User is a seeded identity. Passwords are compared as stored.
type User struct {
	ID         int64  `json:"id"`
	Email      string `json:"email"`
	Password   string `json:"password,omitempty"`
	Role       Role   `json:"role"`
	Name       string `json:"name"`
	Department string `json:"department,omitempty"`
	StudentID  string `json:"studentId,omitempty"`
	Year       string `json:"year,omitempty"`
}

// Public returns a copy without the password.
func (u User) Public() User {
	u.Password = ""
	return u
}

// Session is a scheduled class meeting. Attendees is never persisted; it is
// filled from the attendance log whenever sessions are read.
type Session struct {
	ID            int64      `json:"id"`
	ProfessorID   int64      `json:"professorId"`
	ProfessorName string     `json:"professorName"`
	Title         string     `json:"title"`
	CourseCode    string     `json:"code"`
	Date          string     `json:"date"`
	StartTime     string     `json:"startTime"`
	EndTime       string     `json:"endTime"`
	Duration      string     `json:"duration,omitempty"`
	Location      string     `json:"location,omitempty"`
	Description   string     `json:"description,omitempty"`
	CourseType    string     `json:"courseType,omitempty"`
	QRCode        *string    `json:"qrCode"`
	ManualCode    *string    `json:"manualCode"`
	QRExpiry      *time.Time `json:"qrExpiry"`
	Active        bool       `json:"active"`
	Attendees     []string   `json:"attendees"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Expired reports whether the session holds a code whose expiry has passed.
func (s Session) Expired(now time.Time) bool {
	return s.QRExpiry != nil && now.After(*s.QRExpiry)
}

// IsActive reports whether redemption is accepted at now.
func (s Session) IsActive(now time.Time) bool {
	return s.Active && s.QRCode != nil && !s.Expired(now)
}

// Accepts reports whether code is the session's QR or manual code.
func (s Session) Accepts(code string) bool {
	if code == "" {
		return false
	}
	return (s.QRCode != nil && *s.QRCode == code) || (s.ManualCode != nil && *s.ManualCode == code)
}

// HasAttendee reports whether studentID is credited for the session.
func (s Session) HasAttendee(studentID string) bool {
	for _, id := range s.Attendees {
		if id == studentID {
			return true
		}
	}
	return false
}

func (s *Session) deactivate(now time.Time) {
	s.Active = false
	s.QRCode = nil
	s.ManualCode = nil
	s.QRExpiry = nil
	s.UpdatedAt = now
}

// SessionFields is what a professor supplies when creating a session.
type SessionFields struct {
	Title       string `json:"title" validate:"required,max=200"`
	CourseCode  string `json:"code" validate:"required,max=32"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime   string `json:"startTime" validate:"required,datetime=15:04"`
	EndTime     string `json:"endTime" validate:"required,datetime=15:04"`
	Duration    string `json:"duration" validate:"max=32"`
	Location    string `json:"location" validate:"max=200"`
	Description string `json:"description" validate:"max=2000"`
	CourseType  string `json:"courseType" validate:"max=32"`
}

// SessionPatch holds the fields UpdateSession may change; nil means unchanged.
// Codes, activation and attendees are owned by the lifecycle operations.
type SessionPatch struct {
	Title       *string `json:"title" validate:"omitempty,max=200"`
	CourseCode  *string `json:"code" validate:"omitempty,max=32"`
	Date        *string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	StartTime   *string `json:"startTime" validate:"omitempty,datetime=15:04"`
	EndTime     *string `json:"endTime" validate:"omitempty,datetime=15:04"`
	Duration    *string `json:"duration" validate:"omitempty,max=32"`
	Location    *string `json:"location" validate:"omitempty,max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	CourseType  *string `json:"courseType" validate:"omitempty,max=32"`
}

func (p SessionPatch) apply(s *Session) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&s.Title, p.Title)
	set(&s.CourseCode, p.CourseCode)
	set(&s.Date, p.Date)
	set(&s.StartTime, p.StartTime)
	set(&s.EndTime, p.EndTime)
	set(&s.Duration, p.Duration)
	set(&s.Location, p.Location)
	set(&s.Description, p.Description)
	set(&s.CourseType, p.CourseType)
}

// Record is one entry of the append-only attendance log.
type Record struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"studentId"`
	SessionID   int64     `json:"sessionId"`
	SessionName string    `json:"sessionName"`
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"`
}

// CodeBundle is returned by Codes.Generate.
type CodeBundle struct {
	Code              string    `json:"qrCode"`
	ManualCode        string    `json:"manualCode"`
	Expiry            time.Time `json:"expiry"`
	ExpirationMinutes int       `json:"expirationMinutes"`
}

// Result is the structured outcome handed to the presentation layer.
type Result struct {
	Success bool    `json:"success"`
	Message string  `json:"message,omitempty"`
	Kind    string  `json:"kind,omitempty"`
	User    *User   `json:"user,omitempty"`
	Record  *Record `json:"record,omitempty"`
}
