package attendance

import (
	"errors"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"classattend/internal/sharedstore"
)

var (
	// ErrNotFound is returned when a session id does not exist.
	ErrNotFound = errors.New("attendance: session not found")
	// ErrInvalidCredentials is returned by Authenticate on an unknown email or wrong password.
	ErrInvalidCredentials = errors.New("attendance: invalid credentials")
	// ErrInvalidCode is returned when no active session holds the submitted code.
	ErrInvalidCode = errors.New("attendance: invalid code")
	// ErrExpiredCode is returned when the matching session's code has run out.
	ErrExpiredCode = errors.New("attendance: code expired")
	// ErrAlreadyRedeemed is returned when the student is already credited for the session.
	ErrAlreadyRedeemed = errors.New("attendance: already redeemed")
)

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	FieldErrors map[string]string
}

func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for f := range v.FieldErrors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

func newValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		out.add(fe.Field(), fe.Tag())
	}
	return out
}

// ErrorKind maps errors to a stable label for logs, metrics and results.
func ErrorKind(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, ErrExpiredCode):
		return "expired_code"
	case errors.Is(err, ErrAlreadyRedeemed):
		return "already_redeemed"
	case errors.As(err, &verr):
		return "invalid_input"
	case errors.Is(err, sharedstore.ErrTooManyConflicts):
		return "conflict"
	default:
		return "internal"
	}
}

// Message is the human readable text shown for err.
func Message(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "Session not found"
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid credentials"
	case errors.Is(err, ErrInvalidCode):
		return "Invalid QR code"
	case errors.Is(err, ErrExpiredCode):
		return "QR code has expired"
	case errors.Is(err, ErrAlreadyRedeemed):
		return "Attendance already marked"
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, sharedstore.ErrTooManyConflicts):
		return "Too many simultaneous updates, please retry"
	default:
		return "Something went wrong"
	}
}

func failure(err error) Result {
	return Result{Success: false, Message: Message(err), Kind: ErrorKind(err)}
}
