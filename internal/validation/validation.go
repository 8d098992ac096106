// Package validation holds the field validators applied to a submission
// before anything touches storage. Every validator is a pure function that
// returns the cleaned value or a *FieldError carrying a user-facing message.
package validation

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidInput is matched (via errors.Is) by every *FieldError.
var ErrInvalidInput = errors.New("invalid input")

// Field bounds, in characters (runes).
const (
	NameMinLen    = 2
	NameMaxLen    = 100
	EmailMaxLen   = 150
	MessageMaxLen = 1000
)

// User-facing messages. They are returned verbatim in HTTP 400 bodies.
const (
	MsgNameRequired   = "Le nom est requis"
	MsgNameTooShort   = "Le nom est trop court (minimum 2 caractères)"
	MsgNameTooLong    = "Le nom est trop long (maximum 100 caractères)"
	MsgNameLetters    = "Le nom doit contenir uniquement des lettres"
	MsgEmailRequired  = "L'email est requis"
	MsgEmailFormat    = "Le format de l'email est incorrect"
	MsgEmailTooLong   = "L'email est trop long"
	MsgMessageType    = "Le message doit être un texte"
	MsgMessageTooLong = "Le message est trop long (maximum 1000 caractères)"
)

var (
	// Arabic block, ASCII letters, Latin-1 letters (À..ÿ) and whitespace.
	// RE2's \s is ASCII only, so Unicode separators are listed explicitly.
	nameRE  = regexp.MustCompile(`^[\x{0600}-\x{06FF}a-zA-Z\x{00C0}-\x{00FF}\s\p{Z}\x{0085}\x{001C}-\x{001F}]+$`)
	emailRE = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// FieldError reports the first rule a field broke.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Message }

// Is makes errors.Is(err, ErrInvalidInput) true for any FieldError.
func (e *FieldError) Is(target error) bool { return target == ErrInvalidInput }

func invalid(field, msg string) error { return &FieldError{Field: field, Message: msg} }

// Name validates a display name. The value is NFC-normalized so decomposed
// accents count as the single letters they render as, then trimmed.
func Name(raw any) (string, error) {
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", invalid("name", MsgNameRequired)
	}
	s = strings.TrimSpace(norm.NFC.String(s))

	n := utf8.RuneCountInString(s)
	if n < NameMinLen {
		return "", invalid("name", MsgNameTooShort)
	}
	if n > NameMaxLen {
		return "", invalid("name", MsgNameTooLong)
	}
	if !nameRE.MatchString(s) {
		return "", invalid("name", MsgNameLetters)
	}
	return s, nil
}

// Email validates an address and returns it trimmed and lower-cased.
func Email(raw any) (string, error) {
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", invalid("email", MsgEmailRequired)
	}
	s = strings.ToLower(strings.TrimSpace(s))

	if !emailRE.MatchString(s) {
		return "", invalid("email", MsgEmailFormat)
	}
	if utf8.RuneCountInString(s) > EmailMaxLen {
		return "", invalid("email", MsgEmailTooLong)
	}
	return s, nil
}

// Message validates the optional free text. Absent, empty and JSON falsy
// values (null, false, 0, [], {}) are valid and yield "".
func Message(raw any) (string, error) {
	if falsy(raw) {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", invalid("message", MsgMessageType)
	}
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > MessageMaxLen {
		return "", invalid("message", MsgMessageTooLong)
	}
	return s, nil
}

func falsy(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case bool:
		return !x
	case float64:
		return x == 0
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

// Clean is a fully validated submission.
type Clean struct {
	Name    string
	Email   string
	Message string
}

// Submission runs Name, Email and Message in that order and stops at the
// first failure.
func Submission(name, email, message any) (Clean, error) {
	var (
		out Clean
		err error
	)
	if out.Name, err = Name(name); err != nil {
		return Clean{}, err
	}
	if out.Email, err = Email(email); err != nil {
		return Clean{}, err
	}
	if out.Message, err = Message(message); err != nil {
		return Clean{}, err
	}
	return out, nil
}

// MessageOf returns the user-facing message of a validation error, or "" if
// err is not one.
func MessageOf(err error) string {
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe.Message
	}
	return ""
}
