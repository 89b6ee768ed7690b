package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error categories. Every error returned by the service unwraps to at most one of these.
var (
	ErrValidation   = errors.New("validation failed")
	ErrInvalidState = errors.New("invalid state")
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func newKind(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

var (
	// ErrSessionNotFound is returned for an unknown session id or join code.
	ErrSessionNotFound = newKind(ErrNotFound, "quiz session not found")
	// ErrQuestionNotFound is returned for an unknown question id.
	ErrQuestionNotFound = newKind(ErrNotFound, "question not found")
	// ErrPlayerNotFound is returned for an unknown player id or a player of another session.
	ErrPlayerNotFound = newKind(ErrNotFound, "player not found")
	// ErrAnswerNotFound is returned when a player has not answered a question.
	ErrAnswerNotFound = newKind(ErrNotFound, "answer not found")

	// ErrUsernameTaken is returned when the username already exists in the session.
	ErrUsernameTaken = newKind(ErrConflict, "username already taken")
	// ErrDuplicateAnswer is returned for a second answer to the same question.
	ErrDuplicateAnswer = newKind(ErrConflict, "answer already submitted")
	// ErrJoinCodeTaken is returned by repositories when a generated code collides.
	ErrJoinCodeTaken = newKind(ErrConflict, "join code already in use")
	// ErrCursorMoved is returned when another advance won the race.
	ErrCursorMoved = newKind(ErrConflict, "question cursor moved concurrently")

	// ErrSessionClosed is returned when joining a completed session.
	ErrSessionClosed = newKind(ErrInvalidState, "quiz session has ended")
	// ErrQuestionClosed is returned for answers outside the question window.
	ErrQuestionClosed = newKind(ErrInvalidState, "question is not accepting answers")
	// ErrNoQuestions is returned when starting a session without questions.
	ErrNoQuestions = newKind(ErrInvalidState, "quiz session has no questions")
)

// ValidationError reports bad input before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidStateError reports a transition attempted from the wrong state.
type InvalidStateError struct {
	Op      string
	Current SessionStatus
	Allowed []SessionStatus
}

func (e *InvalidStateError) Error() string {
	allowed := make([]string, 0, len(e.Allowed))
	for _, s := range e.Allowed {
		allowed = append(allowed, string(s))
	}
	return fmt.Sprintf("cannot %s a %s session (allowed: %s)", e.Op, e.Current, strings.Join(allowed, ", "))
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// Error codes surfaced to clients.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeInvalidState = "INVALID_STATE"
	CodeConflict     = "CONFLICT"
	CodeNotFound     = "NOT_FOUND"
	CodeInternal     = "INTERNAL_ERROR"
)

// Code classifies err into one of the client-facing codes.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	default:
		return CodeInternal
	}
}
