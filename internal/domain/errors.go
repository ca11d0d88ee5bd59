package domain

import "errors"

var (
	// ErrSessionNotFound is returned for an unknown PIN.
	ErrSessionNotFound = errors.New("session not found")
	// ErrQuizNotFound indicates the quiz definition could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrInvalidTransition is returned when the requested transition is not
	// legal for the session's current state or the acting identity.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrDuplicateSubmission indicates an answer was already recorded for
	// that (player, question) pair; first submit wins.
	ErrDuplicateSubmission = errors.New("answer already recorded")
	// ErrStaleSubmission indicates the submitted question index is not the
	// session's current question.
	ErrStaleSubmission = errors.New("question no longer open")
	// ErrPinExhausted is returned when the generator could not find a free
	// PIN within its attempt budget.
	ErrPinExhausted = errors.New("pin generation exhausted")
	// ErrTransportUnavailable indicates the room transport is not connected.
	ErrTransportUnavailable = errors.New("room transport unavailable")
	// ErrNotResolved indicates results were requested before the session
	// finished.
	ErrNotResolved = errors.New("session not finished")
)
