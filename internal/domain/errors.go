package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrInvalidQuiz is returned when quiz content breaks catalog invariants.
	ErrInvalidQuiz = errors.New("invalid quiz")
	// ErrAlreadyAttempted blocks re-entry into a quiz the user has completed.
	ErrAlreadyAttempted = errors.New("quiz already attempted")
	// ErrSessionExpired is returned when there is no live session for the user.
	ErrSessionExpired = errors.New("quiz session expired")
	// ErrSessionActive is returned when completing a session that still has open questions.
	ErrSessionActive = errors.New("quiz still in progress")
	// ErrStaleAnswer indicates the submitted question is no longer current.
	ErrStaleAnswer = errors.New("question already answered")
	// ErrInvalidOption indicates a submitted option index is out of range.
	ErrInvalidOption = errors.New("option not found")
	// ErrPersistence wraps result store failures during completion.
	ErrPersistence = errors.New("could not save quiz result")
	// ErrAlreadyRecorded is returned by result stores when the attempted flag is already set.
	ErrAlreadyRecorded = errors.New("attempt already recorded")
	// ErrAttemptNotFound indicates there is no stored attempt for the user and quiz.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrForbidden is returned for admin-only operations.
	ErrForbidden = errors.New("admin only")
)
