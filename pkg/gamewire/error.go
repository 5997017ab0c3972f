package gamewire

// Error codes for session-level failures. The session layer reports these to
// the offending caller; they never terminate the owning game task.
const (
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidState      = "INVALID_STATE"
	CodeValidationFailure = "VALIDATION_FAILURE"
	CodeAlreadyTerminated = "ALREADY_TERMINATED"
)

// DomainError is the engine-facing error value. Comparable, so callers can use
// errors.Is against the package sentinels.
type DomainError struct {
	Code    string
	Message string
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "game engine error"
}

var (
	ErrGameNotFound      = DomainError{Code: CodeNotFound, Message: "unknown game id"}
	ErrClockNotFound     = DomainError{Code: CodeNotFound, Message: "clock not initialized for game id"}
	ErrAlreadyRunning    = DomainError{Code: CodeInvalidState, Message: "clock already running"}
	ErrNotRunning        = DomainError{Code: CodeInvalidState, Message: "clock not running"}
	ErrNotYourTurn       = DomainError{Code: CodeInvalidState, Message: "not this player's turn"}
	ErrNotParticipant    = DomainError{Code: CodeInvalidState, Message: "player is not in this game"}
	ErrMalformedMove     = DomainError{Code: CodeValidationFailure, Message: "malformed move record"}
	ErrBadDigest         = DomainError{Code: CodeValidationFailure, Message: "unparseable position digest"}
	ErrAlreadyTerminated = DomainError{Code: CodeAlreadyTerminated, Message: "game already terminated"}
)

// HasCode reports whether err is a DomainError carrying the given code.
func HasCode(err error, code string) bool {
	de, ok := err.(DomainError)
	return ok && de.Code == code
}
