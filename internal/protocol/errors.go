package protocol

// ErrorCode is the programmatic error code surfaced in ERROR envelopes. The
// taxonomy groups by source (validation, authorization, state, rate, auth,
// transport, internal); it is never broadcast, only returned to the sender.
type ErrorCode string

const (
	// Validation
	ErrInvalidMessage  ErrorCode = "INVALID_MESSAGE"
	ErrTooLong         ErrorCode = "TOO_LONG"
	ErrInvalidCategory ErrorCode = "INVALID_CATEGORY"
	ErrBadRoomCode     ErrorCode = "BAD_ROOM_CODE"

	// Authorization
	ErrNotHost      ErrorCode = "NOT_HOST"
	ErrNotYourTurn  ErrorCode = "NOT_YOUR_TURN"
	ErrNotRequester ErrorCode = "NOT_REQUESTER"

	// State
	ErrRoomFull               ErrorCode = "ROOM_FULL"
	ErrDuplicate              ErrorCode = "DUPLICATE"
	ErrInsufficientPlayers    ErrorCode = "INSUFFICIENT_PLAYERS"
	ErrNoRolls                ErrorCode = "NO_ROLLS"
	ErrAlreadyScored          ErrorCode = "ALREADY_SCORED"
	ErrDuplicateRequest       ErrorCode = "DUPLICATE_REQUEST"
	ErrExpired                ErrorCode = "EXPIRED"
	ErrNotFound               ErrorCode = "NOT_FOUND"
	ErrInvalidStatusTransition ErrorCode = "INVALID_STATUS_TRANSITION"
	ErrMessageNotFound        ErrorCode = "MESSAGE_NOT_FOUND"

	// Rate
	ErrRateLimited ErrorCode = "RATE_LIMITED"

	// Auth (HTTP 401 pre-upgrade, never mid-session)
	ErrMissingToken     ErrorCode = "MISSING_TOKEN"
	ErrTokenExpired     ErrorCode = "EXPIRED_TOKEN"
	ErrInvalidSignature ErrorCode = "INVALID_SIGNATURE"
	ErrInvalidClaims    ErrorCode = "INVALID_CLAIMS"
	ErrJWKSError        ErrorCode = "JWKS_ERROR"

	// Transport
	ErrProtocolMismatch  ErrorCode = "PROTOCOL_MISMATCH"
	ErrHeartbeatTimeout  ErrorCode = "HEARTBEAT_TIMEOUT"

	// Internal
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// Error is the payload of an ERROR envelope. RemainingMs is populated only
// for RATE_LIMITED responses; it is the hint clients use to back off.
type Error struct {
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	RemainingMs *int64    `json:"remainingMs,omitempty"`
}

func NewError(code ErrorCode, message string) Error {
	return Error{Code: code, Message: message}
}

func NewRateLimitError(message string, remainingMs int64) Error {
	return Error{Code: ErrRateLimited, Message: message, RemainingMs: &remainingMs}
}

func (e Error) Error() string {
	return string(e.Code) + ": " + e.Message
}
