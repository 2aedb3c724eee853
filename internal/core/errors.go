package core

import "errors"

// Error codes for client-visible errors.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeRateLimited  = "rate_limited"
)

var (
	// ErrAuthRejected is returned when a credential does not yield an identity.
	ErrAuthRejected = errors.New("auth rejected")
	// ErrQueueUnavailable is returned when the durable broker cannot be reached.
	ErrQueueUnavailable = errors.New("queue unavailable")
	// ErrPersistenceFailed is returned when the storage collaborator rejects a write.
	ErrPersistenceFailed = errors.New("persistence failed")
	// ErrTransportSendFailed is returned when an event cannot be handed to a connection.
	ErrTransportSendFailed = errors.New("transport send failed")
	// ErrMalformedFrame is returned for inbound frames that cannot be decoded.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrMessageNotFound is returned when a message does not exist in the given channel.
	ErrMessageNotFound = errors.New("message not found")
	// ErrConnClosed is returned when sending to a connection that is already closed.
	ErrConnClosed = errors.New("connection closed")
	// ErrBackplaneUnavailable is returned when the pub/sub medium cannot be reached.
	ErrBackplaneUnavailable = errors.New("backplane unavailable")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// ErrorFor maps a sentinel error to a client-visible CoreError.
func ErrorFor(err error) *CoreError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAuthRejected):
		return coreError(ErrCodeUnauthorized, "authentication required")
	case errors.Is(err, ErrMalformedFrame):
		return coreError(ErrCodeBadRequest, "malformed frame")
	case errors.Is(err, ErrQueueUnavailable), errors.Is(err, ErrBackplaneUnavailable):
		return coreError(ErrCodeUnavailable, "service temporarily unavailable")
	default:
		return coreError("internal", err.Error())
	}
}
