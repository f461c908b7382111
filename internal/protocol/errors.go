package protocol

import (
	"errors"

	"github.com/immxrtalbeast/audiosync/internal/domain"
)

// Error codes carried in ErrorInfo.Code.
const (
	CodeRoomNotFound   = "room-not-found"
	CodeDeviceNotFound = "device-not-found"
	CodeUnauthorized   = "unauthorized"
	CodeInvalidRequest = "invalid-request"
	CodeInternal       = "internal"
)

var codeErrors = map[string]error{
	CodeRoomNotFound:   domain.ErrRoomNotFound,
	CodeDeviceNotFound: domain.ErrDeviceNotFound,
	CodeUnauthorized:   domain.ErrUnauthorized,
	CodeInvalidRequest: domain.ErrInvalidRequest,
}

// CodeFor maps an error onto its wire code.
func CodeFor(err error) string {
	for code, target := range codeErrors {
		if errors.Is(err, target) {
			return code
		}
	}
	if errors.Is(err, ErrMalformed) {
		return CodeInvalidRequest
	}
	return CodeInternal
}

// ErrorMessage builds the error reply for a failed request.
func ErrorMessage(requestID string, err error) *Message {
	return &Message{
		Type:      TypeError,
		RequestID: requestID,
		Error: &ErrorInfo{
			Code:    CodeFor(err),
			Message: err.Error(),
		},
	}
}

// RemoteError is an error reported by the coordinator. It unwraps to the
// matching domain sentinel so callers can use errors.Is.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Code + ": " + e.Message
}

func (e *RemoteError) Unwrap() error {
	return codeErrors[e.Code]
}

func (i *ErrorInfo) Err() error {
	if i == nil {
		return nil
	}
	return &RemoteError{Code: i.Code, Message: i.Message}
}
