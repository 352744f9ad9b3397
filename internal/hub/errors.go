package hub

import "fmt"

// Code categorizes an error surfaced to the sending client.
type Code string

const (
	// CodeInvalidFormat indicates a malformed payload or a missing required field.
	CodeInvalidFormat Code = "INVALID_FORMAT"
	// CodeNoUsername indicates the sender has not established an identity yet.
	CodeNoUsername Code = "NO_USERNAME"
	// CodeTargetNotFound indicates the addressed username is not connected.
	CodeTargetNotFound Code = "TARGET_NOT_FOUND"
	// CodePayloadTooLarge indicates a metadata patch over the configured size limit.
	CodePayloadTooLarge Code = "PAYLOAD_TOO_LARGE"
	// CodeContentTooLarge indicates notification content over the configured size limit.
	CodeContentTooLarge Code = "CONTENT_TOO_LARGE"
	// CodeRateLimited indicates the sender exceeded the inbound message rate.
	CodeRateLimited Code = "RATE_LIMITED"
)

// Error is a client-facing error. The hub converts it into a system:error
// event (or a negative acknowledgment, depending on the message family);
// it never terminates the serving loop.
type Error struct {
	Code    Code
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Payload returns the wire representation carried by system:error events.
func (e *Error) Payload() map[string]any {
	return map[string]any{
		"code":    string(e.Code),
		"message": e.Message,
	}
}

func invalidFormat(message string) *Error {
	return &Error{Code: CodeInvalidFormat, Message: message}
}

func noUsername() *Error {
	return &Error{Code: CodeNoUsername, Message: "set a username before sending messages"}
}

func payloadTooLarge(size, limit int) *Error {
	return &Error{Code: CodePayloadTooLarge, Message: fmt.Sprintf("payload is %d bytes, limit is %d", size, limit)}
}

func contentTooLarge(size, limit int) *Error {
	return &Error{Code: CodeContentTooLarge, Message: fmt.Sprintf("content is %d bytes, limit is %d", size, limit)}
}
