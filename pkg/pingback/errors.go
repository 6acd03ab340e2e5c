package pingback

import (
	"fmt"

	"github.com/WhileEndless/go-pingback/pkg/xmlrpc"
)

// Fault codes defined by the Pingback 1.0 protocol.
const (
	CodeSourceMissing     = 16
	CodeNoLink            = 17
	CodeTargetMissing     = 32
	CodeTargetInvalid     = 33
	CodeAlreadyRegistered = 48
	CodeAccessDenied      = 49
)

var defaultMessages = map[int]string{
	CodeSourceMissing:     "source URL does not exist",
	CodeNoLink:            "The source URL does not contain a link to the target URL",
	CodeTargetMissing:     "The specified target URL does not exist",
	CodeTargetInvalid:     "The specified target URL cannot be used as a target",
	CodeAlreadyRegistered: "The pingback has already been registered",
	CodeAccessDenied:      "Access Denied",
}

// Error is a protocol level pingback failure. It crosses the wire as an
// XML-RPC fault with the same code.
type Error struct {
	Code int
	// Detail overrides the default message sent to the remote side.
	Detail string
}

// NewError returns an Error for code. detail may be empty.
func NewError(code int, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

func (e *Error) Error() string {
	return fmt.Sprintf("pingback error %d: %s", e.Code, e.InternalMessage())
}

// IgnoreSilently reports whether a user who triggered an outbound pingback
// needs to hear about this error.
func (e *Error) IgnoreSilently() bool {
	switch e.Code {
	case CodeNoLink, CodeTargetInvalid, CodeAlreadyRegistered, CodeAccessDenied:
		return true
	}
	return false
}

// MeansMissing reports whether the resource is missing or does not accept
// pingbacks, in which case another handler may still take the ping.
func (e *Error) MeansMissing() bool {
	return e.Code == CodeTargetMissing || e.Code == CodeTargetInvalid
}

// InternalMessage is the text sent as the fault string.
func (e *Error) InternalMessage() string {
	if e.Detail != "" {
		return e.Detail
	}
	if msg, ok := defaultMessages[e.Code]; ok {
		return msg
	}
	return "server error"
}

// Message is the text shown to a user.
func (e *Error) Message() string {
	if msg, ok := defaultMessages[e.Code]; ok {
		return msg
	}
	return fmt.Sprintf("An unknown server error (%d) occurred", e.Code)
}

// Fault converts e to its XML-RPC form.
func (e *Error) Fault() *xmlrpc.Fault {
	return &xmlrpc.Fault{Code: e.Code, String: e.InternalMessage()}
}
