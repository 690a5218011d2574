package camera

import "fmt"

// ErrorCode classifies capture failures.
type ErrorCode string

// Error codes for capture operations.
const (
	CodeDeviceOpen           ErrorCode = "DEVICE_OPEN"
	CodeFormatNegotiation    ErrorCode = "FORMAT_NEGOTIATION"
	CodeFrameRateUnsupported ErrorCode = "FRAME_RATE_UNSUPPORTED"
	CodeBufferAllocation     ErrorCode = "BUFFER_ALLOCATION"
	CodeStreamStart          ErrorCode = "STREAM_START"
	CodeHardwareRead         ErrorCode = "HARDWARE_READ"
	CodeDecode               ErrorCode = "DECODE"
)

// Sentinels for errors.Is. They match any *Error carrying the same code.
var (
	ErrDeviceOpen           = &Error{Code: CodeDeviceOpen}
	ErrFormatNegotiation    = &Error{Code: CodeFormatNegotiation}
	ErrFrameRateUnsupported = &Error{Code: CodeFrameRateUnsupported}
	ErrBufferAllocation     = &Error{Code: CodeBufferAllocation}
	ErrStreamStart          = &Error{Code: CodeStreamStart}
	ErrHardwareRead         = &Error{Code: CodeHardwareRead}
	ErrDecode               = &Error{Code: CodeDecode}
)

// Error is a capture failure. Everything except CodeDecode leaves the
// device unusable until a fresh Init.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}
