package module

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error is the wire form of a resolution failure. Code and Data survive
// every hop, so callers can match failures with errors.Is regardless of how
// many loaders the error passed through.
type Error struct {
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

// Is matches any *Error carrying the same non-empty code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code != "" && t.Code == e.Code
}

var (
	ErrModuleNotFound    = &Error{Code: "ERR_MODULE_NOT_FOUND", Message: "module not found"}
	ErrUnsupportedScheme = &Error{Code: "ERR_UNSUPPORTED_SCHEME", Message: "can only expose local files"}
	ErrChannelClosed     = &Error{Code: "ERR_CHANNEL_CLOSED", Message: "channel closed"}
	ErrInvalidDescriptor = &Error{Code: "ERR_INVALID_DESCRIPTOR", Message: "invalid descriptor"}
	ErrLoaderFailed      = &Error{Code: "ERR_LOADER_FAILED", Message: "loader failed"}
)

// Errorf creates an error with kind's code and a formatted message.
func Errorf(kind *Error, format string, args ...any) *Error {
	return &Error{Code: kind.Code, Message: fmt.Sprintf(format, args...)}
}

// DataError is implemented by errors that carry a structured payload.
type DataError interface {
	error
	ErrorData() any
}

// AsError converts err into its wire form. The message is err's full text;
// code and data come from the outermost *Error or DataError in the chain.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e == err {
			clone := *e
			return &clone
		}
		return &Error{Code: e.Code, Message: err.Error(), Data: e.Data}
	}
	out := &Error{Message: err.Error()}
	var de DataError
	if errors.As(err, &de) {
		if b, merr := json.Marshal(de.ErrorData()); merr == nil {
			out.Data = b
		}
	}
	return out
}
