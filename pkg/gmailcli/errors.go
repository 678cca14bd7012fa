package gmailcli

import (
	"fmt"

	"google.golang.org/api/googleapi"
)

// Kind classifies connector failures so callers (and the CLI) can decide
// whether a condition is fatal, recoverable, or worth re-running.
type Kind int

const (
	// KindConfiguration means client config or file paths are missing or
	// invalid. Fatal, no retry.
	KindConfiguration Kind = iota
	// KindAuthorization means the interactive consent flow failed, timed
	// out, or was denied. Fatal for this run.
	KindAuthorization
	// KindRefresh means a silent token refresh failed. Recovered locally
	// by falling back to the interactive flow.
	KindRefresh
	// KindTransport means a remote Gmail call failed. Carries the remote
	// status code and message.
	KindTransport
	// KindEncoding means outbound message construction failed, e.g. an
	// unreadable attachment. Carries the offending path.
	KindEncoding
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindAuthorization:
		return "authorization"
	case KindRefresh:
		return "refresh"
	case KindTransport:
		return "transport"
	case KindEncoding:
		return "encoding"
	}
	return "unknown"
}

// Error is the connector error taxonomy. Status is only set for
// KindTransport, Path only for KindEncoding.
type Error struct {
	Kind    Kind
	Status  int
	Path    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindTransport && e.Status != 0:
		return fmt.Sprintf("%s error: %s (code: %d)", e.Kind, e.Message, e.Status)
	case e.Kind == KindEncoding && e.Path != "":
		return fmt.Sprintf("%s error: %s: %s", e.Kind, e.Message, e.Path)
	default:
		return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.cause }

// IsKind reports whether err is a connector Error of the given kind.
func IsKind(err error, k Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == k
}

func configErrorf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

func authError(cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...), cause: cause}
}

func refreshError(cause error) *Error {
	return &Error{Kind: KindRefresh, Message: "refreshing access token", cause: cause}
}

func encodingError(cause error, path string, format string, args ...interface{}) *Error {
	return &Error{Kind: KindEncoding, Path: path, Message: fmt.Sprintf(format, args...), cause: cause}
}

// transportError normalizes a Gmail API failure. googleapi errors keep
// their remote status and machine-readable message; anything else
// (network, malformed response) becomes a status-less transport error.
func transportError(err error, op string) error {
	if err == nil {
		return nil
	}
	if ge, ok := err.(*googleapi.Error); ok {
		msg := ge.Message
		if msg == "" {
			msg = fmt.Sprintf("%s failed", op)
		}
		return &Error{Kind: KindTransport, Status: ge.Code, Message: msg, cause: err}
	}
	return &Error{Kind: KindTransport, Message: fmt.Sprintf("%s: %v", op, err), cause: err}
}
