package platform

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a failure reported by the backend provider. Its message is the provider's
// own text so that callers can tell failure causes apart.
type Error struct {
	Code    int
	Type    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Type != "" {
		return e.Type
	}
	return fmt.Sprintf("platform error %d", e.Code)
}

// Errorf builds an Error with the given status code and type.
func Errorf(code int, typ, format string, args ...any) *Error {
	return &Error{Code: code, Type: typ, Message: fmt.Sprintf(format, args...)}
}

// IsNotFound reports whether err is a provider 404.
func IsNotFound(err error) bool { return hasCode(err, http.StatusNotFound) }

// IsUnauthorized reports whether err is a provider 401.
func IsUnauthorized(err error) bool { return hasCode(err, http.StatusUnauthorized) }

// IsConflict reports whether err is a provider 409.
func IsConflict(err error) bool { return hasCode(err, http.StatusConflict) }

func hasCode(err error, code int) bool {
	var pErr *Error
	return errors.As(err, &pErr) && pErr.Code == code
}
