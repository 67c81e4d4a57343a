package selfhost

import (
	"errors"
	"net/http"

	"github.com/bakaf/pixel/internal/platform"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates the attempted write would violate a uniqueness constraint.
	ErrConflict = errors.New("record conflict")
	// ErrSessionNotFound indicates the session token does not map to a stored session.
	ErrSessionNotFound = errors.New("session not found")
)

// Errors returned to the backend layer carry the same codes and types the hosted
// platform uses so callers cannot tell providers apart.
var (
	errGuest = platform.Errorf(http.StatusUnauthorized, "general_unauthorized_scope", "User (role: guests) missing scope (account)")

	errInvalidCredentials = platform.Errorf(http.StatusUnauthorized, "user_invalid_credentials", "Invalid credentials. Please check the email and password.")

	errSessionActive = platform.Errorf(http.StatusUnauthorized, "user_session_already_exists", "Creation of a session is prohibited when a session is active.")

	errSessionNotFound = platform.Errorf(http.StatusNotFound, "user_session_not_found", "The current user session could not be found.")

	errUserExists = platform.Errorf(http.StatusConflict, "user_already_exists", "A user with the same id, email, or phone already exists in this project.")

	errDocumentExists = platform.Errorf(http.StatusConflict, "document_already_exists", "Document with the requested ID already exists.")

	errFileNotFound = platform.Errorf(http.StatusNotFound, "storage_file_not_found", "The requested file could not be found.")
)

func invalidQuery(format string, args ...any) error {
	return platform.Errorf(http.StatusBadRequest, "general_query_invalid", format, args...)
}

func invalidArgument(format string, args ...any) error {
	return platform.Errorf(http.StatusBadRequest, "general_argument_invalid", format, args...)
}
