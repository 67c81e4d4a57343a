package backend

import "errors"

// Failure kinds surfaced by the facade. Every returned error wraps exactly one of
// these together with the provider's own error, so both errors.Is and the provider
// message survive.
var (
	// ErrAuth indicates a session or credential problem.
	ErrAuth = errors.New("authentication failed")
	// ErrCreation indicates a write sequence failed partway.
	ErrCreation = errors.New("creation failed")
	// ErrQuery indicates a read or list operation failed.
	ErrQuery = errors.New("query failed")
	// ErrUpload indicates a blob upload failed.
	ErrUpload = errors.New("upload failed")
	// ErrValidation indicates the caller passed an unusable argument.
	ErrValidation = errors.New("invalid argument")
	// ErrNotFound indicates an expected derived resource is missing.
	ErrNotFound = errors.New("not found")
	// ErrDataIntegrity indicates the stored data violates an expected uniqueness rule.
	ErrDataIntegrity = errors.New("data integrity violation")
)
