package service

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// Sentinel errors for the auth flows; the HTTP handler maps them to status codes.
var (
	// ErrValidation marks missing or malformed input. Wrapped errors carry a client-safe message.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound means the identity does not exist.
	ErrNotFound = errors.New("user not found")
	// ErrConflict means the email is already registered.
	ErrConflict = errors.New("user already exists")
	// ErrInvalidCredential covers a wrong password and an invalid, expired or tampered session token.
	ErrInvalidCredential = errors.New("invalid credentials")
	// ErrInvalidOrExpired covers absent, wrong, expired and already-used OTPs and reset tokens alike.
	ErrInvalidOrExpired = errors.New("invalid or expired")
)

// CodeServerFault is the oops code of every store, hashing, randomness or signing failure.
const CodeServerFault = "SERVER_FAULT"

// ValidationError carries a client-safe message and matches ErrValidation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", ErrValidation, e.Message) }

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}

// fault wraps an internal failure so the boundary logs it in full and answers generically.
func fault(operation string, err error) error {
	return oops.
		In("auth").
		Code(CodeServerFault).
		With("operation", operation).
		Wrap(err)
}

// IsServerFault reports whether err is an internal failure rather than a domain outcome.
func IsServerFault(err error) bool {
	oe, ok := oops.AsOops(err)
	return ok && oe.Code() == CodeServerFault
}
