// Package common provides shared constants, types, and utilities
// used across tunnelbar.
package common

import "errors"

// Sentinel errors for tunnel operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Tunnel errors.
	ErrTunnelNotFound = errors.New("tunnel not found")
	ErrDuplicateName  = errors.New("tunnel name already exists")
	ErrInvalidName    = errors.New("invalid tunnel name")
	ErrTunnelActive   = errors.New("tunnel is not inactive")
	ErrInvalidConfig  = errors.New("invalid tunnel configuration")

	// Backend errors.
	ErrActivationFailed   = errors.New("activation failed")
	ErrDeactivationFailed = errors.New("deactivation failed")
	ErrBackendUnavailable = errors.New("wg-quick is not installed")

	// Credential errors.
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrCredentialStorage   = errors.New("failed to store credentials")
	ErrEncryption          = errors.New("encryption error")
	ErrDecryption          = errors.New("decryption error")

	// Configuration errors.
	ErrConfigLoad = errors.New("failed to load configuration")
	ErrConfigSave = errors.New("failed to save configuration")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
