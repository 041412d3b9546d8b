// Package common defines sentinel errors shared by the object store and the
// blob storage layer. Callers should use errors.Is to match these values;
// producers wrap them with fmt.Errorf("...: %w") to keep a readable message.
package common

import "errors"

var (
	// Lookup errors.
	ErrorNotFound = errors.New("not found")

	// Write errors.
	ErrConflict       = errors.New("conflict")
	ErrorValidation   = errors.New("validation error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Backend and transfer errors.
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrUploadIncomplete   = errors.New("upload incomplete")
	ErrTransferFailed     = errors.New("transfer failed")
)
