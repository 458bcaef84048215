package service

import (
	"errors"
	"fmt"

	"filevault/internal/server/database"
)

// Sentinel errors for the service layer.
var (
	ErrNotFound           = errors.New("not found")
	ErrLinkExpired        = errors.New("share link has expired")
	ErrConflict           = errors.New("name is already in use")
	ErrValidation         = errors.New("invalid request")
	ErrUnauthorized       = errors.New("authentication required")
	ErrForbidden          = errors.New("access denied")
	ErrContentMissing     = errors.New("file content is missing")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// mapRepoError translates repository sentinels into service sentinels.
func mapRepoError(err error) error {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, database.ErrConflict):
		return ErrConflict
	default:
		return err
	}
}
