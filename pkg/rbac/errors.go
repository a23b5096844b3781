package rbac

import "errors"

var (
	// ErrUnauthenticated is returned when a check is made without a user
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNotFound is returned when a permission, role, assignment or override does not exist
	ErrNotFound = errors.New("not found")

	// ErrImmutable is returned when updating or deleting a system permission or role
	ErrImmutable = errors.New("immutable")

	// ErrInvalidEffect is returned for override effects other than allow and deny
	ErrInvalidEffect = errors.New("invalid override effect")

	// ErrConflict is returned when creating a role whose slug is taken in its tenant
	ErrConflict = errors.New("already exists")

	// ErrInvalidInput is returned when a write is missing required fields
	ErrInvalidInput = errors.New("invalid input")
)
