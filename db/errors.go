package db

import "github.com/pkg/errors"

var (
	// ErrNotFound indicates the requested document does not exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a uniqueness conflict on insert
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict indicates a conditional transition found the document in an
	// unexpected state (e.g. claiming a withdrawal that is not APPROVED)
	ErrConflict = errors.New("state conflict")

	// ErrCapExceeded indicates a milestone release would overflow its cap
	ErrCapExceeded = errors.New("milestone cap exceeded")
)
