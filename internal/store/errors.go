package store

import (
	"errors"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a unique constraint.
var ErrConflict = errors.New("conflict")

// ErrStale is returned when a conditional write matched no row because the
// record changed underneath the caller.
var ErrStale = errors.New("stale write")

const uniqueViolation = "23505"

func translate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}
