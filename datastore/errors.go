package datastore

import (
	"errors"
	"fmt"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrRecordExists   = errors.New("record already exists")

	// ErrVersionConflict is returned when a record was modified concurrently, i.e. the version a
	// writer based its change on is no longer the stored version.
	ErrVersionConflict = errors.New("record version conflict")
)

func newVersionConflict(key string, stored, expected uint64) error {
	return fmt.Errorf("%w: key %q is at version %d, expected %d", ErrVersionConflict, key, stored, expected)
}
