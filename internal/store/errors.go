package store

import "errors"

var (
	// ErrRecordNotFound wraps GORM's not found error for consistency
	ErrRecordNotFound = errors.New("record not found")

	// ErrConcurrentUpdate is returned by UpdateAuthorization when the record's
	// version changed between read and write (0 rows updated).
	ErrConcurrentUpdate = errors.New("authorization was modified concurrently")

	// ErrNoChange may be returned by an update callback to skip the write
	ErrNoChange = errors.New("no change")
)
