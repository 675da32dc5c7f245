package storage

import "errors"

var (
	// ErrNotFound is returned by a Backend when a key does not exist
	ErrNotFound = errors.New("record not found")

	// ErrQuotaExceeded is returned when a write would exceed the storage quota
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrAccessDenied is returned when the storage medium cannot be accessed at all
	ErrAccessDenied = errors.New("storage access denied")

	// ErrCorruptRecord is returned when a persisted record cannot be parsed
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrClosed is returned by writes after the manager has been closed
	ErrClosed = errors.New("storage manager closed")

	// ErrInvalidPrefix is returned for a namespace prefix that could nest with another
	ErrInvalidPrefix = errors.New("invalid namespace prefix")

	// ErrUnknownBackend is returned by OpenBackend for an unsupported type
	ErrUnknownBackend = errors.New("unknown storage backend")
)
