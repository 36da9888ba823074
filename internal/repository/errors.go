package repository

import "errors"

var (
	// ErrNotFound indicates the requested key does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrUnavailable indicates the backend cannot be reached; the storage
	// facade degrades to null reads and no-op writes on this class.
	ErrUnavailable = errors.New("repository: unavailable")
)
