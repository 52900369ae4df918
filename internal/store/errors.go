package store

import "errors"

var (
	ErrNotFound = errors.New("storage key not found")
	ErrClosed   = errors.New("store is closed")
)
