package caresession

import "errors"

// Common errors for session store operations.
var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidStoreType = errors.New("invalid store type")
	ErrNotActive        = errors.New("session not in ACTIVE state")
	ErrNotFound         = errors.New("not found")
)
