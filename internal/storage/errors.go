package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicate is returned when a unique constraint is violated, such as
// registering two agents with the same name.
var ErrDuplicate = errors.New("storage: duplicate")
