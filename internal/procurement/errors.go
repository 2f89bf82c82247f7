package procurement

import "errors"

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("procurement: not found")
	// ErrVersionConflict is returned when a compare-and-swap update lost to a concurrent writer.
	ErrVersionConflict = errors.New("procurement: version conflict")
	// ErrDuplicate is returned when an insert violates a uniqueness constraint.
	ErrDuplicate = errors.New("procurement: duplicate record")
)
