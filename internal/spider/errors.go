package spider

import "errors"

var (
	// ErrNoStartURLs is returned when a spider is built without seeds.
	ErrNoStartURLs = errors.New("spider has no start urls")

	// ErrUnknownCallback is returned when a request names a callback the
	// spider does not have.
	ErrUnknownCallback = errors.New("unknown spider callback")

	// ErrEmptyName is returned for a spider or callback without a name.
	ErrEmptyName = errors.New("name is empty")

	// ErrDuplicateCallback is returned when a callback name is registered
	// twice.
	ErrDuplicateCallback = errors.New("callback already registered")
)
