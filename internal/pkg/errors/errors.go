package errors

import "errors"

var (
	// ErrOwnerGone is returned by job checkpoints whose Generation was deleted
	// or already left the processing state.
	ErrOwnerGone = errors.New("owning generation is gone")
	// ErrLeaseLost means another attempt of the same job owns it now.
	ErrLeaseLost = errors.New("job lease lost")
)
