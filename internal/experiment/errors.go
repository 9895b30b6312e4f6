package experiment

import "errors"

var (
	// ErrInvalidArgument is returned for requests that can never succeed:
	// an empty experiment name, an empty condition set, or a malformed weight.
	ErrInvalidArgument = errors.New("experiment: invalid argument")

	// ErrTagLookup wraps failures of the sticky tag collaborator.
	ErrTagLookup = errors.New("experiment: sticky tag lookup failed")
)
