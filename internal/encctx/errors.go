package encctx

import "errors"

var (
	// ErrConfiguration is returned by New when a required collaborator is
	// missing or the session configuration is unusable.
	ErrConfiguration = errors.New("encctx: configuration error")

	// ErrInsufficientResources is returned by New when an allocation step is
	// refused by the resource guard.
	ErrInsufficientResources = errors.New("encctx: insufficient resources")
)
