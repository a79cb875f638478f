package domain

import "errors"

// ErrUnknownCollection is returned for collection names outside the registry.
var ErrUnknownCollection = errors.New("unknown collection")

// ValidationError reports an entity field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return e.Field + " " + e.Reason
}
