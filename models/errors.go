package models

import "errors"

// ErrInvalidTransition is returned when a state machine edge is not in the
// transition table. Callers must not mutate state when they receive it.
var ErrInvalidTransition = errors.New("invalid state transition")
