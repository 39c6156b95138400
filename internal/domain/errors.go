package domain

import "errors"

var (
	ErrIllegalTransition  = errors.New("transfer: illegal state transition")
	ErrInvalidStateValue  = errors.New("transfer: invalid state value")
	ErrInvalidKind        = errors.New("transfer: invalid kind")
	ErrInvalidAmount      = errors.New("transfer: amount must be a non-negative integer")
	ErrEnvironmentFailure = errors.New("environment failure")
)
