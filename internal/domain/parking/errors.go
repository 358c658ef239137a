package parking

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrState      = errors.New("invalid state")
	ErrUpstream   = errors.New("upstream error")
)
