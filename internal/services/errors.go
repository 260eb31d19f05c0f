package services

import "errors"

// Errors raised before any remote call is attempted. Handlers translate
// these to 400/409 responses.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("incoming port conflict")
)
