package services

import "errors"

// ErrValidation is returned when a request is missing or carries
// malformed required fields. Wrapped with detail via fmt.Errorf and %w.
var ErrValidation = errors.New("invalid request")

// ErrForbidden is returned when the acting identity does not own the
// resource it is trying to mutate.
var ErrForbidden = errors.New("forbidden")
